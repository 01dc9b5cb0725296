package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDFER/LED-Rails-Backend/config"
	"github.com/CDFER/LED-Rails-Backend/geo"
	"github.com/CDFER/LED-Rails-Backend/gtfsrt"
	"github.com/CDFER/LED-Rails-Backend/trackblocks"
)

func testOpts() config.ProcessingOptions {
	return config.ProcessingOptions{
		DisplayThreshold:           300,
		SmoothingFactor:            0.95,
		StopDepartureWindowMinutes: 10,
	}
}

func squareBlock(num int, latMin, lonMin float64) *trackblocks.TrackBlock {
	return &trackblocks.TrackBlock{
		BlockNumber: num,
		Name:        "block",
		Polygon: []geo.Point{
			{Lat: latMin, Lon: lonMin},
			{Lat: latMin, Lon: lonMin + 0.01},
			{Lat: latMin + 0.01, Lon: lonMin + 0.01},
			{Lat: latMin + 0.01, Lon: lonMin},
		},
	}
}

func positionEntity(vid, route string, lat, lon float64, ts int64) *gtfsrt.Entity {
	return &gtfsrt.Entity{
		ID: vid,
		Vehicle: &gtfsrt.VehiclePosition{
			Trip:      &gtfsrt.TripDescriptor{TripID: route + "-trip", RouteID: route},
			Vehicle:   &gtfsrt.VehicleDescriptor{ID: vid},
			Position:  &gtfsrt.Position{Latitude: lat, Longitude: lon},
			Timestamp: gtfsrt.FlexInt64(ts),
		},
	}
}

func TestSingleTrainSingleBlock(t *testing.T) {
	const now = int64(1700000000)
	blocks := trackblocks.NewMap([]*trackblocks.TrackBlock{squareBlock(101, -36.85, 174.76)})
	tr := NewTracker(blocks, testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST-201", -36.846, 174.765, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})

	trains := tr.Trains()
	require.Len(t, trains, 1)
	ti := trains[0]
	require.NotNil(t, ti.CurrentBlock)
	assert.Equal(t, 101, *ti.CurrentBlock)
	require.NotNil(t, ti.PreviousBlock)
	assert.Equal(t, 0, *ti.PreviousBlock, "no predecessor yields the 0 sentinel")
}

func TestTrainLeavesPolygon(t *testing.T) {
	const now = int64(1700000000)
	blocks := trackblocks.NewMap([]*trackblocks.TrackBlock{squareBlock(101, -36.85, 174.76)})
	tr := NewTracker(blocks, testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST-201", -36.846, 174.765, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST-201", -36.830, 174.765, now+20)}, now+20)
	tr.AssignBlocks(now+20, map[string]bool{})

	ti := tr.Trains()[0]
	assert.Nil(t, ti.CurrentBlock)
	assert.Nil(t, ti.PreviousBlock)
}

func TestStickyBlockSetsPrevious(t *testing.T) {
	const now = int64(1700000000)
	blocks := trackblocks.NewMap([]*trackblocks.TrackBlock{squareBlock(101, -36.85, 174.76)})
	tr := NewTracker(blocks, testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", -36.846, 174.765, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})
	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", -36.847, 174.766, now+20)}, now+20)
	tr.AssignBlocks(now+20, map[string]bool{})

	ti := tr.Trains()[0]
	require.NotNil(t, ti.CurrentBlock)
	assert.Equal(t, 101, *ti.CurrentBlock)
	require.NotNil(t, ti.PreviousBlock)
	assert.Equal(t, 101, *ti.PreviousBlock)
}

func TestStaleTrainClearsBlocks(t *testing.T) {
	const now = int64(1700000000)
	blocks := trackblocks.NewMap([]*trackblocks.TrackBlock{squareBlock(101, -36.85, 174.76)})
	tr := NewTracker(blocks, testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", -36.846, 174.765, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})
	require.NotNil(t, tr.Trains()[0].CurrentBlock)

	// Same entity, but the clock has moved past the display threshold.
	tr.AssignBlocks(now+400, map[string]bool{})
	assert.Nil(t, tr.Trains()[0].CurrentBlock)
	assert.Nil(t, tr.Trains()[0].PreviousBlock)
}

func TestZeroPositionNeverAssigned(t *testing.T) {
	const now = int64(1700000000)
	world := squareBlock(7, -0.005, -0.005)
	blocks := trackblocks.NewMap([]*trackblocks.TrackBlock{world})
	tr := NewTracker(blocks, testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", 0, 0, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})
	assert.Nil(t, tr.Trains()[0].CurrentBlock)
}

func TestRouteFilterBlocksWrongRoute(t *testing.T) {
	const now = int64(1700000000)
	b := squareBlock(101, -36.85, 174.76)
	b.Routes = []string{"WEST"}
	tr := NewTracker(trackblocks.NewMap([]*trackblocks.TrackBlock{b}), testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST-201", -36.846, 174.765, now)}, now)
	tr.AssignBlocks(now, map[string]bool{})
	assert.Nil(t, tr.Trains()[0].CurrentBlock)
}

func TestTwoTrainsSameBlockAltBlock(t *testing.T) {
	const now = int64(1700000000)
	alt := 201
	b := squareBlock(200, -36.85, 174.76)
	b.AltBlock = &alt
	tr := NewTracker(trackblocks.NewMap([]*trackblocks.TrackBlock{b}), testOpts())

	tr.Sync([]*gtfsrt.Entity{
		positionEntity("T1", "A", -36.846, 174.765, now),
		positionEntity("T2", "B", -36.847, 174.766, now),
	}, now)
	invisible := map[string]bool{}
	tr.AssignBlocks(now, invisible)

	byID := map[string]*TrainInfo{}
	for _, ti := range tr.Trains() {
		byID[ti.TrainID] = ti
	}
	require.NotNil(t, byID["T1"].CurrentBlock)
	assert.Equal(t, 200, *byID["T1"].CurrentBlock, "first by route order keeps the block")
	require.NotNil(t, byID["T2"].CurrentBlock)
	assert.Equal(t, 201, *byID["T2"].CurrentBlock, "second moves to the alt block")
	assert.Empty(t, invisible)

	// A third train in the same polygon goes invisible; T1 and T2 keep their
	// blocks.
	tr.Sync([]*gtfsrt.Entity{
		positionEntity("T1", "A", -36.846, 174.765, now+20),
		positionEntity("T2", "B", -36.847, 174.766, now+20),
		positionEntity("T3", "C", -36.848, 174.767, now+20),
	}, now+20)
	invisible = map[string]bool{}
	tr.AssignBlocks(now+20, invisible)
	assert.True(t, invisible["T3"])
	assert.False(t, invisible["T1"])
	assert.False(t, invisible["T2"])
	assert.Equal(t, 200, *byID["T1"].CurrentBlock)
	assert.Equal(t, 201, *byID["T2"].CurrentBlock)
}

func TestPlatformDisambiguationByStopID(t *testing.T) {
	const now = int64(1700000000)
	b := squareBlock(300, -36.85, 174.76)
	b.Platforms = []trackblocks.Platform{
		{BlockNumber: 303, StopIDs: []string{"S3"}},
		{BlockNumber: 304, StopIDs: []string{"S4"}},
	}
	tr := NewTracker(trackblocks.NewMap([]*trackblocks.TrackBlock{b}), testOpts())

	e := positionEntity("AMP101", "EAST", -36.846, 174.765, now)
	e.TripUpdate = &gtfsrt.TripUpdate{
		Trip: &gtfsrt.TripDescriptor{TripID: "EAST-trip", RouteID: "EAST"},
		StopTimeUpdate: []gtfsrt.StopTimeUpdate{
			{StopID: "S4", Departure: &gtfsrt.StopTimeEvent{Time: gtfsrt.FlexInt64(now + 120)}},
		},
	}
	tr.Sync([]*gtfsrt.Entity{e}, now)
	tr.AssignBlocks(now, map[string]bool{})

	ti := tr.Trains()[0]
	require.NotNil(t, ti.CurrentBlock)
	assert.Equal(t, 304, *ti.CurrentBlock)
}

func TestPlatformDisambiguationByBearing(t *testing.T) {
	const now = int64(1700000000)
	east, west := 90.0, 270.0
	b := squareBlock(300, -36.85, 174.76)
	b.Platforms = []trackblocks.Platform{
		{BlockNumber: 303, IsDefault: true, Bearing: &east},
		{BlockNumber: 304, IsDefault: true, Bearing: &west},
	}
	tr := NewTracker(trackblocks.NewMap([]*trackblocks.TrackBlock{b}), testOpts())

	e := positionEntity("AMP101", "EAST", -36.846, 174.765, now)
	bearing := 260.0
	speed := 12.0
	e.Vehicle.Position.Bearing = &bearing
	e.Vehicle.Position.Speed = &speed
	tr.Sync([]*gtfsrt.Entity{e}, now)
	tr.AssignBlocks(now, map[string]bool{})

	ti := tr.Trains()[0]
	require.NotNil(t, ti.CurrentBlock)
	assert.Equal(t, 304, *ti.CurrentBlock, "westbound train picks the westward default platform")
}

func TestPositionSmoothingWhenStationary(t *testing.T) {
	const now = int64(1700000000)
	tr := NewTracker(trackblocks.NewMap(nil), testOpts())

	zero := 0.0
	e1 := positionEntity("AMP101", "EAST", -36.8460, 174.7650, now)
	e1.Vehicle.Position.Speed = &zero
	tr.Sync([]*gtfsrt.Entity{e1}, now)

	zero2 := 0.0
	e2 := positionEntity("AMP101", "EAST", -36.8470, 174.7660, now+20)
	e2.Vehicle.Position.Speed = &zero2
	tr.Sync([]*gtfsrt.Entity{e2}, now+20)

	ti := tr.Trains()[0]
	assert.InDelta(t, 0.95*-36.8460+0.05*-36.8470, ti.Position.Lat, 1e-9)
	assert.InDelta(t, 0.95*174.7650+0.05*174.7660, ti.Position.Lon, 1e-9)

	// A moving report overwrites instead of smoothing.
	ten := 10.0
	e3 := positionEntity("AMP101", "EAST", -36.8480, 174.7670, now+40)
	e3.Vehicle.Position.Speed = &ten
	tr.Sync([]*gtfsrt.Entity{e3}, now+40)
	assert.Equal(t, -36.8480, tr.Trains()[0].Position.Lat)
}

func TestComputedSpeedWhenFeedOmitsIt(t *testing.T) {
	const now = int64(1700000000)
	tr := NewTracker(trackblocks.NewMap(nil), testOpts())

	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", -36.8500, 174.7600, now)}, now)
	// ~890m east in 60s is ~14.8m/s.
	tr.Sync([]*gtfsrt.Entity{positionEntity("AMP101", "EAST", -36.8500, 174.7700, now+60)}, now+60)

	ti := tr.Trains()[0]
	require.NotNil(t, ti.Position.Speed)
	assert.InDelta(t, 14.8, *ti.Position.Speed, 0.5)
	require.NotNil(t, ti.Position.Bearing, "bearing derived from movement at plausible speed")
	assert.InDelta(t, 90, *ti.Position.Bearing, 2)
}

func TestStopsMergeAndPrune(t *testing.T) {
	const now = int64(1700000000)
	existing := []StopTime{
		{StopID: "S1", DepartureTime: now - 1200}, // 20 min old, pruned
		{StopID: "S2", DepartureTime: now + 60},
		{StopID: "S3", DepartureTime: 0}, // kept despite zero
	}
	updates := []gtfsrt.StopTimeUpdate{
		{StopID: "S2", Departure: &gtfsrt.StopTimeEvent{Time: gtfsrt.FlexInt64(now + 90)}},
		{StopID: "S4", Departure: &gtfsrt.StopTimeEvent{Time: gtfsrt.FlexInt64(now + 300)}},
	}
	out := mergeStops(existing, updates, now, 10)

	byID := map[string]int64{}
	for _, s := range out {
		byID[s.StopID] = s.DepartureTime
	}
	assert.NotContains(t, byID, "S1")
	assert.Equal(t, now+90, byID["S2"], "latest departure wins")
	assert.Equal(t, int64(0), byID["S3"])
	assert.Equal(t, now+300, byID["S4"])
}

func TestRosterDropsVanishedVehicles(t *testing.T) {
	const now = int64(1700000000)
	tr := NewTracker(trackblocks.NewMap(nil), testOpts())
	tr.Sync([]*gtfsrt.Entity{
		positionEntity("A", "EAST", -36.85, 174.76, now),
		positionEntity("B", "EAST", -36.86, 174.76, now),
	}, now)
	require.Equal(t, 2, tr.Len())

	tr.Sync([]*gtfsrt.Entity{positionEntity("A", "EAST", -36.85, 174.76, now+20)}, now+20)
	assert.Equal(t, 1, tr.Len())
}

func TestMissingRouteBecomesOutOfService(t *testing.T) {
	const now = int64(1700000000)
	tr := NewTracker(trackblocks.NewMap(nil), testOpts())
	e := positionEntity("A", "", -36.85, 174.76, now)
	e.Vehicle.Trip = nil
	tr.Sync([]*gtfsrt.Entity{e}, now)
	assert.Equal(t, OutOfService, tr.Trains()[0].Route)
}
