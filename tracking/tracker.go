package tracking

import (
	"sort"

	"github.com/CDFER/LED-Rails-Backend/config"
	"github.com/CDFER/LED-Rails-Backend/geo"
	"github.com/CDFER/LED-Rails-Backend/gtfsrt"
	"github.com/CDFER/LED-Rails-Backend/trackblocks"
)

// Bearing updates are suppressed outside this speed window to avoid jitter
// from stationary or implausible readings.
const (
	bearingMinSpeedMS = 4.0
	bearingMaxSpeedMS = 55.0
)

// Tracker owns the long-lived roster of tracked trains for one network and
// assigns each to at most one track block per cycle.
type Tracker struct {
	blocks *trackblocks.Map
	opts   config.ProcessingOptions
	roster map[string]*TrainInfo
}

// NewTracker creates a tracker over the given block map.
func NewTracker(blocks *trackblocks.Map, opts config.ProcessingOptions) *Tracker {
	return &Tracker{
		blocks: blocks,
		opts:   opts,
		roster: map[string]*TrainInfo{},
	}
}

// Trains returns the roster ordered by train id.
func (t *Tracker) Trains() []*TrainInfo {
	out := make([]*TrainInfo, 0, len(t.roster))
	for _, ti := range t.roster {
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainID < out[j].TrainID })
	return out
}

// Len returns the roster size.
func (t *Tracker) Len() int { return len(t.roster) }

// Sync folds the filtered train entities into the roster: position smoothing,
// bearing/speed/route updates and stop merging for known trains, creation for
// new ones. Roster entries whose vehicle no longer appears are dropped.
func (t *Tracker) Sync(trains []*gtfsrt.Entity, now int64) {
	seen := make(map[string]bool, len(trains))
	for _, e := range trains {
		vid := e.VehicleID()
		if vid == "" || e.Vehicle.Position == nil {
			continue
		}
		seen[vid] = true
		if ti, ok := t.roster[vid]; ok {
			t.syncExisting(ti, e, now)
		} else {
			t.roster[vid] = newTrainInfo(vid, e, t.opts)
		}
	}
	for vid := range t.roster {
		if !seen[vid] {
			delete(t.roster, vid)
		}
	}
}

func newTrainInfo(vid string, e *gtfsrt.Entity, opts config.ProcessingOptions) *TrainInfo {
	pos := e.Vehicle.Position
	ti := &TrainInfo{
		TrainID: vid,
		Position: TrainPosition{
			Lat:       pos.Latitude,
			Lon:       pos.Longitude,
			Timestamp: e.Timestamp(),
			Speed:     pos.Speed,
			Bearing:   pos.Bearing,
		},
		Route:  routeOrSentinel(e.RouteID()),
		TripID: e.TripID(),
	}
	if e.TripUpdate != nil {
		ti.Stops = mergeStops(nil, e.TripUpdate.StopTimeUpdate, e.Timestamp(), opts.StopDepartureWindowMinutes)
	}
	return ti
}

func (t *Tracker) syncExisting(ti *TrainInfo, e *gtfsrt.Entity, now int64) {
	pos := e.Vehicle.Position
	newTS := e.Timestamp()
	moved := pos.Latitude != ti.Position.Lat || pos.Longitude != ti.Position.Lon

	var speed float64
	speedKnown := false
	if moved {
		oldLat, oldLon := ti.Position.Lat, ti.Position.Lon
		if pos.Speed != nil {
			speed, speedKnown = *pos.Speed, true
			oldStationary := ti.Position.Speed != nil && *ti.Position.Speed == 0
			if oldStationary && *pos.Speed == 0 {
				// Both sides report stationary: damp GPS drift.
				f := t.opts.SmoothingFactor
				ti.Position.Lat = f*ti.Position.Lat + (1-f)*pos.Latitude
				ti.Position.Lon = f*ti.Position.Lon + (1-f)*pos.Longitude
			} else {
				ti.Position.Lat = pos.Latitude
				ti.Position.Lon = pos.Longitude
			}
		} else {
			dist := geo.HaversineMeters(oldLat, oldLon, pos.Latitude, pos.Longitude)
			if dt := newTS - ti.Position.Timestamp; dt > 0 {
				speed, speedKnown = dist/float64(dt), true
			}
			ti.Position.Lat = pos.Latitude
			ti.Position.Lon = pos.Longitude
		}
		if speedKnown && speed > bearingMinSpeedMS && speed < bearingMaxSpeedMS {
			if pos.Bearing != nil {
				ti.Position.Bearing = pos.Bearing
			} else {
				b := geo.BearingBetween(oldLat, oldLon, pos.Latitude, pos.Longitude)
				ti.Position.Bearing = &b
			}
		}
	}
	if pos.Speed != nil {
		ti.Position.Speed = pos.Speed
	} else if speedKnown {
		ti.Position.Speed = &speed
	}
	if newTS > 0 {
		ti.Position.Timestamp = newTS
	}
	ti.Route = routeOrSentinel(e.RouteID())
	if trip := e.TripID(); trip != "" {
		ti.TripID = trip
	}
	if e.TripUpdate != nil {
		ti.Stops = mergeStops(ti.Stops, e.TripUpdate.StopTimeUpdate, now, t.opts.StopDepartureWindowMinutes)
	}
}

// mergeStops upserts the feed's stop predictions by stop id, keeping the
// latest departure time, and prunes stops whose departure is further in the
// past than the configured window. Entries with departure 0 are kept.
func mergeStops(existing []StopTime, updates []gtfsrt.StopTimeUpdate, now int64, windowMinutes int) []StopTime {
	byID := map[string]int{}
	out := make([]StopTime, 0, len(existing)+len(updates))
	for _, s := range existing {
		byID[s.StopID] = len(out)
		out = append(out, s)
	}
	for _, u := range updates {
		if u.StopID == "" {
			continue
		}
		var dep int64
		if u.Departure != nil {
			dep = int64(u.Departure.Time)
		} else if u.Arrival != nil {
			dep = int64(u.Arrival.Time)
		}
		if i, ok := byID[u.StopID]; ok {
			if dep > out[i].DepartureTime {
				out[i].DepartureTime = dep
			}
		} else {
			byID[u.StopID] = len(out)
			out = append(out, StopTime{StopID: u.StopID, DepartureTime: dep})
		}
	}
	cutoff := now - int64(windowMinutes)*60
	pruned := out[:0]
	for _, s := range out {
		if s.DepartureTime == 0 || s.DepartureTime >= cutoff {
			pruned = append(pruned, s)
		}
	}
	return pruned
}

func routeOrSentinel(route string) string {
	if route == "" {
		return OutOfService
	}
	return route
}

// AssignBlocks runs the staleness, sticky, search and alt-block passes over
// the roster. The invisible set is extended in place with excess block
// occupants; it already contains the pair-detector elections.
func (t *Tracker) AssignBlocks(now int64, invisible map[string]bool) {
	trains := t.Trains()

	active := trains[:0:0]
	for _, ti := range trains {
		if (ti.Position.Lat == 0 && ti.Position.Lon == 0) ||
			ti.Position.Timestamp < now-t.opts.DisplayThreshold {
			ti.CurrentBlock = nil
			ti.PreviousBlock = nil
			continue
		}
		active = append(active, ti)
	}

	for _, ti := range active {
		if t.sticky(ti) {
			continue
		}
		t.search(ti)
	}

	t.resolveConflicts(active, invisible)
}

// sticky keeps a train on its current block while it remains inside the
// owning polygon and the route filter still permits it.
func (t *Tracker) sticky(ti *TrainInfo) bool {
	if ti.CurrentBlock == nil {
		return false
	}
	owner, ok := t.blocks.Resolve(*ti.CurrentBlock)
	if !ok {
		return false
	}
	if !owner.Contains(ti.Position.Lat, ti.Position.Lon) || !owner.AllowsRoute(ti.Route) {
		return false
	}
	prev := *ti.CurrentBlock
	ti.PreviousBlock = &prev
	return true
}

// search walks the block map in canonical order and assigns the first
// enclosing, route-permitting block, using platform disambiguation where the
// block defines platforms.
func (t *Tracker) search(ti *TrainInfo) {
	for _, b := range t.blocks.Blocks() {
		if !b.AllowsRoute(ti.Route) {
			continue
		}
		if !b.Contains(ti.Position.Lat, ti.Position.Lon) {
			continue
		}
		chosen := b.BlockNumber
		if len(b.Platforms) > 0 {
			if p, ok := t.choosePlatform(b, ti); ok {
				chosen = p
			}
		}
		prev := 0
		if ti.CurrentBlock != nil {
			prev = *ti.CurrentBlock
		}
		ti.CurrentBlock = &chosen
		ti.PreviousBlock = &prev
		return
	}
	ti.CurrentBlock = nil
	ti.PreviousBlock = nil
}

// choosePlatform picks a platform by stop_id intersection, then bearing
// agreement among defaults, then the first bearing-less default.
func (t *Tracker) choosePlatform(b *trackblocks.TrackBlock, ti *TrainInfo) (int, bool) {
	for _, p := range b.Platforms {
		if !p.AllowsRoute(ti.Route) {
			continue
		}
		for _, sid := range p.StopIDs {
			for _, st := range ti.Stops {
				if st.StopID == sid {
					return p.BlockNumber, true
				}
			}
		}
	}
	if ti.Position.Bearing != nil {
		for _, p := range b.Platforms {
			if !p.IsDefault || p.Bearing == nil || !p.AllowsRoute(ti.Route) {
				continue
			}
			if geo.BearingDifference(*p.Bearing, *ti.Position.Bearing) <= 90 {
				return p.BlockNumber, true
			}
		}
	}
	for _, p := range b.Platforms {
		if p.IsDefault && p.Bearing == nil && p.AllowsRoute(ti.Route) {
			return p.BlockNumber, true
		}
	}
	return 0, false
}

// resolveConflicts enforces single occupancy per block: the first train (by
// route order, out-of-service last) keeps the block, the second moves to the
// alt block when one exists, the rest go invisible for this cycle.
func (t *Tracker) resolveConflicts(active []*TrainInfo, invisible map[string]bool) {
	for _, b := range t.blocks.Blocks() {
		occupants := visibleOn(active, b.BlockNumber, invisible)
		if len(occupants) > 1 {
			sortByRoute(occupants)
			rest := occupants[1:]
			if b.AltBlock != nil {
				alt := *b.AltBlock
				moved := rest[0]
				moved.CurrentBlock = &alt
				rest = rest[1:]
			}
			for _, ti := range rest {
				invisible[ti.TrainID] = true
			}
		}
		if b.AltBlock != nil {
			altOccupants := visibleOn(active, *b.AltBlock, invisible)
			if len(altOccupants) > 1 {
				sortByRoute(altOccupants)
				for _, ti := range altOccupants[1:] {
					invisible[ti.TrainID] = true
				}
			}
		}
	}
}

func visibleOn(trains []*TrainInfo, block int, invisible map[string]bool) []*TrainInfo {
	var out []*TrainInfo
	for _, ti := range trains {
		if ti.CurrentBlock != nil && *ti.CurrentBlock == block && !invisible[ti.TrainID] {
			out = append(out, ti)
		}
	}
	return out
}

// sortByRoute orders ascending by route with OUT-OF-SERVICE last, train id
// as tiebreak.
func sortByRoute(trains []*TrainInfo) {
	sort.SliceStable(trains, func(i, j int) bool {
		ri, rj := trains[i].Route, trains[j].Route
		oi, oj := ri == OutOfService, rj == OutOfService
		if oi != oj {
			return oj
		}
		if ri != rj {
			return ri < rj
		}
		return trains[i].TrainID < trains[j].TrainID
	})
}
