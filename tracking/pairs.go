package tracking

import (
	"log"
	"math"

	"github.com/CDFER/LED-Rails-Backend/config"
	"github.com/CDFER/LED-Rails-Backend/geo"
	"github.com/CDFER/LED-Rails-Backend/gtfsrt"
)

// PairDetector maintains the set of coupled-train pairs across cycles.
type PairDetector struct {
	cfg   *config.PairDetection
	pairs []*TrainPair
}

// NewPairDetector creates a detector with the given thresholds.
func NewPairDetector(cfg *config.PairDetection) *PairDetector {
	return &PairDetector{cfg: cfg}
}

// Pairs returns the current pair set, for inspection and persistence.
func (d *PairDetector) Pairs() []*TrainPair { return d.pairs }

// Restore replaces the pair set, typically from a cache file.
func (d *PairDetector) Restore(pairs []*TrainPair) {
	if pairs != nil {
		d.pairs = pairs
	}
}

// Update runs the break and detect phases over the filtered train entities
// and returns the vehicle ids elected invisible this cycle.
func (d *PairDetector) Update(trains []*gtfsrt.Entity, now int64) map[string]bool {
	byID := make(map[string]*gtfsrt.Entity, len(trains))
	for _, e := range trains {
		if vid := e.VehicleID(); vid != "" {
			byID[vid] = e
		}
	}

	paired := map[string]bool{}
	kept := d.pairs[:0:0]
	for _, p := range d.pairs {
		a, okA := byID[p.VehicleIDs[0]]
		b, okB := byID[p.VehicleIDs[1]]
		if okA && okB && hasPosition(a) && hasPosition(b) {
			dist := entityDistance(a, b)
			if dist > d.cfg.BreakDistanceM {
				log.Printf("pairs: breaking %s at %.0fm", p.PairKey, dist)
				// Members stay out of the candidate pool this cycle.
				paired[p.VehicleIDs[0]] = true
				paired[p.VehicleIDs[1]] = true
				continue
			}
		}
		kept = append(kept, p)
		paired[p.VehicleIDs[0]] = true
		paired[p.VehicleIDs[1]] = true
	}
	d.pairs = kept

	candidates := make([]*gtfsrt.Entity, 0, len(trains))
	for _, e := range trains {
		if paired[e.VehicleID()] {
			continue
		}
		if !hasPosition(e) {
			continue
		}
		sp := e.Vehicle.Position.Speed
		if sp == nil || *sp < d.cfg.MinSpeedMS {
			continue
		}
		if now-e.Timestamp() > d.cfg.MaxPositionAgeSecs {
			continue
		}
		candidates = append(candidates, e)
	}

	for i := 0; i < len(candidates); i++ {
		a := candidates[i]
		if paired[a.VehicleID()] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if paired[b.VehicleID()] {
				continue
			}
			pair, ok := d.evaluate(a, b, now)
			if !ok {
				continue
			}
			d.pairs = append(d.pairs, pair)
			paired[a.VehicleID()] = true
			paired[b.VehicleID()] = true
			log.Printf("pairs: detected %s (%.0fm apart)", pair.PairKey, pair.DistanceM)
			break
		}
	}

	return d.invisibleIDs(byID)
}

// evaluate applies the proximity, speed, bearing and route criteria to one
// unordered candidate pair.
func (d *PairDetector) evaluate(a, b *gtfsrt.Entity, now int64) (*TrainPair, bool) {
	pa, pb := a.Vehicle.Position, b.Vehicle.Position
	dist := geo.HaversineMeters(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude)
	adjusted := dist - 2*d.cfg.TrainLengthMeters
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 2*d.cfg.TrainLengthMeters {
		return nil, false
	}
	if dt := absInt64(a.Timestamp() - b.Timestamp()); dt > 0 {
		if adjusted/float64(dt) > d.cfg.MaxImpliedSpeedMS {
			return nil, false
		}
	}
	speedDiff := math.Abs(*pa.Speed - *pb.Speed)
	if speedDiff > d.cfg.MaxSpeedDiffMS {
		return nil, false
	}
	if pa.Bearing == nil || pb.Bearing == nil {
		return nil, false
	}
	bearingDiff := geo.BearingDifference(*pa.Bearing, *pb.Bearing)
	if bearingDiff > d.cfg.MaxBearingDiffDeg {
		return nil, false
	}
	ra, rb := a.RouteID(), b.RouteID()
	if ra != "" && rb != "" && ra != rb {
		return nil, false
	}

	idA, idB := a.VehicleID(), b.VehicleID()
	if idB < idA {
		idA, idB = idB, idA
	}
	return &TrainPair{
		PairKey:        idA + "|" + idB,
		VehicleIDs:     [2]string{idA, idB},
		DetectedAt:     now,
		DistanceM:      dist,
		SpeedDiffMS:    speedDiff,
		BearingDiffDeg: bearingDiff,
	}, true
}

// invisibleIDs elects one vehicle per pair to hide this cycle: the one with
// an empty route, otherwise the second id of the sorted pair.
func (d *PairDetector) invisibleIDs(byID map[string]*gtfsrt.Entity) map[string]bool {
	invisible := map[string]bool{}
	for _, p := range d.pairs {
		hide := p.VehicleIDs[1]
		routeA, routeB := "", ""
		if e, ok := byID[p.VehicleIDs[0]]; ok {
			routeA = e.RouteID()
		}
		if e, ok := byID[p.VehicleIDs[1]]; ok {
			routeB = e.RouteID()
		}
		if routeA == "" && routeB != "" {
			hide = p.VehicleIDs[0]
		}
		invisible[hide] = true
	}
	return invisible
}

func hasPosition(e *gtfsrt.Entity) bool {
	if e.Vehicle == nil || e.Vehicle.Position == nil {
		return false
	}
	p := e.Vehicle.Position
	return !(p.Latitude == 0 && p.Longitude == 0)
}

func entityDistance(a, b *gtfsrt.Entity) float64 {
	pa, pb := a.Vehicle.Position, b.Vehicle.Position
	return geo.HaversineMeters(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
