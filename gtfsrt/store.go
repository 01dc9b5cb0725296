package gtfsrt

import (
	"sort"
	"strconv"
	"strings"

	"github.com/CDFER/LED-Rails-Backend/config"
)

// EntityStore holds the latest entity per vehicle id. Vehicles persist across
// cycles until evicted as stale, so a vehicle missing from one fetch keeps
// its last known position.
type EntityStore struct {
	vehicles map[string]*Entity
}

// NewEntityStore creates an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{vehicles: map[string]*Entity{}}
}

// Merge unions the fetched entities into the store, keyed by vehicle id,
// newest timestamp wins. Entities without a vehicle id and deleted entities
// are dropped; a deletion also removes the stored vehicle.
func (s *EntityStore) Merge(entities []*Entity) {
	for _, e := range entities {
		vid := e.VehicleID()
		if vid == "" {
			continue
		}
		if e.IsDeleted {
			delete(s.vehicles, vid)
			continue
		}
		if prev, ok := s.vehicles[vid]; ok && prev.Timestamp() > e.Timestamp() {
			continue
		}
		s.vehicles[vid] = e
	}
}

// RemoveStale drops vehicles whose timestamp is older than the cutoff
// (epoch seconds).
func (s *EntityStore) RemoveStale(cutoff int64) int {
	removed := 0
	for vid, e := range s.vehicles {
		if e.Timestamp() < cutoff {
			delete(s.vehicles, vid)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored vehicles.
func (s *EntityStore) Len() int { return len(s.vehicles) }

// Entities returns the stored entities ordered by vehicle id.
func (s *EntityStore) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.vehicles))
	for _, e := range s.vehicles {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID() < out[j].VehicleID() })
	return out
}

// Snapshot returns the underlying vehicle map for persistence.
func (s *EntityStore) Snapshot() map[string]*Entity { return s.vehicles }

// Restore replaces the store contents, typically from a cache file.
func (s *EntityStore) Restore(vehicles map[string]*Entity) {
	if vehicles == nil {
		return
	}
	s.vehicles = vehicles
}

// FilterTrains applies the network's train filter to the stored entities.
// An absent or empty filter passes every entity through.
func (s *EntityStore) FilterTrains(f *config.TrainFilter) []*Entity {
	entities := s.Entities()
	if f == nil {
		return entities
	}
	switch {
	case f.EntityID != nil:
		out := entities[:0:0]
		for _, e := range entities {
			n, err := strconv.ParseInt(e.ID, 10, 64)
			if err != nil {
				continue
			}
			if n >= f.EntityID.Start && n <= f.EntityID.End {
				out = append(out, e)
			}
		}
		return out
	case f.TripID != nil:
		out := entities[:0:0]
		for _, e := range entities {
			if matchTripFilter(e.TripID(), f.TripID) {
				out = append(out, e)
			}
		}
		return out
	}
	return entities
}

func matchTripFilter(tripID string, f *config.TripIDFilter) bool {
	for _, ex := range f.Excludes {
		if ex != "" && strings.Contains(tripID, ex) {
			return false
		}
	}
	if len(f.Includes) == 0 {
		return true
	}
	for _, in := range f.Includes {
		if in != "" && strings.Contains(tripID, in) {
			return true
		}
	}
	return false
}
