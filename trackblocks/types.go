package trackblocks

import (
	"sort"
	"strings"

	"github.com/CDFER/LED-Rails-Backend/geo"
)

// Platform is one platform face of a station block, used to disambiguate
// which LED a train inside the station body should light.
type Platform struct {
	BlockNumber int      `json:"blockNumber"`
	StopIDs     []string `json:"stopIds,omitempty"`
	IsDefault   bool     `json:"isDefault,omitempty"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Routes      []string `json:"routes,omitempty"`
}

// TrackBlock is a polygonal region of the rail map corresponding to one
// addressable LED. Immutable after load.
type TrackBlock struct {
	BlockNumber int         `json:"blockNumber"`
	AltBlock    *int        `json:"altBlock,omitempty"`
	Name        string      `json:"name"`
	Priority    bool        `json:"priority,omitempty"`
	Routes      []string    `json:"routes,omitempty"`
	Polygon     []geo.Point `json:"polygon"`
	Platforms   []Platform  `json:"platforms,omitempty"`
}

// Contains reports whether the coordinate lies inside the block polygon.
func (b *TrackBlock) Contains(lat, lon float64) bool {
	return geo.PointInPolygon(lat, lon, b.Polygon)
}

// AllowsRoute reports whether the block's route filter permits the route.
// Routes match by substring inclusion, not equality; a block without routes
// permits everything.
func (b *TrackBlock) AllowsRoute(route string) bool {
	return routesAllow(b.Routes, route)
}

// AllowsRoute applies the platform's route filter, same semantics as the
// block-level filter.
func (p *Platform) AllowsRoute(route string) bool {
	return routesAllow(p.Routes, route)
}

func routesAllow(routes []string, route string) bool {
	if len(routes) == 0 {
		return true
	}
	for _, r := range routes {
		if r != "" && strings.Contains(route, r) {
			return true
		}
	}
	return false
}

// Map is the ordered collection of track blocks. Iteration order is a
// contract: blocks with route filters come before routeless ones, priority
// blocks before non-priority, insertion order within groups. The block
// assignment search depends on it.
type Map struct {
	ordered  []*TrackBlock
	byNumber map[int]*TrackBlock
}

// NewMap builds a Map from blocks already in insertion order, applying the
// canonical stable sort.
func NewMap(blocks []*TrackBlock) *Map {
	ordered := make([]*TrackBlock, len(blocks))
	copy(ordered, blocks)
	stableSortBlocks(ordered)
	byNumber := make(map[int]*TrackBlock, len(ordered))
	for _, b := range ordered {
		if _, ok := byNumber[b.BlockNumber]; !ok {
			byNumber[b.BlockNumber] = b
		}
	}
	return &Map{ordered: ordered, byNumber: byNumber}
}

// stableSortBlocks orders routed blocks before routeless, priority before
// non-priority, keeping insertion order within groups.
func stableSortBlocks(blocks []*TrackBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		ar, br := len(a.Routes) > 0, len(b.Routes) > 0
		if ar != br {
			return ar
		}
		if a.Priority != b.Priority {
			return a.Priority
		}
		return false
	})
}

// Blocks returns the blocks in canonical iteration order.
func (m *Map) Blocks() []*TrackBlock { return m.ordered }

// Get returns the block with the given number.
func (m *Map) Get(blockNumber int) (*TrackBlock, bool) {
	b, ok := m.byNumber[blockNumber]
	return b, ok
}

// Resolve returns the block that owns the given number: either directly, as
// an alt block, or as one of its platform numbers.
func (m *Map) Resolve(number int) (*TrackBlock, bool) {
	if b, ok := m.byNumber[number]; ok {
		return b, true
	}
	for _, b := range m.ordered {
		if b.AltBlock != nil && *b.AltBlock == number {
			return b, true
		}
		for _, p := range b.Platforms {
			if p.BlockNumber == number {
				return b, true
			}
		}
	}
	return nil, false
}

// Len returns the number of blocks.
func (m *Map) Len() int { return len(m.ordered) }
