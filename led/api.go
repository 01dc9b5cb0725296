package led

import (
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/CDFER/LED-Rails-Backend/config"
	"github.com/CDFER/LED-Rails-Backend/tracking"
)

// Update is one block transition on the wire. Field names are contract-fixed
// by the board firmware.
type Update struct {
	B [2]int `json:"b"`
	C int    `json:"c"`
	T int64  `json:"t"`
}

// Output is the published payload for one board revision.
type Output struct {
	Version   string        `json:"version"`
	Timestamp int64         `json:"timestamp"`
	Update    int           `json:"update"`
	Colors    map[int][]int `json:"colors"`
	Updates   []Update      `json:"updates"`
}

// API generates and publishes the LED payload for one board revision of a
// network. Output publication is atomic: handlers read the pointer under the
// same lock that Generate swaps it under.
type API struct {
	Version             string
	URL                 string
	RouteToColorID      map[string]int
	BlockRemap          []config.BlockRemapRule
	DisplayThreshold    int64
	RandomizeTimeOffset bool
	UpdateInterval      int

	colorOrder []string
	colors     map[int][]int
	rng        *rand.Rand

	mu     sync.RWMutex
	output *Output
}

// NewAPIs builds one API per configured board revision. Color ids are dense,
// starting at 0, assigned in config order (colorOrder when given, sorted
// route ids otherwise).
func NewAPIs(cfg config.LEDRailsAPIConfig, displayThreshold int64, updateInterval int) []*API {
	order := cfg.ColorOrder
	if len(order) == 0 {
		order = make([]string, 0, len(cfg.Colors))
		for route := range cfg.Colors {
			order = append(order, route)
		}
		sort.Strings(order)
	}
	routeToColorID := make(map[string]int, len(order))
	colors := make(map[int][]int, len(order))
	id := 0
	for _, route := range order {
		rgb, ok := cfg.Colors[route]
		if !ok {
			log.Printf("led: colorOrder names unknown route %q", route)
			continue
		}
		routeToColorID[route] = id
		colors[id] = rgb
		id++
	}

	apis := make([]*API, 0, len(cfg.APIVersions))
	for i, v := range cfg.APIVersions {
		apis = append(apis, &API{
			Version:             v.Version,
			URL:                 "/" + v.Version + ".json",
			RouteToColorID:      routeToColorID,
			BlockRemap:          v.BlockRemap,
			DisplayThreshold:    displayThreshold,
			RandomizeTimeOffset: cfg.RandomizeTimeOffset,
			UpdateInterval:      updateInterval,
			colorOrder:          order,
			colors:              colors,
			rng:                 rand.New(rand.NewSource(int64(i) + 1)),
		})
	}
	return apis
}

// ColorIDFor resolves the color id for a route: exact match first, then the
// first configured route that is a substring of it.
func (a *API) ColorIDFor(route string) (int, bool) {
	if id, ok := a.RouteToColorID[route]; ok {
		return id, true
	}
	for _, candidate := range a.colorOrder {
		if candidate != "" && strings.Contains(route, candidate) {
			if id, ok := a.RouteToColorID[candidate]; ok {
				return id, true
			}
		}
	}
	return 0, false
}

// Generate rebuilds and publishes the output from the current roster.
// Trains older than the display threshold, invisible trains, and trains
// without a block assignment are skipped; trains whose route has no color
// mapping are dropped with a diagnostic.
func (a *API) Generate(trains []*tracking.TrainInfo, invisible map[string]bool, now int64) {
	updateTime := now - int64(a.UpdateInterval)
	displayCutoff := now - a.DisplayThreshold

	updates := []Update{}
	for _, ti := range trains {
		if ti.Position.Timestamp < displayCutoff || invisible[ti.TrainID] {
			continue
		}
		if ti.CurrentBlock == nil || ti.PreviousBlock == nil {
			continue
		}
		colorID, ok := a.ColorIDFor(ti.Route)
		if !ok {
			log.Printf("led %s: no color mapping for route %q (train %s)", a.Version, ti.Route, ti.TrainID)
			continue
		}
		var t int64
		if a.RandomizeTimeOffset {
			if *ti.PreviousBlock != *ti.CurrentBlock && a.UpdateInterval > 1 {
				t = int64(a.rng.Intn(a.UpdateInterval-1) + 1)
			}
		} else {
			if t = ti.Position.Timestamp - updateTime; t < 0 {
				t = 0
			}
		}
		updates = append(updates, Update{
			B: [2]int{a.remap(*ti.PreviousBlock), a.remap(*ti.CurrentBlock)},
			C: colorID,
			T: t,
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.output != nil && now < a.output.Timestamp {
		now = a.output.Timestamp
	}
	a.output = &Output{
		Version:   a.Version,
		Timestamp: now,
		Update:    a.UpdateInterval,
		Colors:    a.colors,
		Updates:   updates,
	}
}

// remap applies the first matching block remap rule, if any.
func (a *API) remap(block int) int {
	for _, r := range a.BlockRemap {
		if block >= r.Start && block <= r.End {
			return block + r.Offset
		}
	}
	return block
}

// Output returns the last published payload, or nil before the first
// successful cycle.
func (a *API) Output() *Output {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.output
}
