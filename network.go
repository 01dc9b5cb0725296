package ledrails

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CDFER/LED-Rails-Backend/cache"
	"github.com/CDFER/LED-Rails-Backend/config"
	"github.com/CDFER/LED-Rails-Backend/gtfsrt"
	"github.com/CDFER/LED-Rails-Backend/led"
	"github.com/CDFER/LED-Rails-Backend/trackblocks"
	"github.com/CDFER/LED-Rails-Backend/tracking"
)

// Network owns the full pipeline state of one rail network: entity store,
// pair set, roster, block map and LED outputs. No state is shared between
// networks.
type Network struct {
	ID  string
	Dir string
	Cfg config.NetworkConfig

	client  *gtfsrt.Client
	store   *gtfsrt.EntityStore
	pairs   *tracking.PairDetector
	tracker *tracking.Tracker
	blocks  *trackblocks.Map
	stops   trackblocks.StopsMap
	apis    []*led.API

	cacheDir  string
	startedAt time.Time

	mu          sync.RWMutex
	lastSuccess int64
	lastAttempt int64
	lastErr     string
	ticking     bool
}

// LoadNetwork constructs a network from its directory under railNetworks/.
// The API key is taken from the environment variable named after the
// network id.
func LoadNetwork(dir, cacheRoot string) (*Network, error) {
	id := filepath.Base(dir)
	cfg, err := config.LoadNetworkConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", id, err)
	}

	n := &Network{
		ID:        id,
		Dir:       dir,
		Cfg:       cfg,
		store:     gtfsrt.NewEntityStore(),
		pairs:     tracking.NewPairDetector(cfg.ProcessingOptions.PairDetection),
		cacheDir:  filepath.Join(cacheRoot, id),
		startedAt: time.Now(),
	}

	if cfg.TrackBlocks != nil && cfg.TrackBlocks.FileName != "" {
		blocks, err := trackblocks.Load(filepath.Join(dir, cfg.TrackBlocks.FileName))
		if err != nil {
			return nil, fmt.Errorf("network %s: track blocks: %w", id, err)
		}
		n.blocks = blocks
	} else {
		n.blocks = trackblocks.NewMap(nil)
	}

	if cfg.Stops != nil && cfg.Stops.FileName != "" {
		stops, err := trackblocks.LoadStops(filepath.Join(dir, cfg.Stops.FileName))
		if err != nil {
			return nil, fmt.Errorf("network %s: stops: %w", id, err)
		}
		n.stops = stops
	}

	n.tracker = tracking.NewTracker(n.blocks, cfg.ProcessingOptions)
	n.apis = led.NewAPIs(cfg.LEDRailsAPI, cfg.ProcessingOptions.DisplayThreshold, cfg.GTFSRealtimeAPI.FetchIntervalSeconds)
	n.client = gtfsrt.NewClient(cfg.GTFSRealtimeAPI, os.Getenv(id))

	if cfg.ProcessingOptions.CacheGTFS {
		n.restoreCaches()
	}
	return n, nil
}

// MountPath is the URL prefix the network's endpoints are served under.
func (n *Network) MountPath() string {
	return "/" + strings.ToLower(n.ID) + "-ltm"
}

func (n *Network) restoreCaches() {
	var vehicles map[string]*gtfsrt.Entity
	if ok, err := cache.Load(filepath.Join(n.cacheDir, "entities.json.gz"), &vehicles); err != nil {
		log.Printf("[%s] cache restore entities: %v", n.ID, err)
	} else if ok {
		n.store.Restore(vehicles)
		log.Printf("[%s] restored %d cached vehicles", n.ID, len(vehicles))
	}
	var pairs []*tracking.TrainPair
	if ok, err := cache.Load(filepath.Join(n.cacheDir, "trainPairs.json.gz"), &pairs); err != nil {
		log.Printf("[%s] cache restore trainPairs: %v", n.ID, err)
	} else if ok {
		n.pairs.Restore(pairs)
		log.Printf("[%s] restored %d cached train pairs", n.ID, len(pairs))
	}
}

func (n *Network) saveCaches() {
	if err := cache.Save(filepath.Join(n.cacheDir, "entities.json.gz"), n.store.Snapshot()); err != nil {
		log.Printf("[%s] cache save entities: %v", n.ID, err)
	}
	if err := cache.Save(filepath.Join(n.cacheDir, "trainPairs.json.gz"), n.pairs.Pairs()); err != nil {
		log.Printf("[%s] cache save trainPairs: %v", n.ID, err)
	}
}

// Run drives the periodic update cycle until the context is cancelled.
// An immediate first tick is followed by the configured interval; a tick
// still in flight suppresses the next timer firing.
func (n *Network) Run(ctx context.Context) {
	interval := time.Duration(n.Cfg.GTFSRealtimeAPI.FetchIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cacheTicker *time.Ticker
	var cacheC <-chan time.Time
	if n.Cfg.ProcessingOptions.CacheGTFS {
		cacheTicker = time.NewTicker(time.Duration(n.Cfg.ProcessingOptions.CacheIntervalSeconds) * time.Second)
		defer cacheTicker.Stop()
		cacheC = cacheTicker.C
	}

	n.tickGuarded(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tickGuarded(ctx)
		case <-cacheC:
			n.saveCaches()
		}
	}
}

// tickGuarded runs one tick unless the previous one is still in flight, and
// converts panics into logged errors so the timer keeps firing.
func (n *Network) tickGuarded(ctx context.Context) {
	n.mu.Lock()
	if n.ticking {
		n.mu.Unlock()
		log.Printf("[%s] previous tick still running, skipping", n.ID)
		return
	}
	n.ticking = true
	n.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] tick panic: %v", n.ID, r)
			n.setResult(0, fmt.Sprintf("panic: %v", r))
		}
		n.mu.Lock()
		n.ticking = false
		n.mu.Unlock()
	}()

	if err := n.Tick(ctx); err != nil {
		log.Printf("[%s] tick: %v", n.ID, err)
		n.setResult(0, err.Error())
	} else {
		n.setResult(time.Now().Unix(), "")
	}
}

func (n *Network) setResult(success int64, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastAttempt = time.Now().Unix()
	if success > 0 {
		n.lastSuccess = success
	}
	n.lastErr = errMsg
}

// Tick runs one full cycle: fetch, filter, pair detection, roster sync,
// block assignment and LED generation for every board revision.
func (n *Network) Tick(ctx context.Context) error {
	entities, err := n.client.FetchCycle(ctx)
	if err != nil {
		return err
	}
	n.store.Merge(entities)

	if hours := n.Cfg.ProcessingOptions.RemoveStaleVehiclesHours; hours > 0 {
		cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour))).Unix()
		if removed := n.store.RemoveStale(cutoff); removed > 0 {
			log.Printf("[%s] evicted %d stale vehicles", n.ID, removed)
		}
	}

	trains := n.store.FilterTrains(n.Cfg.TrainFilter)
	now := (time.Now().UnixMilli() + 999) / 1000

	invisible := map[string]bool{}
	if n.Cfg.ProcessingOptions.PairTrains {
		invisible = n.pairs.Update(trains, now)
	}

	n.tracker.Sync(trains, now)
	n.tracker.AssignBlocks(now, invisible)

	roster := n.tracker.Trains()
	for _, api := range n.apis {
		api.Generate(roster, invisible, now)
	}
	return nil
}

// Status summarises the network for the /status endpoint.
type Status struct {
	Status          string `json:"status"`
	Epoch           int64  `json:"epoch"`
	Uptime          int64  `json:"uptime"`
	RefreshInterval int    `json:"refreshInterval"`
	TrackBlocks     int    `json:"trackBlocks"`
	Entities        int    `json:"entities"`
	TrackedTrains   int    `json:"trackedTrains"`
}

// Status returns the current status snapshot.
func (n *Network) Status() Status {
	n.mu.RLock()
	lastSuccess := n.lastSuccess
	n.mu.RUnlock()
	state := "ok"
	if lastSuccess == 0 {
		state = "starting"
	}
	return Status{
		Status:          state,
		Epoch:           time.Now().Unix(),
		Uptime:          int64(time.Since(n.startedAt).Seconds()),
		RefreshInterval: n.Cfg.GTFSRealtimeAPI.FetchIntervalSeconds,
		TrackBlocks:     n.blocks.Len(),
		Entities:        n.store.Len(),
		TrackedTrains:   n.tracker.Len(),
	}
}

// Ready reports whether at least one tick has succeeded; when it hasn't,
// the last attempt time and error are returned for the 503 body.
func (n *Network) Ready() (bool, int64, string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSuccess > 0, n.lastAttempt, n.lastErr
}

// LastSuccess returns the epoch of the last successful tick (0 if none).
func (n *Network) LastSuccess() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSuccess
}

// DiscoverNetworks loads every network directory under root that contains a
// config.json. A network that fails to load is skipped with a loud log.
func DiscoverNetworks(root, cacheRoot string) ([]*Network, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("rail networks root: %w", err)
	}
	var networks []*Network
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
			continue
		}
		n, err := LoadNetwork(dir, cacheRoot)
		if err != nil {
			log.Printf("SKIPPING network %s: %v", e.Name(), err)
			continue
		}
		log.Printf("loaded network %s (%d track blocks, %d board revisions)",
			n.ID, n.blocks.Len(), len(n.apis))
		networks = append(networks, n)
	}
	if len(networks) == 0 {
		return nil, fmt.Errorf("no loadable networks under %s", root)
	}
	return networks, nil
}
