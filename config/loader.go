package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied after load.
const (
	DefaultPort                 = 3000
	DefaultRailNetworksDir      = "railNetworks"
	DefaultCacheDir             = "cache"
	DefaultFetchIntervalSeconds = 20
	DefaultDisplayThreshold     = 300
	DefaultCacheIntervalSeconds = 30
	DefaultSmoothingFactor      = 0.95
	DefaultStopDepartureWindow  = 10
	DefaultFetchTimeoutSeconds  = 15
)

// Pair detector defaults.
const (
	DefaultTrainLengthMeters  = 72
	DefaultBreakDistanceM     = 2000
	DefaultMinSpeedMS         = 3
	DefaultMaxImpliedSpeedMS  = 35
	DefaultMaxSpeedDiffMS     = 3
	DefaultMaxBearingDiffDeg  = 5
	DefaultMaxPositionAgeSecs = 30
)

// LoadAppConfig loads the optional application configuration from config.yml.
// A missing file yields defaults; a PORT environment variable holding a
// positive integer always wins.
func LoadAppConfig() (AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile("config.yml")
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config.yml: %w", err)
		}
		v := validator.New()
		if err := v.Struct(cfg.Server); err != nil {
			return cfg, fmt.Errorf("config.yml: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if cfg.RailNetworksDir == "" {
		cfg.RailNetworksDir = DefaultRailNetworksDir
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	return cfg, nil
}

// LoadNetworkConfig loads and validates one network's config.json.
func LoadNetworkConfig(path string) (NetworkConfig, error) {
	var cfg NetworkConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.TrainFilter != nil && cfg.TrainFilter.EntityID != nil && cfg.TrainFilter.TripID != nil {
		return cfg, fmt.Errorf("%s: trainFilter entityID and trip_ID are mutually exclusive", path)
	}
	applyNetworkDefaults(&cfg)
	return cfg, nil
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.GTFSRealtimeAPI.FetchIntervalSeconds == 0 {
		cfg.GTFSRealtimeAPI.FetchIntervalSeconds = DefaultFetchIntervalSeconds
	}
	if cfg.GTFSRealtimeAPI.Format == "" {
		cfg.GTFSRealtimeAPI.Format = "FeedMessage"
	}
	if cfg.GTFSRealtimeAPI.Protocol == "" {
		cfg.GTFSRealtimeAPI.Protocol = "json"
	}
	po := &cfg.ProcessingOptions
	if po.DisplayThreshold == 0 {
		po.DisplayThreshold = DefaultDisplayThreshold
	}
	if po.CacheIntervalSeconds == 0 {
		po.CacheIntervalSeconds = DefaultCacheIntervalSeconds
	}
	if po.SmoothingFactor == 0 {
		po.SmoothingFactor = DefaultSmoothingFactor
	}
	if po.StopDepartureWindowMinutes == 0 {
		po.StopDepartureWindowMinutes = DefaultStopDepartureWindow
	}
	if po.PairDetection == nil {
		po.PairDetection = &PairDetection{}
	}
	pd := po.PairDetection
	if pd.TrainLengthMeters == 0 {
		pd.TrainLengthMeters = DefaultTrainLengthMeters
	}
	if pd.BreakDistanceM == 0 {
		pd.BreakDistanceM = DefaultBreakDistanceM
	}
	if pd.MinSpeedMS == 0 {
		pd.MinSpeedMS = DefaultMinSpeedMS
	}
	if pd.MaxImpliedSpeedMS == 0 {
		pd.MaxImpliedSpeedMS = DefaultMaxImpliedSpeedMS
	}
	if pd.MaxSpeedDiffMS == 0 {
		pd.MaxSpeedDiffMS = DefaultMaxSpeedDiffMS
	}
	if pd.MaxBearingDiffDeg == 0 {
		pd.MaxBearingDiffDeg = DefaultMaxBearingDiffDeg
	}
	if pd.MaxPositionAgeSecs == 0 {
		pd.MaxPositionAgeSecs = DefaultMaxPositionAgeSecs
	}
}
