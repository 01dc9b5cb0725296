package config

// ServerConfig contains server configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0"`
}

// AppConfig is the root application configuration (optional config.yml)
type AppConfig struct {
	Server          ServerConfig `yaml:"server"`
	RailNetworksDir string       `yaml:"railNetworksDir"`
	CacheDir        string       `yaml:"cacheDir"`
}

// GTFSRealtimeAPI describes the realtime feed sources of one network.
type GTFSRealtimeAPI struct {
	URL                  []string `json:"url" validate:"required,min=1,dive,url"`
	TripsURL             []string `json:"tripsUrl" validate:"omitempty,dive,url"`
	KeyHeader            string   `json:"keyHeader"`
	FetchIntervalSeconds int      `json:"fetchIntervalSeconds" validate:"gte=0"`
	Format               string   `json:"format"`   // "FeedMessage" or vendor envelope name
	Protocol             string   `json:"protocol"` // "protobuf" or "json"
}

// EntityIDRange keeps entities whose numeric entity id falls in [Start,End].
type EntityIDRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// TripIDFilter keeps entities by trip_id substring match.
type TripIDFilter struct {
	Includes []string `json:"includes"`
	Excludes []string `json:"excludes"`
}

// TrainFilter selects which feed entities count as trains. The two modes are
// mutually exclusive; an empty filter passes everything through.
type TrainFilter struct {
	EntityID *EntityIDRange `json:"entityID"`
	TripID   *TripIDFilter  `json:"trip_ID"`
}

// PairDetection holds the coupled-train detector thresholds.
type PairDetection struct {
	TrainLengthMeters  float64 `json:"trainLengthMeters"`
	BreakDistanceM     float64 `json:"breakDistanceMeters"`
	MinSpeedMS         float64 `json:"minSpeedMS"`
	MaxImpliedSpeedMS  float64 `json:"maxImpliedSpeedMS"`
	MaxSpeedDiffMS     float64 `json:"maxSpeedDiffMS"`
	MaxBearingDiffDeg  float64 `json:"maxBearingDiffDeg"`
	MaxPositionAgeSecs int64   `json:"maxPositionAgeSeconds"`
}

// ProcessingOptions tunes the per-network pipeline.
type ProcessingOptions struct {
	PairTrains                 bool           `json:"pairTrains"`
	CacheGTFS                  bool           `json:"cacheGTFS"`
	CacheIntervalSeconds       int            `json:"cacheIntervalSeconds"`
	DisplayThreshold           int64          `json:"displayThreshold" validate:"gte=0"`
	RemoveStaleVehiclesHours   float64        `json:"removeStaleVehiclesHours"`
	SmoothingFactor            float64        `json:"smoothingFactor"`
	StopDepartureWindowMinutes int            `json:"stopDepartureWindowMinutes"`
	PairDetection              *PairDetection `json:"pairDetection"`
}

// FileRef names a data file within the network directory.
type FileRef struct {
	FileName string `json:"fileName"`
}

// BlockRemapRule rewrites block numbers in [Start,End] by Offset for one
// board revision.
type BlockRemapRule struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Offset int `json:"offset"`
}

// APIVersion is one board firmware revision of the LED output.
type APIVersion struct {
	Version    string           `json:"version" validate:"required"`
	BlockRemap []BlockRemapRule `json:"blockRemap"`
}

// LEDRailsAPIConfig configures the LED board outputs of one network.
type LEDRailsAPIConfig struct {
	APIVersions         []APIVersion     `json:"APIVersions" validate:"required,min=1,dive"`
	RandomizeTimeOffset bool             `json:"randomizeTimeOffset"`
	Colors              map[string][]int `json:"colors" validate:"required"`
	ColorOrder          []string         `json:"colorOrder"`
}

// NetworkConfig is the per-network configuration loaded from
// railNetworks/<ID>/config.json.
type NetworkConfig struct {
	GTFSRealtimeAPI   GTFSRealtimeAPI   `json:"GTFSRealtimeAPI" validate:"required"`
	TrainFilter       *TrainFilter      `json:"trainFilter"`
	ProcessingOptions ProcessingOptions `json:"processingOptions"`
	Stops             *FileRef          `json:"stops"`
	TrackBlocks       *FileRef          `json:"trackBlocks"`
	LEDRailsAPI       LEDRailsAPIConfig `json:"LEDRailsAPI" validate:"required"`
}
