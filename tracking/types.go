package tracking

// OutOfService is the route sentinel for vehicles reporting no route_id.
const OutOfService = "OUT-OF-SERVICE"

// TrainPosition is the smoothed position state of a tracked train.
type TrainPosition struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Timestamp int64    `json:"timestamp"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
}

// StopTime is one upcoming stop of a tracked train.
type StopTime struct {
	StopID        string `json:"stopId"`
	DepartureTime int64  `json:"departureTime"`
}

// TrainInfo is the persistent per-vehicle roster entry. Created on first
// sighting, mutated every cycle, dropped when the underlying feed entity is
// evicted.
type TrainInfo struct {
	TrainID       string        `json:"trainId"`
	Position      TrainPosition `json:"position"`
	CurrentBlock  *int          `json:"currentBlock,omitempty"`
	PreviousBlock *int          `json:"previousBlock,omitempty"`
	Route         string        `json:"route"`
	TripID        string        `json:"tripId,omitempty"`
	Stops         []StopTime    `json:"stops,omitempty"`
}

// TrainPair records two physical units operating as one coupled train.
type TrainPair struct {
	PairKey        string    `json:"pairKey"`
	VehicleIDs     [2]string `json:"vehicleIds"`
	DetectedAt     int64     `json:"detectedAt"`
	DistanceM      float64   `json:"distanceMeters"`
	SpeedDiffMS    float64   `json:"speedDiffMS"`
	BearingDiffDeg float64   `json:"bearingDiffDeg"`
}
