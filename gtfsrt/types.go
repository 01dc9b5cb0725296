package gtfsrt

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexInt64 decodes JSON numbers that some vendor feeds encode as strings.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// Some feeds emit fractional epoch seconds.
		fv, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return err
		}
		n = int64(fv)
	}
	*f = FlexInt64(n)
	return nil
}

// Position is a GTFS-realtime vehicle position.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
}

// TripDescriptor identifies the trip a vehicle is serving.
type TripDescriptor struct {
	TripID    string `json:"trip_id"`
	RouteID   string `json:"route_id"`
	StartDate string `json:"start_date,omitempty"`
}

func (t *TripDescriptor) UnmarshalJSON(b []byte) error {
	var raw struct {
		TripID     string `json:"trip_id"`
		TripIDAlt  string `json:"tripId"`
		RouteID    string `json:"route_id"`
		RouteIDAlt string `json:"routeId"`
		StartDate  string `json:"start_date"`
		StartAlt   string `json:"startDate"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.TripID = firstNonEmpty(raw.TripID, raw.TripIDAlt)
	t.RouteID = firstNonEmpty(raw.RouteID, raw.RouteIDAlt)
	t.StartDate = firstNonEmpty(raw.StartDate, raw.StartAlt)
	return nil
}

// VehicleDescriptor identifies the physical vehicle.
type VehicleDescriptor struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// VehiclePosition is the vehicle part of a feed entity.
type VehiclePosition struct {
	Trip      *TripDescriptor    `json:"trip,omitempty"`
	Vehicle   *VehicleDescriptor `json:"vehicle,omitempty"`
	Position  *Position          `json:"position,omitempty"`
	Timestamp FlexInt64          `json:"timestamp,omitempty"`
}

// StopTimeEvent carries the predicted time at one stop.
type StopTimeEvent struct {
	Time  FlexInt64 `json:"time,omitempty"`
	Delay *int32    `json:"delay,omitempty"`
}

// StopTimeUpdate is one stop prediction within a trip update.
type StopTimeUpdate struct {
	StopID    string         `json:"stop_id"`
	Arrival   *StopTimeEvent `json:"arrival,omitempty"`
	Departure *StopTimeEvent `json:"departure,omitempty"`
}

func (s *StopTimeUpdate) UnmarshalJSON(b []byte) error {
	var raw struct {
		StopID    string         `json:"stop_id"`
		StopIDAlt string         `json:"stopId"`
		Arrival   *StopTimeEvent `json:"arrival"`
		Departure *StopTimeEvent `json:"departure"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.StopID = firstNonEmpty(raw.StopID, raw.StopIDAlt)
	s.Arrival = raw.Arrival
	s.Departure = raw.Departure
	return nil
}

// TripUpdate is the trip-update part of a feed entity.
type TripUpdate struct {
	Trip           *TripDescriptor  `json:"trip,omitempty"`
	StopTimeUpdate []StopTimeUpdate `json:"stop_time_update,omitempty"`
}

func (t *TripUpdate) UnmarshalJSON(b []byte) error {
	var raw struct {
		Trip   *TripDescriptor  `json:"trip"`
		STU    []StopTimeUpdate `json:"stop_time_update"`
		STUAlt []StopTimeUpdate `json:"stopTimeUpdate"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.Trip = raw.Trip
	t.StopTimeUpdate = raw.STU
	if t.StopTimeUpdate == nil {
		t.StopTimeUpdate = raw.STUAlt
	}
	return nil
}

// Entity is one FeedMessage entity, carrying a vehicle position and
// optionally the trip update merged in from a companion feed.
type Entity struct {
	ID         string           `json:"id"`
	IsDeleted  bool             `json:"is_deleted,omitempty"`
	Vehicle    *VehiclePosition `json:"vehicle,omitempty"`
	TripUpdate *TripUpdate      `json:"trip_update,omitempty"`
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID            string           `json:"id"`
		IsDeleted     bool             `json:"is_deleted"`
		IsDeletedAlt  bool             `json:"isDeleted"`
		Vehicle       *VehiclePosition `json:"vehicle"`
		TripUpdate    *TripUpdate      `json:"trip_update"`
		TripUpdateAlt *TripUpdate      `json:"tripUpdate"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.IsDeleted = raw.IsDeleted || raw.IsDeletedAlt
	e.Vehicle = raw.Vehicle
	e.TripUpdate = raw.TripUpdate
	if e.TripUpdate == nil {
		e.TripUpdate = raw.TripUpdateAlt
	}
	return nil
}

// FeedHeader is the FeedMessage header.
type FeedHeader struct {
	Timestamp FlexInt64 `json:"timestamp"`
}

// FeedMessage is a decoded GTFS-realtime feed.
type FeedMessage struct {
	Header FeedHeader `json:"header"`
	Entity []*Entity  `json:"entity"`
}

// VehicleID returns the stable vehicle identifier of the entity, or "".
func (e *Entity) VehicleID() string {
	if e.Vehicle != nil && e.Vehicle.Vehicle != nil {
		return e.Vehicle.Vehicle.ID
	}
	return ""
}

// TripID returns the trip identifier from the vehicle or trip update, or "".
func (e *Entity) TripID() string {
	if e.Vehicle != nil && e.Vehicle.Trip != nil && e.Vehicle.Trip.TripID != "" {
		return e.Vehicle.Trip.TripID
	}
	if e.TripUpdate != nil && e.TripUpdate.Trip != nil {
		return e.TripUpdate.Trip.TripID
	}
	return ""
}

// RouteID returns the route identifier from the vehicle or trip update, or "".
func (e *Entity) RouteID() string {
	if e.Vehicle != nil && e.Vehicle.Trip != nil && e.Vehicle.Trip.RouteID != "" {
		return e.Vehicle.Trip.RouteID
	}
	if e.TripUpdate != nil && e.TripUpdate.Trip != nil {
		return e.TripUpdate.Trip.RouteID
	}
	return ""
}

// Timestamp returns the vehicle timestamp in epoch seconds, or 0.
func (e *Entity) Timestamp() int64 {
	if e.Vehicle != nil {
		return int64(e.Vehicle.Timestamp)
	}
	return 0
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
