package trackblocks

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Stop is one GTFS stop.
type Stop struct {
	ID   string  `json:"stop_id"`
	Name string  `json:"stop_name,omitempty"`
	Lat  float64 `json:"stop_lat"`
	Lon  float64 `json:"stop_lon"`
}

// StopsMap maps stop_id to stop.
type StopsMap map[string]Stop

// LoadStops reads a GTFS stops.txt style CSV. Columns are addressed by
// header name; unknown columns are ignored.
func LoadStops(path string) (StopsMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseStops(f)
}

// ParseStops decodes stops CSV from a reader.
func ParseStops(r io.Reader) (StopsMap, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("stops csv: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	idIdx, ok := col["stop_id"]
	if !ok {
		return nil, fmt.Errorf("stops csv: missing stop_id column")
	}

	stops := StopsMap{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stops csv: %w", err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		id := strings.TrimSpace(rec[idIdx])
		if id == "" {
			continue
		}
		lat, _ := strconv.ParseFloat(get("stop_lat"), 64)
		lon, _ := strconv.ParseFloat(get("stop_lon"), 64)
		stops[id] = Stop{ID: id, Name: get("stop_name"), Lat: lat, Lon: lon}
	}
	return stops, nil
}
