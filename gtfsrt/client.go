package gtfsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/protobuf/proto"

	"github.com/CDFER/LED-Rails-Backend/config"
)

// Client fetches and decodes all realtime feeds of one network.
type Client struct {
	httpClient *http.Client
	cfg        config.GTFSRealtimeAPI
	apiKey     string
	timeout    time.Duration
	maxRetries uint64
}

// NewClient creates a feed client for the given API configuration. The key
// is sent in the configured key header on every request.
func NewClient(cfg config.GTFSRealtimeAPI, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		apiKey:     apiKey,
		timeout:    config.DefaultFetchTimeoutSeconds * time.Second,
		maxRetries: 2,
	}
}

// FetchCycle retrieves all position and trip-update feeds concurrently,
// merges trip updates into the matching position entities by entity id, and
// returns the combined entity list. Individual feed failures are logged and
// skipped; the cycle fails only if every position feed fails.
func (c *Client) FetchCycle(ctx context.Context) ([]*Entity, error) {
	type result struct {
		url      string
		entities []*Entity
		isTrip   bool
		err      error
	}

	total := len(c.cfg.URL) + len(c.cfg.TripsURL)
	results := make(chan result, total)
	var wg sync.WaitGroup

	fetch := func(url string, isTrip bool) {
		defer wg.Done()
		entities, err := c.fetchOne(ctx, url)
		results <- result{url: url, entities: entities, isTrip: isTrip, err: err}
	}
	for _, url := range c.cfg.URL {
		wg.Add(1)
		go fetch(url, false)
	}
	for _, url := range c.cfg.TripsURL {
		wg.Add(1)
		go fetch(url, true)
	}
	wg.Wait()
	close(results)

	var positions []*Entity
	tripUpdates := map[string]*TripUpdate{}
	okPositions := 0
	for res := range results {
		if res.err != nil {
			log.Printf("fetch %s: %v", res.url, res.err)
			continue
		}
		if res.isTrip {
			for _, e := range res.entities {
				if e.TripUpdate != nil {
					tripUpdates[e.ID] = e.TripUpdate
				}
			}
			continue
		}
		okPositions++
		positions = append(positions, res.entities...)
	}
	if okPositions == 0 && len(c.cfg.URL) > 0 {
		return nil, fmt.Errorf("all %d position feeds failed", len(c.cfg.URL))
	}

	// Trip updates replace, not merge, the stop predictions on the entity.
	if len(tripUpdates) > 0 {
		for _, e := range positions {
			if tu, ok := tripUpdates[e.ID]; ok {
				e.TripUpdate = tu
			}
		}
	}
	return positions, nil
}

func (c *Client) fetchOne(ctx context.Context, url string) ([]*Entity, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if c.cfg.KeyHeader != "" && c.apiKey != "" {
			req.Header.Set(c.cfg.KeyHeader, c.apiKey)
		}
		if c.cfg.Protocol == "protobuf" {
			req.Header.Set("Accept", "application/x-protobuf")
		} else {
			req.Header.Set("Accept", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
		}
		return io.ReadAll(resp.Body)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), reqCtx)
	body, err := backoff.RetryWithData(op, b)
	if err != nil {
		return nil, err
	}
	return c.decode(body)
}

func (c *Client) decode(body []byte) ([]*Entity, error) {
	if c.cfg.Protocol == "protobuf" {
		var pb gtfsrtpb.FeedMessage
		if err := proto.Unmarshal(body, &pb); err != nil {
			return nil, fmt.Errorf("protobuf decode: %w", err)
		}
		return entitiesFromProto(&pb), nil
	}
	var fm FeedMessage
	if c.cfg.Format != "" && c.cfg.Format != "FeedMessage" {
		var envelope struct {
			Response *FeedMessage `json:"response"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
		if envelope.Response == nil {
			return nil, fmt.Errorf("json decode: missing response envelope")
		}
		fm = *envelope.Response
	} else {
		if err := json.Unmarshal(body, &fm); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
	}
	return fm.Entity, nil
}

// entitiesFromProto converts a protobuf FeedMessage into the uniform entity
// model used by the rest of the pipeline.
func entitiesFromProto(pb *gtfsrtpb.FeedMessage) []*Entity {
	out := make([]*Entity, 0, len(pb.Entity))
	for _, pe := range pb.Entity {
		e := &Entity{ID: pe.GetId(), IsDeleted: pe.GetIsDeleted()}
		if v := pe.Vehicle; v != nil {
			vp := &VehiclePosition{Timestamp: FlexInt64(v.GetTimestamp())}
			if t := v.Trip; t != nil {
				vp.Trip = &TripDescriptor{
					TripID:    t.GetTripId(),
					RouteID:   t.GetRouteId(),
					StartDate: t.GetStartDate(),
				}
			}
			if d := v.Vehicle; d != nil {
				vp.Vehicle = &VehicleDescriptor{ID: d.GetId(), Label: d.GetLabel()}
			}
			if p := v.Position; p != nil {
				pos := &Position{
					Latitude:  float64(p.GetLatitude()),
					Longitude: float64(p.GetLongitude()),
				}
				if p.Speed != nil {
					s := float64(p.GetSpeed())
					pos.Speed = &s
				}
				if p.Bearing != nil {
					b := float64(p.GetBearing())
					pos.Bearing = &b
				}
				vp.Position = pos
			}
			e.Vehicle = vp
		}
		if tu := pe.TripUpdate; tu != nil {
			u := &TripUpdate{}
			if t := tu.Trip; t != nil {
				u.Trip = &TripDescriptor{
					TripID:    t.GetTripId(),
					RouteID:   t.GetRouteId(),
					StartDate: t.GetStartDate(),
				}
			}
			for _, stu := range tu.StopTimeUpdate {
				s := StopTimeUpdate{StopID: stu.GetStopId()}
				if a := stu.Arrival; a != nil {
					s.Arrival = &StopTimeEvent{Time: FlexInt64(a.GetTime())}
				}
				if d := stu.Departure; d != nil {
					s.Departure = &StopTimeEvent{Time: FlexInt64(d.GetTime())}
				}
				u.StopTimeUpdate = append(u.StopTimeUpdate, s)
			}
			e.TripUpdate = u
		}
		out = append(out, e)
	}
	return out
}
