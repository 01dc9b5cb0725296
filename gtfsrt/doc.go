// Package gtfsrt handles fetching, decoding and storing GTFS-Realtime feeds.
//
// It supports two feed types per network:
//   - Vehicle Positions: current vehicle locations
//   - Trip Updates: real-time arrival/departure predictions, merged into the
//     matching position entities by entity id
//
// Feeds may be protobuf (decoded with the MobilityData bindings) or JSON
// (bare FeedMessage or a vendor {response: ...} envelope). The EntityStore
// keeps the newest entity per vehicle and applies the network's train filter.
package gtfsrt
