// Package tracking maintains the per-network roster of tracked trains.
//
// This package handles:
// - Folding filtered feed entities into persistent TrainInfo records
// - Position smoothing, bearing and speed updates, stop merging
// - Coupled-train pair detection and invisibility election
// - Assigning each train to at most one track block per cycle
//
// The Tracker type owns the roster; the PairDetector owns the pair set.
// Both are updated once per tick. The pair set can be restored from cache on
// startup; the roster is not cached and is rebuilt from the entity store.
package tracking
