// Package trackblocks loads the rail map: KML track block polygons with
// platform disambiguation data, and the GTFS stops file. Blocks are immutable
// after load and iterated in a canonical order the block assignment search
// depends on.
package trackblocks
