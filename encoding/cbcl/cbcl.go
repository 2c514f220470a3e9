// Package cbcl implements random-access decoding of CBCL (concatenated
// base call) files.  A CBCL file stores one sequencing cycle's worth of
// basecalls for part of a flowcell lane.  It consists of a little-endian
// header describing the quality-score bin table and the per-tile block
// layout, followed by one gzip member per tile, concatenated in tile
// order.  Each uncompressed tile byte packs two clusters: a 2-bit
// basecall and a 2-bit quality-bin index per cluster, low nibble first.
//
// Headers are parsed once with ReadHeader and are safe for concurrent
// use; tile blocks are fetched on demand with ExtractTile, which opens
// the backing file for the duration of the call.
package cbcl
