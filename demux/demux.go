// Package demux assigns sequencing clusters to samples. It builds, per
// lane, an error-correcting map from observed index (barcode) sequences
// to samples: each sample's index is expanded to the largest Hamming
// neighborhood that stays disjoint from every other sample's, so a
// cluster whose index carries a few substitution errors still resolves
// to the right sample.
package demux
