package cbcl

import (
	"context"

	"github.com/grailbio/base/log"
)

// Sentinel values for cycles that could not be decoded: an N call at
// Phred 2.
const (
	SentinelBase = 'N'
	SentinelQual = '#'
)

const qualOffset = 33 // Phred+33 ASCII encoding

// TileReads is one tile's decoded basecall matrix: one row per cycle,
// one (base, ASCII quality) pair per pass-filter cluster. Rows whose
// tile block failed to decode hold sentinel values.
type TileReads struct {
	Cycles   int
	Clusters int
	data     []byte // Cycles rows of Clusters interleaved (base, qual) pairs
}

// Row returns cycle c's interleaved (base, qual) pairs.
func (t *TileReads) Row(c int) []byte {
	n := t.Clusters * 2
	return t.data[c*n : (c+1)*n]
}

// Base returns the basecall for the given cycle and pass-filter
// cluster.
func (t *TileReads) Base(cycle, cluster int) byte { return t.Row(cycle)[cluster*2] }

// Qual returns the Phred+33 quality for the given cycle and
// pass-filter cluster.
func (t *TileReads) Qual(cycle, cluster int) byte { return t.Row(cycle)[cluster*2+1] }

// ExtractReads decodes tile index i across a run of cycles. headers
// must be in cycle order. keep is the tile's full per-cluster filter;
// pfKeep is its reduction to pass-filter positions (all true). Each
// header picks the filter matching how its file was written.
//
// A cycle whose tile block cannot be read or inflated keeps its
// sentinel row; one bad cycle never poisons the tile.
func ExtractReads(ctx context.Context, headers []*Header, keep, pfKeep []bool, i int) *TileReads {
	t := &TileReads{Cycles: len(headers), Clusters: len(pfKeep)}
	t.data = make([]byte, t.Cycles*t.Clusters*2)
	for j := 0; j+1 < len(t.data); j += 2 {
		t.data[j] = SentinelBase
		t.data[j+1] = SentinelQual
	}

	pairs := make([]byte, 0, t.Clusters*2)
	for cycle, h := range headers {
		hKeep := keep
		if h.NonPFClustersExcluded {
			hKeep = pfKeep
		}
		block, err := h.ExtractTile(ctx, i)
		if err != nil {
			log.Printf("cbcl: skipping cycle %d of tile %d: %v", cycle, h.Tiles[i].ID, err)
			continue
		}
		pairs = h.AppendBasecalls(pairs[:0], block, hKeep)
		if len(pairs) != t.Clusters*2 {
			log.Printf("cbcl: cycle %d of tile %d decoded %d clusters, want %d",
				cycle, h.Tiles[i].ID, len(pairs)/2, t.Clusters)
			continue
		}
		row := t.Row(cycle)
		for j := 0; j+1 < len(pairs); j += 2 {
			row[j] = pairs[j]
			row[j+1] = pairs[j+1] + qualOffset
		}
	}
	return t
}
