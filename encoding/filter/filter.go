// Package filter reads per-tile pass-filter files. A filter file holds
// one byte per cluster for a single tile; the low bit records whether
// the cluster passed the instrument's chastity filter.
package filter

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"

	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// ErrMalformedFilter is returned when a filter file's header or cluster
// bytes are truncated. A non-zero reserved header word is only logged.
var ErrMalformedFilter = errors.New("malformed filter file")

// Filter is the pass-filter state for every cluster of one tile.
type Filter struct {
	Version uint32
	// Keep has one entry per cluster, true for pass-filter clusters.
	Keep []bool
}

// Read parses the filter file at path. The on-disk layout is a reserved
// zero u32, a version u32, a cluster-count u32, then one byte per
// cluster, all little-endian.
func Read(ctx context.Context, path string) (*Filter, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, gerrors.E(err, "filter: open", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	return parse(bufio.NewReader(in.Reader(ctx)))
}

func parse(r io.Reader) (*Filter, error) {
	var hdr struct {
		Zero        uint32
		Version     uint32
		NumClusters uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, ErrMalformedFilter
	}
	if hdr.Zero != 0 {
		log.Printf("filter: reserved header word is %d, expected 0", hdr.Zero)
	}
	raw := make([]byte, hdr.NumClusters)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, ErrMalformedFilter
	}
	f := &Filter{Version: hdr.Version, Keep: make([]bool, hdr.NumClusters)}
	for i, b := range raw {
		f.Keep[i] = b&1 == 1
	}
	return f, nil
}

// NumPassed counts the pass-filter clusters.
func (f *Filter) NumPassed() int {
	n := 0
	for _, k := range f.Keep {
		if k {
			n++
		}
	}
	return n
}

// PassFilter returns the filter restricted to its passing positions: an
// all-true slice with one entry per pass-filter cluster. It is the
// filter to use against tile blocks written with non-PF clusters
// excluded.
func (f *Filter) PassFilter() []bool {
	pf := make([]bool, f.NumPassed())
	for i := range pf {
		pf[i] = true
	}
	return pf
}
