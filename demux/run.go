package demux

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/demux/encoding/cbcl"
	"github.com/grailbio/demux/encoding/filter"
	"github.com/grailbio/demux/runinfo"
)

// LaneSurface identifies one surface half of a lane. CBCL files are
// written per (lane, surface): every cycle directory holds one file per
// surface, covering that surface's tiles.
type LaneSurface struct {
	Lane    int
	Surface int
}

// LaneTile identifies one tile of a lane.
type LaneTile struct {
	Lane int
	Tile uint32
}

// Run is the immutable metadata for one sequencing run: parsed
// RunInfo.xml, the cycle-ordered CBCL headers per (lane, surface), and
// the pass-filter state per (lane, tile). Built once by NewRun and
// shared read-only across tile workers.
type Run struct {
	Path    string
	Info    *runinfo.RunInfo
	Headers map[LaneSurface][]*cbcl.Header
	Filters map[LaneTile]*filter.Filter
}

func baseCallsDir(runPath string) string {
	return filepath.Join(runPath, "Data", "Intensities", "BaseCalls")
}

func laneDir(runPath string, lane int) string {
	return filepath.Join(baseCallsDir(runPath), fmt.Sprintf("L%03d", lane))
}

func cbclPath(runPath string, lane, cycle, surface int) string {
	return filepath.Join(laneDir(runPath, lane),
		fmt.Sprintf("C%d.1", cycle), fmt.Sprintf("L%03d_%d.cbcl", lane, surface))
}

func filterPath(runPath string, lane int, tile uint32) string {
	return filepath.Join(laneDir(runPath, lane), fmt.Sprintf("s_%d_%d.filter", lane, tile))
}

// tileLayoutMatches reports whether two cycle headers describe the
// same tiles in the same order.
func tileLayoutMatches(a, b *cbcl.Header) bool {
	if len(a.Tiles) != len(b.Tiles) {
		return false
	}
	for i := range a.Tiles {
		if a.Tiles[i].ID != b.Tiles[i].ID {
			return false
		}
	}
	return true
}

// NewRun loads the metadata for the run directory at path: RunInfo.xml,
// then for every lane and surface the CBCL header of each cycle, and
// for every tile its filter file. Header reads fan out across cycles.
//
// Tile workers later address a tile by its position in the tile table,
// the same position for every cycle of a (lane, surface). Nothing in
// the file format forces sibling cycles to list their tiles alike, so
// NewRun verifies it here; a mismatch fails the run rather than
// cross-wiring one cycle's basecalls to the wrong tile.
func NewRun(ctx context.Context, path string) (*Run, error) {
	info, err := runinfo.ReadFile(ctx, filepath.Join(path, "RunInfo.xml"))
	if err != nil {
		return nil, err
	}
	run := &Run{
		Path:    path,
		Info:    info,
		Headers: map[LaneSurface][]*cbcl.Header{},
		Filters: map[LaneTile]*filter.Filter{},
	}

	numCycles := info.TotalCycles()
	layout := info.Run.FlowcellLayout
	for lane := 1; lane <= layout.LaneCount; lane++ {
		tiles, err := info.LaneTiles(lane)
		if err != nil {
			return nil, err
		}
		if len(tiles) == 0 {
			return nil, errors.E(fmt.Sprintf("run: no tiles listed for lane %d", lane))
		}
		for surface := 1; surface <= layout.SurfaceCount; surface++ {
			headers := make([]*cbcl.Header, numCycles)
			err := traverse.Each(numCycles, func(c int) error {
				h, err := cbcl.ReadHeader(ctx, cbclPath(path, lane, c+1, surface))
				headers[c] = h
				return err
			})
			if err != nil {
				return nil, err
			}
			for c := 1; c < numCycles; c++ {
				if !tileLayoutMatches(headers[0], headers[c]) {
					return nil, errors.E(fmt.Sprintf("run: lane %d surface %d cycle %d lists tiles in a different order than cycle 1",
						lane, surface, c+1))
				}
			}
			run.Headers[LaneSurface{lane, surface}] = headers
		}
		for _, tile := range tiles {
			f, err := filter.Read(ctx, filterPath(path, lane, tile))
			if err != nil {
				return nil, err
			}
			run.Filters[LaneTile{lane, tile}] = f
		}
		log.Debug.Printf("run: lane %d: %d tiles, %d cycles", lane, len(tiles), numCycles)
	}
	return run, nil
}
