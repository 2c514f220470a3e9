// Package runinfo parses RunInfo.xml, the instrument's description of a
// sequencing run: identity fields, the read structure (how the cycle
// stream divides into template and index reads), and the flowcell
// layout.
package runinfo

import (
	"context"
	"encoding/xml"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// RunInfo is the root of a RunInfo.xml document.
type RunInfo struct {
	Version int `xml:"Version,attr"`
	Run     Run `xml:"Run"`
}

// Run describes one sequencing run.
type Run struct {
	ID             string         `xml:"Id,attr"`
	Number         int            `xml:"Number,attr"`
	Flowcell       string         `xml:"Flowcell"`
	Instrument     string         `xml:"Instrument"`
	Date           string         `xml:"Date"`
	Reads          []Read         `xml:"Reads>Read"`
	FlowcellLayout FlowcellLayout `xml:"FlowcellLayout"`
}

// Read is one read descriptor: a contiguous range of cycles that is
// either a template read or an index read.
type Read struct {
	Number        int    `xml:"Number,attr"`
	NumCycles     int    `xml:"NumCycles,attr"`
	IsIndexedRead string `xml:"IsIndexedRead,attr"`
}

// Indexed reports whether the read holds index (barcode) cycles.
func (r Read) Indexed() bool { return r.IsIndexedRead == "Y" }

// FlowcellLayout describes the physical arrangement of the flowcell.
type FlowcellLayout struct {
	LaneCount    int     `xml:"LaneCount,attr"`
	SurfaceCount int     `xml:"SurfaceCount,attr"`
	SwathCount   int     `xml:"SwathCount,attr"`
	TileCount    int     `xml:"TileCount,attr"`
	TileSet      TileSet `xml:"TileSet"`
}

// TileSet lists the tiles present on the flowcell. Tile entries are
// "<lane>_<tile>" strings, e.g. "1_1101".
type TileSet struct {
	TileNamingConvention string   `xml:"TileNamingConvention,attr"`
	Tiles                []string `xml:"Tiles>Tile"`
}

// Parse decodes a RunInfo.xml document.
func Parse(data []byte) (*RunInfo, error) {
	info := &RunInfo{}
	if err := xml.Unmarshal(data, info); err != nil {
		return nil, errors.Wrap(err, "parsing RunInfo.xml")
	}
	if len(info.Run.Reads) == 0 {
		return nil, errors.New("RunInfo.xml describes no reads")
	}
	return info, nil
}

// ReadFile reads and parses the RunInfo.xml at path.
func ReadFile(ctx context.Context, path string) (*RunInfo, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// TotalCycles returns the number of cycles across all reads.
func (r *RunInfo) TotalCycles() int {
	n := 0
	for _, read := range r.Run.Reads {
		n += read.NumCycles
	}
	return n
}

// Segment is a read descriptor resolved to its half-open cycle range
// within the run's cycle stream.
type Segment struct {
	Number  int
	Indexed bool
	Start   int // first cycle, 0-based
	End     int // one past the last cycle
}

// Segments resolves the read descriptors into cycle ranges, in read
// order.
func (r *RunInfo) Segments() []Segment {
	segs := make([]Segment, 0, len(r.Run.Reads))
	cycle := 0
	for _, read := range r.Run.Reads {
		segs = append(segs, Segment{
			Number:  read.Number,
			Indexed: read.Indexed(),
			Start:   cycle,
			End:     cycle + read.NumCycles,
		})
		cycle += read.NumCycles
	}
	return segs
}

// LaneTiles returns the tile IDs listed for the given 1-based lane, in
// listed order.
func (r *RunInfo) LaneTiles(lane int) ([]uint32, error) {
	prefix := strconv.Itoa(lane) + "_"
	var tiles []uint32
	for _, entry := range r.Run.FlowcellLayout.TileSet.Tiles {
		if !strings.HasPrefix(entry, prefix) {
			continue
		}
		id, err := strconv.ParseUint(entry[len(prefix):], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad tile entry %q", entry)
		}
		tiles = append(tiles, uint32(id))
	}
	return tiles, nil
}
