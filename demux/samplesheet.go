package demux

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// SampleData maps a lane number to that lane's samples. Lane 0 is the
// sentinel for sheets without a Lane column, where every sample applies
// to all lanes.
type SampleData map[int]*Samples

// ReadSampleSheet loads a sample sheet and builds the per-lane
// error-correction maps, growing each lane's neighborhoods up to
// maxDistance (see NewSamples).
//
// The sheet is standard CSV with an arbitrary preamble; rows are
// skipped until one whose first field is "[Data]". The next row names
// the columns: Sample_Name and Index are required, Lane, Index2, and
// Sample_Project optional. Unrecognized columns are ignored and rows
// may be ragged.
func ReadSampleSheet(ctx context.Context, path string, maxDistance int) (SampleData, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "samplesheet: open", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	return parseSampleSheet(in.Reader(ctx), maxDistance)
}

// laneRows accumulates one lane's columns in sheet order.
type laneRows struct {
	names    []string
	projects []string
	index    []string
	index2   []string
}

func parseSampleSheet(r io.Reader, maxDistance int) (SampleData, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // ragged rows are fine

	// Skip the preamble.
	var row []string
	var err error
	for {
		row, err = cr.Read()
		if err == io.EOF {
			return nil, ErrMalformedSampleSheet
		}
		if err != nil {
			return nil, errors.E(err, "samplesheet: read")
		}
		if len(row) > 0 && row[0] == "[Data]" {
			break
		}
	}

	header, err := cr.Read()
	if err != nil {
		return nil, ErrMalformedSampleSheet
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"Sample_Name", "Index"} {
		if _, ok := col[required]; !ok {
			log.Error.Printf("samplesheet: missing required column %s", required)
			return nil, ErrMalformedSampleSheet
		}
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	lanes := map[int]*laneRows{}
	nRows := 0
	for {
		row, err = cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "samplesheet: read")
		}
		nRows++

		lane := 0
		if s := cell(row, "Lane"); s != "" {
			if lane, err = strconv.Atoi(s); err != nil {
				return nil, ErrMalformedSampleSheet
			}
		}
		rows := lanes[lane]
		if rows == nil {
			rows = &laneRows{}
			lanes[lane] = rows
		}
		rows.names = append(rows.names, cell(row, "Sample_Name"))
		rows.projects = append(rows.projects, cell(row, "Sample_Project"))
		idx := cell(row, "Index")
		if idx == "" {
			log.Error.Printf("samplesheet: data row %d has an empty Index cell", nRows)
			return nil, ErrMalformedSampleSheet
		}
		rows.index = append(rows.index, idx)
		if idx2 := cell(row, "Index2"); idx2 != "" {
			rows.index2 = append(rows.index2, idx2)
		}
	}
	if nRows == 0 {
		return nil, ErrMalformedSampleSheet
	}

	data := make(SampleData, len(lanes))
	for lane, rows := range lanes {
		samples, err := NewSamples(rows.names, rows.projects, rows.index, rows.index2, maxDistance)
		if err != nil {
			return nil, err
		}
		data[lane] = samples
	}
	return data, nil
}

// ForLane returns the samples for a 1-based lane, falling back to the
// lane-0 sentinel when the sheet had no Lane column.
func (d SampleData) ForLane(lane int) *Samples {
	if s, ok := d[lane]; ok {
		return s
	}
	return d[0]
}
