package demux

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/demux/encoding/cbcl"
	"github.com/grailbio/demux/encoding/fastq"
	"github.com/grailbio/demux/runinfo"
	"github.com/klauspost/compress/gzip"
)

// undetermined is the pseudo-sample collecting clusters whose indices
// resolve to no sample.
const undetermined = -1

// outputKey identifies one output FASTQ stream.
type outputKey struct {
	lane   int
	sample int // index into the lane's Samples, or undetermined
	read   int // template read ordinal, 1-based
}

// output is one FASTQ stream. Tile tasks append whole reads under the
// lock; reads from different tiles interleave but never tear.
type output struct {
	mu sync.Mutex
	f  file.File
	gz *gzip.Writer
	w  *fastq.Writer
}

func (o *output) write(r *fastq.Read) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(r)
}

func (o *output) close(ctx context.Context) error {
	var err error
	if e := o.gz.Close(); e != nil {
		err = e
	}
	if e := o.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return err
}

// Demuxer assigns each pass-filter cluster of a run to a sample and
// writes per-sample, per-read gzipped FASTQ files into an output
// directory.
type Demuxer struct {
	run  *Run
	data SampleData
	dir  string

	mu      sync.Mutex
	outputs map[outputKey]*output
	counts  map[outputKey]int64
}

// NewDemuxer returns a Demuxer writing under dir.
func NewDemuxer(run *Run, data SampleData, dir string) *Demuxer {
	return &Demuxer{
		run:     run,
		data:    data,
		dir:     dir,
		outputs: map[outputKey]*output{},
		counts:  map[outputKey]int64{},
	}
}

func (d *Demuxer) outputName(key outputKey) string {
	if key.sample == undetermined {
		return fmt.Sprintf("Undetermined_S0_L%03d_R%d_001.fastq.gz", key.lane, key.read)
	}
	name := d.data.ForLane(key.lane).SampleNames[key.sample]
	return fmt.Sprintf("%s_S%d_L%03d_R%d_001.fastq.gz", name, key.sample+1, key.lane, key.read)
}

// writer returns the stream for key, opening it on first use.
func (d *Demuxer) writer(ctx context.Context, key outputKey) (*output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if o, ok := d.outputs[key]; ok {
		return o, nil
	}
	f, err := file.Create(ctx, filepath.Join(d.dir, d.outputName(key)))
	if err != nil {
		return nil, errors.E(err, "demux: create output", d.outputName(key))
	}
	gz := gzip.NewWriter(f.Writer(ctx))
	o := &output{f: f, gz: gz, w: fastq.NewWriter(gz)}
	d.outputs[key] = o
	return o, nil
}

// Process decodes and assigns every (lane, tile) task of the run, one
// worker per task. Tiles fail independently: a tile whose cycles all
// degrade to sentinels still produces (unassignable) clusters rather
// than aborting the run.
func (d *Demuxer) Process(ctx context.Context) error {
	type task struct {
		key     LaneSurface
		headers []*cbcl.Header
		tile    uint32
		index   int // tile index within the headers' tile tables
	}
	var tasks []task
	for key, headers := range d.run.Headers {
		for i, rec := range headers[0].Tiles {
			tasks = append(tasks, task{key, headers, rec.ID, i})
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].key.Lane != tasks[j].key.Lane {
			return tasks[i].key.Lane < tasks[j].key.Lane
		}
		return tasks[i].tile < tasks[j].tile
	})

	err := traverse.Each(len(tasks), func(i int) error {
		t := tasks[i]
		return d.processTile(ctx, t.key.Lane, t.headers, t.tile, t.index)
	})

	for key, o := range d.outputs {
		if e := o.close(ctx); e != nil && err == nil {
			err = errors.E(e, "demux: close output", d.outputName(key))
		}
	}
	d.logCounts()
	return err
}

func (d *Demuxer) logCounts() {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]outputKey, 0, len(d.counts))
	for key := range d.counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.lane != b.lane {
			return a.lane < b.lane
		}
		if a.sample != b.sample {
			return a.sample < b.sample
		}
		return a.read < b.read
	})
	for _, key := range keys {
		log.Printf("demux: %s: %d reads", d.outputName(key), d.counts[key])
	}
}

// indexSegments returns the index-read cycle ranges to match against
// the lane's samples: one for single-index lanes, two for dual.
func indexSegments(info *runinfo.RunInfo, samples *Samples) []runinfo.Segment {
	var segs []runinfo.Segment
	for _, seg := range info.Segments() {
		if seg.Indexed {
			segs = append(segs, seg)
		}
	}
	want := 1
	if samples.TwoIndex() {
		want = 2
	}
	if len(segs) > want {
		segs = segs[:want]
	}
	return segs
}

func (d *Demuxer) processTile(ctx context.Context, lane int, headers []*cbcl.Header, tile uint32, tileIndex int) error {
	samples := d.data.ForLane(lane)
	if samples == nil {
		log.Printf("demux: no samples for lane %d, skipping tile %d", lane, tile)
		return nil
	}
	filt := d.run.Filters[LaneTile{lane, tile}]
	if filt == nil {
		log.Printf("demux: no filter for lane %d tile %d, skipping", lane, tile)
		return nil
	}

	reads := cbcl.ExtractReads(ctx, headers, filt.Keep, filt.PassFilter(), tileIndex)
	idxSegs := indexSegments(d.run.Info, samples)
	if samples.TwoIndex() && len(idxSegs) < 2 {
		return errors.E(fmt.Sprintf("demux: lane %d samples use two indices but the run has fewer index reads", lane))
	}

	var templates []runinfo.Segment
	for _, seg := range d.run.Info.Segments() {
		if !seg.Indexed {
			templates = append(templates, seg)
		}
	}

	indices := make([]string, 0, 2)
	seq := make([]byte, 0, 64)
	qual := make([]byte, 0, 64)
	for cluster := 0; cluster < reads.Clusters; cluster++ {
		indices = indices[:0]
		for _, seg := range idxSegs {
			seq = seq[:0]
			for c := seg.Start; c < seg.End; c++ {
				seq = append(seq, reads.Base(c, cluster))
			}
			indices = append(indices, string(seq))
		}
		sample := undetermined
		if len(indices) > 0 {
			sample = samples.FindSample(indices...)
		}

		for readOrd, seg := range templates {
			seq, qual = seq[:0], qual[:0]
			for c := seg.Start; c < seg.End; c++ {
				seq = append(seq, reads.Base(c, cluster))
				qual = append(qual, reads.Qual(c, cluster))
			}
			key := outputKey{lane: lane, sample: sample, read: readOrd + 1}
			o, err := d.writer(ctx, key)
			if err != nil {
				return err
			}
			rec := fastq.Read{
				ID: fmt.Sprintf("@%s:%d:%s:%d:%d:0:%d %d:N:0:%s",
					d.run.Info.Run.Instrument, d.run.Info.Run.Number, d.run.Info.Run.Flowcell,
					lane, tile, cluster, readOrd+1, joinIndices(indices)),
				Seq:  seq,
				Qual: qual,
			}
			if err := o.write(&rec); err != nil {
				return errors.E(err, "demux: write", d.outputName(key))
			}
			d.mu.Lock()
			d.counts[key]++
			d.mu.Unlock()
		}
	}
	log.Debug.Printf("demux: finished lane %d tile %d (%d clusters)", lane, tile, reads.Clusters)
	return nil
}

func joinIndices(indices []string) string {
	switch len(indices) {
	case 1:
		return indices[0]
	case 2:
		return indices[0] + "+" + indices[1]
	}
	return ""
}
