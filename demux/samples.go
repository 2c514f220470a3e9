package demux

import (
	"errors"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

var (
	// ErrMalformedSampleSheet is returned when sample-sheet rows are
	// missing required columns or have inconsistent shapes.
	ErrMalformedSampleSheet = errors.New("malformed sample sheet")
	// ErrIndexCollision is returned when two samples in a lane share an
	// index and cannot be told apart at all.
	ErrIndexCollision = errors.New("two samples share the same indices")
)

// Samples holds one lane's samples and their error-correction sets.
// The maps from potential indices to samples are stored per sample;
// sample i matches an observed index iff the index is in sample i's
// set. Construction guarantees the sets are pairwise conflict-free, so
// a lookup with one index per index read of the lane (two for a
// dual-index lane) matches at most one sample; a one-index lookup on a
// dual-index lane can match several. Immutable after NewSamples returns
// and safe for concurrent use.
type Samples struct {
	SampleNames []string
	// ProjectNames[i] is sample i's project, or "" when the sheet has no
	// Sample_Project column. Either every sample has one or none does.
	ProjectNames []string

	indexVec  []string
	index2Vec []string
	indexMap  []StringSet
	index2Map []StringSet
}

// NewSamples builds the error-correction sets for one lane.
// index2 is empty for single-index lanes, otherwise parallel to index.
// Each sample's neighborhood is grown one substitution at a time, in
// parallel across samples, up to maxDistance; the first radius at which
// any two samples' neighborhoods conflict is discarded and the previous
// radius kept.
func NewSamples(names, projects, index, index2 []string, maxDistance int) (*Samples, error) {
	if len(index) != len(names) {
		return nil, ErrMalformedSampleSheet
	}
	if len(index2) != 0 && len(index2) != len(index) {
		return nil, ErrMalformedSampleSheet
	}
	nProjects := 0
	for _, p := range projects {
		if p != "" {
			nProjects++
		}
	}
	if nProjects != 0 && nProjects != len(names) {
		return nil, ErrMalformedSampleSheet
	}
	seen := make(StringSet, len(names))
	for _, name := range names {
		if name == "" || seen.Contains(name) {
			return nil, ErrMalformedSampleSheet
		}
		seen[name] = struct{}{}
	}

	s := &Samples{
		SampleNames:  append([]string(nil), names...),
		ProjectNames: append([]string(nil), projects...),
		indexVec:     append([]string(nil), index...),
		index2Vec:    append([]string(nil), index2...),
		indexMap:     make([]StringSet, len(index)),
		index2Map:    make([]StringSet, len(index2)),
	}
	if s.ProjectNames == nil {
		s.ProjectNames = make([]string, len(names))
	}
	for i, idx := range index {
		s.indexMap[i] = SingletonSet(idx)
	}
	for i, idx2 := range index2 {
		s.index2Map[i] = SingletonSet(idx2)
	}

	if conflict(s.indexMap, s.index2Map) {
		return nil, ErrIndexCollision
	}

	for r := 1; r <= maxDistance; r++ {
		next := make([]StringSet, len(s.indexMap))
		next2 := make([]StringSet, len(s.index2Map))
		_ = traverse.Each(len(next), func(i int) error { // nolint: errcheck
			next[i] = HammingSet(s.indexMap[i])
			if i < len(next2) {
				next2[i] = HammingSet(s.index2Map[i])
			}
			return nil
		})
		if conflict(next, next2) {
			log.Printf("demux: conflict at distance %d, using %d instead", r, r-1)
			break
		}
		s.indexMap = next
		s.index2Map = next2
	}
	return s, nil
}

// conflict reports whether any two samples' sets collide. With two
// indices, a pair conflicts when both marginal intersections are
// non-empty; this deliberately approximates the joint pair test, since
// the sets are built by componentwise substitution.
func conflict(index, index2 []StringSet) bool {
	for i := range index {
		for j := i + 1; j < len(index); j++ {
			if !index[i].Intersects(index[j]) {
				continue
			}
			if len(index2) == 0 || index2[i].Intersects(index2[j]) {
				return true
			}
		}
	}
	return false
}

// NumSamples returns the number of samples in the lane.
func (s *Samples) NumSamples() int { return len(s.SampleNames) }

// Index returns sample i's original index sequence.
func (s *Samples) Index(i int) string { return s.indexVec[i] }

// Index2 returns sample i's original second index, or "" for a
// single-index lane.
func (s *Samples) Index2(i int) string {
	if len(s.index2Vec) == 0 {
		return ""
	}
	return s.index2Vec[i]
}

// TwoIndex reports whether the lane uses two indices.
func (s *Samples) TwoIndex() bool { return len(s.index2Vec) != 0 }

func checkArity(n int) {
	if n != 1 && n != 2 {
		panic(fmt.Sprintf("demux: got %d indices", n))
	}
}

// GetSample reports whether the observed indices fall in sample i's
// correction sets. One or two indices are accepted; any other arity is
// a caller bug and panics.
func (s *Samples) GetSample(i int, indices ...string) bool {
	checkArity(len(indices))
	if !s.indexMap[i].Contains(indices[0]) {
		return false
	}
	return len(indices) == 1 || s.index2Map[i].Contains(indices[1])
}

// IsExact reports whether the observed indices equal sample i's
// original indices.
func (s *Samples) IsExact(i int, indices ...string) bool {
	checkArity(len(indices))
	if s.indexVec[i] != indices[0] {
		return false
	}
	return len(indices) == 1 || s.index2Vec[i] == indices[1]
}

// IsAnySample reports whether the observed indices resolve to any
// sample in the lane.
func (s *Samples) IsAnySample(indices ...string) bool {
	checkArity(len(indices))
	for i := range s.indexMap {
		if s.GetSample(i, indices...) {
			return true
		}
	}
	return false
}

// FindSample returns the sample the observed indices resolve to, or -1.
func (s *Samples) FindSample(indices ...string) int {
	checkArity(len(indices))
	for i := range s.indexMap {
		if s.GetSample(i, indices...) {
			return i
		}
	}
	return -1
}
