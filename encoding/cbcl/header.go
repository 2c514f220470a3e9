package cbcl

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

var (
	// ErrMalformedHeader is returned when a CBCL header is truncated or
	// describes an encoding this package does not support.
	ErrMalformedHeader = errors.New("malformed CBCL header")
	// ErrDecompress is returned when a tile block cannot be inflated to
	// its recorded uncompressed size.
	ErrDecompress = errors.New("CBCL tile decompression failed")
)

// QBin maps a stored quality-bin index to the quality value it decodes
// to.
type QBin struct {
	From uint32
	To   uint32
}

// TileRecord describes one tile's block within a CBCL file body.
type TileRecord struct {
	ID               uint32
	NumClusters      uint32
	UncompressedSize uint32
	CompressedSize   uint32
}

// Header is the parsed prefix of a CBCL file. It is immutable after
// ReadHeader returns.
type Header struct {
	Path            string
	Version         uint16
	HeaderSize      uint32
	BitsPerBasecall uint8
	BitsPerQscore   uint8
	Bins            []QBin
	Tiles           []TileRecord
	// NonPFClustersExcluded indicates that clusters failing the chastity
	// filter were dropped before compression, so tile blocks only hold
	// pass-filter clusters.
	NonPFClustersExcluded bool

	// StartPos[i] is the byte offset of tile i's gzip block, computed as
	// HeaderSize plus the compressed sizes of the preceding tiles.
	StartPos []int64
}

// headerReader reads little-endian fields with a sticky error, so the
// parse below can stay linear.
type headerReader struct {
	r   io.Reader
	err error
}

func (h *headerReader) read(data interface{}) {
	if h.err != nil {
		return
	}
	h.err = binary.Read(h.r, binary.LittleEndian, data)
}

func (h *headerReader) u8() (v uint8)   { h.read(&v); return v }
func (h *headerReader) u16() (v uint16) { h.read(&v); return v }
func (h *headerReader) u32() (v uint32) { h.read(&v); return v }

// ReadHeader parses the header of the CBCL file at path. Only 2-bit
// basecall and 2-bit quality encodings are supported.
func ReadHeader(ctx context.Context, path string) (*Header, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	h, err := parseHeader(in.Reader(ctx))
	if err != nil {
		return nil, err
	}
	h.Path = path
	return h, nil
}

func parseHeader(r io.Reader) (*Header, error) {
	hr := &headerReader{r: r}
	h := &Header{
		Version:         hr.u16(),
		HeaderSize:      hr.u32(),
		BitsPerBasecall: hr.u8(),
		BitsPerQscore:   hr.u8(),
	}
	numBins := hr.u32()
	if hr.err == nil && numBins > 0 {
		h.Bins = make([]QBin, numBins)
		for i := range h.Bins {
			h.Bins[i] = QBin{From: hr.u32(), To: hr.u32()}
		}
	}
	numTiles := hr.u32()
	if hr.err == nil {
		h.Tiles = make([]TileRecord, numTiles)
		for i := range h.Tiles {
			h.Tiles[i] = TileRecord{
				ID:               hr.u32(),
				NumClusters:      hr.u32(),
				UncompressedSize: hr.u32(),
				CompressedSize:   hr.u32(),
			}
		}
	}
	nonPF := hr.u8()
	if hr.err != nil {
		return nil, ErrMalformedHeader
	}
	if h.BitsPerBasecall != 2 || h.BitsPerQscore != 2 {
		return nil, ErrMalformedHeader
	}
	if numBins == 0 {
		return nil, ErrMalformedHeader
	}
	if nonPF > 1 {
		log.Printf("cbcl: nonPFClustersExcluded byte is %d, treating as true", nonPF)
	}
	h.NonPFClustersExcluded = nonPF != 0

	h.StartPos = make([]int64, len(h.Tiles))
	pos := int64(h.HeaderSize)
	for i, t := range h.Tiles {
		h.StartPos[i] = pos
		pos += int64(t.CompressedSize)
	}
	return h, nil
}

// DecodeQscore maps a stored quality-bin index to its quality value.
// Indices outside the bin table decode to zero, which downstream
// translation masks to an N call.
func (h *Header) DecodeQscore(b byte) byte {
	if int(b) >= len(h.Bins) {
		return 0
	}
	return byte(h.Bins[b].To)
}

// TileIndex returns the position of the tile with the given ID in the
// header's tile table.
func (h *Header) TileIndex(id uint32) (int, bool) {
	for i, t := range h.Tiles {
		if t.ID == id {
			return i, true
		}
	}
	return 0, false
}
