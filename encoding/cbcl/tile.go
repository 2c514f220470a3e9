package cbcl

import (
	"bytes"
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// ExtractTile reads and inflates tile i's block. The body of a CBCL
// file is a run of concatenated gzip members, one per tile, so the
// reader must tolerate a member boundary anywhere in the block.
//
// The backing file is opened for the duration of the call; callers
// running one task per tile therefore own their file handles outright.
func (h *Header) ExtractTile(ctx context.Context, i int) ([]byte, error) {
	rec := h.Tiles[i]

	in, err := file.Open(ctx, h.Path)
	if err != nil {
		return nil, errors.E(err, "cbcl: open", h.Path)
	}
	defer in.Close(ctx) // nolint: errcheck

	r := in.Reader(ctx)
	if _, err := r.Seek(h.StartPos[i], io.SeekStart); err != nil {
		return nil, errors.E(err, "cbcl: seek to tile", h.Path)
	}
	compressed := make([]byte, rec.CompressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errors.E(err, "cbcl: read tile block", h.Path)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrDecompress
	}
	defer gz.Close() // nolint: errcheck
	uncompressed := make([]byte, rec.UncompressedSize)
	if _, err := io.ReadFull(gz, uncompressed); err != nil {
		return nil, ErrDecompress
	}
	// The block must inflate to exactly the recorded size.
	var extra [1]byte
	if n, _ := gz.Read(extra[:]); n != 0 {
		return nil, ErrDecompress
	}
	return uncompressed, nil
}
