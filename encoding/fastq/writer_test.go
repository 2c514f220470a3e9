package fastq

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(&Read{
		ID:   "@M00001:1:FLOW:1:1101:0:0 1:N:0:ACTG",
		Seq:  []byte("ACGTN"),
		Qual: []byte("FF:F#"),
	}))
	require.NoError(t, w.Write(&Read{ID: "@r2", Seq: []byte("GG"), Qual: []byte("FF")}))

	want := "@M00001:1:FLOW:1:1101:0:0 1:N:0:ACTG\nACGTN\n+\nFF:F#\n@r2\nGG\n+\nFF\n"
	assert.Equal(t, want, buf.String())
}

type failWriter struct{ n int }

func (f *failWriter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, errors.New("disk full")
	}
	f.n--
	return len(p), nil
}

func TestWriterStickyError(t *testing.T) {
	w := NewWriter(&failWriter{n: 3})
	err := w.Write(&Read{ID: "@r", Seq: []byte("A"), Qual: []byte("F")})
	require.Error(t, err)
	assert.Equal(t, err, w.Write(&Read{ID: "@r2", Seq: []byte("A"), Qual: []byte("F")}))
}
