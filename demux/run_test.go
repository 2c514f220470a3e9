package demux

import (
	"bytes"
	"context"
	"encoding/binary"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/demux/encoding/cbcl"
)

const testRunXML = `<?xml version="1.0"?>
<RunInfo Version="5">
  <Run Id="190414_A00111_0296_AHJCWWDSXX" Number="296">
    <Flowcell>HJCWWDSXX</Flowcell>
    <Instrument>A00111</Instrument>
    <Date>4/14/2019 1:17:20 PM</Date>
    <Reads>
      <Read Number="1" NumCycles="3" IsIndexedRead="N"/>
      <Read Number="2" NumCycles="4" IsIndexedRead="Y"/>
    </Reads>
    <FlowcellLayout LaneCount="1" SurfaceCount="1" SwathCount="1" TileCount="1">
      <TileSet TileNamingConvention="FourDigit">
        <Tiles>
          <Tile>1_1101</Tile>
        </Tiles>
      </TileSet>
    </FlowcellLayout>
  </Run>
</RunInfo>`

var runTestBins = []cbcl.QBin{{From: 0, To: 0}, {From: 1, To: 11}, {From: 2, To: 25}, {From: 3, To: 37}}

var baseBits = map[byte]byte{'A': 0, 'C': 1, 'G': 2, 'T': 3}

// packCycle packs one cycle's basecalls (one per cluster, all at the
// top quality bin) into CBCL tile bytes.
func packCycle(bases string) []byte {
	nibbles := make([]byte, 0, len(bases))
	for i := 0; i < len(bases); i++ {
		nibbles = append(nibbles, 3<<2|baseBits[bases[i]])
	}
	if len(nibbles)%2 != 0 {
		nibbles = append(nibbles, 0)
	}
	packed := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		packed = append(packed, nibbles[i+1]<<4|nibbles[i])
	}
	return packed
}

// testTile is one tile of a synthesized CBCL file: its ID and its
// cleartext block.
type testTile struct {
	id    uint32
	block []byte
}

func writeTestCBCL(t *testing.T, path string, numClusters uint32, tiles []testTile) {
	blocks := make([][]byte, len(tiles))
	for i, tile := range tiles {
		var gzBuf bytes.Buffer
		gz := gzip.NewWriter(&gzBuf)
		_, err := gz.Write(tile.block)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		blocks[i] = gzBuf.Bytes()
	}

	var hdr bytes.Buffer
	write := func(data interface{}) {
		require.NoError(t, binary.Write(&hdr, binary.LittleEndian, data))
	}
	writeBody := func() {
		write(uint16(1)) // version
		write(uint32(0)) // header size, patched below
		write(uint8(2))  // bits per basecall
		write(uint8(2))  // bits per qscore
		write(uint32(len(runTestBins)))
		for _, b := range runTestBins {
			write(b.From)
			write(b.To)
		}
		write(uint32(len(tiles)))
		for i, tile := range tiles {
			write(tile.id)
			write(numClusters)
			write(uint32(len(tile.block)))
			write(uint32(len(blocks[i])))
		}
		write(uint8(0)) // non-PF clusters included
	}
	writeBody()
	headerSize := uint32(hdr.Len())
	hdr.Reset()
	writeBody()
	raw := hdr.Bytes()
	binary.LittleEndian.PutUint32(raw[2:], headerSize)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	for _, block := range blocks {
		raw = append(raw, block...)
	}
	require.NoError(t, os.WriteFile(path, raw, 0644))
}

func writeTestFilter(t *testing.T, path string, keep []byte) {
	var buf bytes.Buffer
	for _, v := range []uint32{0, 3, uint32(len(keep))} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	buf.Write(keep)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

// buildTestRun synthesizes a one-lane, one-tile run: three template
// cycles followed by a four-cycle index read, four clusters of which
// three pass the filter.
func buildTestRun(t *testing.T, dir string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, "RunInfo.xml"), []byte(testRunXML), 0644))

	// Per-cycle bases for clusters 0..3; cluster 1 fails the filter.
	cycles := []string{
		"AXCG", // template cycle 1
		"CXGT", // template cycle 2
		"TXTA", // template cycle 3
		"AXCG", // index cycles: cluster 0 reads AAAA,
		"AXCG", // cluster 2 reads CCCC, cluster 3 reads GGGG
		"AXCG",
		"AXCG",
	}
	for c, bases := range cycles {
		writeTestCBCL(t, cbclPath(dir, 1, c+1, 1), 4,
			[]testTile{{1101, packCycle(strings.ReplaceAll(bases, "X", "A"))}})
	}
	writeTestFilter(t, filterPath(dir, 1, 1101), []byte{1, 0, 1, 1})
}

func TestNewRun(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	buildTestRun(t, tmpDir)

	run, err := NewRun(context.Background(), tmpDir)
	require.NoError(t, err)

	headers := run.Headers[LaneSurface{1, 1}]
	require.Len(t, headers, 7)
	for _, h := range headers {
		require.Len(t, h.Tiles, 1)
		assert.Equal(t, uint32(1101), h.Tiles[0].ID)
		assert.Equal(t, uint32(4), h.Tiles[0].NumClusters)
	}

	f := run.Filters[LaneTile{1, 1101}]
	require.NotNil(t, f)
	assert.Equal(t, []bool{true, false, true, true}, f.Keep)
	assert.Equal(t, 3, f.NumPassed())
}

func TestNewRunMissingPieces(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// No RunInfo.xml at all.
	_, err := NewRun(ctx, tmpDir)
	assert.Error(t, err)

	// RunInfo present but basecall files absent.
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "RunInfo.xml"), []byte(testRunXML), 0644))
	_, err = NewRun(ctx, tmpDir)
	assert.Error(t, err)
}

// buildTwoTileRun is buildTestRun with a second tile appended to every
// cycle file.
func buildTwoTileRun(t *testing.T, dir string) {
	xml := strings.Replace(testRunXML, "<Tile>1_1101</Tile>",
		"<Tile>1_1101</Tile>\n          <Tile>1_1102</Tile>", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "RunInfo.xml"), []byte(xml), 0644))

	for c := 1; c <= 7; c++ {
		writeTestCBCL(t, cbclPath(dir, 1, c, 1), 4, []testTile{
			{1101, packCycle("AACG")},
			{1102, packCycle("CCGT")},
		})
	}
	writeTestFilter(t, filterPath(dir, 1, 1101), []byte{1, 0, 1, 1})
	writeTestFilter(t, filterPath(dir, 1, 1102), []byte{1, 1, 1, 1})
}

func TestNewRunTwoTiles(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	buildTwoTileRun(t, tmpDir)

	run, err := NewRun(context.Background(), tmpDir)
	require.NoError(t, err)

	headers := run.Headers[LaneSurface{1, 1}]
	require.Len(t, headers, 7)
	for _, h := range headers {
		require.Len(t, h.Tiles, 2)
		assert.Equal(t, uint32(1101), h.Tiles[0].ID)
		assert.Equal(t, uint32(1102), h.Tiles[1].ID)
	}
	require.NotNil(t, run.Filters[LaneTile{1, 1101}])
	require.NotNil(t, run.Filters[LaneTile{1, 1102}])
}

// A cycle file listing its tiles in a different order than its
// siblings must fail the run load: tiles are addressed positionally
// across cycles, and a silent reorder would cross-wire basecalls
// between tiles.
func TestNewRunTileOrderMismatch(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	buildTwoTileRun(t, tmpDir)

	writeTestCBCL(t, cbclPath(tmpDir, 1, 4, 1), 4, []testTile{
		{1102, packCycle("CCGT")},
		{1101, packCycle("AACG")},
	})

	_, err := NewRun(context.Background(), tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different order")
}

func readGzippedFastq(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint: errcheck
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := ioutil.ReadAll(gz)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestDemuxerProcess(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	runDir := filepath.Join(tmpDir, "run")
	outDir := filepath.Join(tmpDir, "out")
	require.NoError(t, os.MkdirAll(runDir, 0755))
	require.NoError(t, os.MkdirAll(outDir, 0755))
	buildTestRun(t, runDir)

	sheet := filepath.Join(tmpDir, "samplesheet.csv")
	require.NoError(t, os.WriteFile(sheet, []byte(`[Data]
Sample_Name,Index
sample_1,AAAA
sample_2,CCCC
`), 0644))

	run, err := NewRun(ctx, runDir)
	require.NoError(t, err)
	data, err := ReadSampleSheet(ctx, sheet, 1)
	require.NoError(t, err)

	d := NewDemuxer(run, data, outDir)
	require.NoError(t, d.Process(ctx))

	// Pass-filter cluster 0 reads index AAAA: sample_1, template ACT.
	lines := readGzippedFastq(t, filepath.Join(outDir, "sample_1_S1_L001_R1_001.fastq.gz"))
	assert.Equal(t, []string{
		"@A00111:296:HJCWWDSXX:1:1101:0:0 1:N:0:AAAA",
		"ACT",
		"+",
		"FFF",
	}, lines)

	// Pass-filter cluster 1 (raw cluster 2) reads CCCC: sample_2.
	lines = readGzippedFastq(t, filepath.Join(outDir, "sample_2_S2_L001_R1_001.fastq.gz"))
	assert.Equal(t, []string{
		"@A00111:296:HJCWWDSXX:1:1101:0:1 1:N:0:CCCC",
		"CGT",
		"+",
		"FFF",
	}, lines)

	// Pass-filter cluster 2 reads GGGG: no sample matches at radius 1.
	lines = readGzippedFastq(t, filepath.Join(outDir, "Undetermined_S0_L001_R1_001.fastq.gz"))
	assert.Equal(t, []string{
		"@A00111:296:HJCWWDSXX:1:1101:0:2 1:N:0:GGGG",
		"GTA",
		"+",
		"FFF",
	}, lines)
}
