package plasmid

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bebop/poly/io/genbank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadKeepsCodingSequences(t *testing.T) {
	m, err := Read(filepath.Join("testdata", "puc19.gbk"))
	require.NoError(t, err)

	assert.Equal(t, "puc19.gbk", m.ID)
	assert.Equal(t, 2686, m.Length)
	assert.True(t, m.Circular)
	assert.Equal(t, []Feature{
		{Label: "lacZ fragment", Start: 614, End: 938, Color: ColorEven},
		{Label: "bla", Start: 1283, End: 2144, Color: ColorOdd},
	}, m.Features)
}

func TestFromGenbank(t *testing.T) {
	gb := genbank.Genbank{
		Meta: genbank.Meta{
			Version: "AB000001.2  GI:42",
			Locus:   genbank.Locus{Name: "pDemo", SequenceLength: "1200 bp"},
		},
		Features: []genbank.Feature{
			{Type: "source", Location: genbank.Location{Start: 0, End: 1200}},
			{Type: "CDS", Attributes: map[string]string{"product": "kinase", "locus_tag": "b0001"}, Location: genbank.Location{Start: 9, End: 300}},
			{Type: "gene", Attributes: map[string]string{"gene": "skipped"}, Location: genbank.Location{Start: 9, End: 300}},
			{Type: "CDS", Location: genbank.Location{Start: 399, End: 600, Complement: true}},
			{Type: "CDS", Attributes: map[string]string{"name": "split", "product": "ignored"}, Location: genbank.Location{
				Join: true,
				SubLocations: []genbank.Location{
					{Start: 700, End: 800, Complement: true},
					{Start: 900, End: 1000, Complement: true},
				},
			}},
			{Type: "CDS", Attributes: map[string]string{"label": " "}, Location: genbank.Location{Start: 5, End: 5}},
		},
	}
	m, err := FromGenbank(gb)
	require.NoError(t, err)

	assert.Equal(t, "AB000001.2", m.ID)
	assert.Equal(t, 1200, m.Length)
	assert.False(t, m.Circular)
	assert.Equal(t, []Feature{
		{Label: "b0001", Start: 9, End: 300, Color: ColorEven},
		{Label: "CDS", Start: 399, End: 600, Reverse: true, Color: ColorOdd},
		{Label: "split", Start: 700, End: 1000, Reverse: true, Color: ColorEven},
		{Label: "CDS", Start: 4, End: 5, Color: ColorOdd},
	}, m.Features)
}

func TestFromGenbankNeedsLength(t *testing.T) {
	_, err := FromGenbank(genbank.Genbank{Meta: genbank.Meta{Accession: "X1"}})
	assert.ErrorContains(t, err, "record X1 has no sequence length")
}

func demoMap() Map {
	return Map{
		ID:       "pTest",
		Length:   1000,
		Circular: true,
		Features: []Feature{
			{Label: "alpha", Start: 0, End: 300, Color: ColorEven},
			{Label: "beta", Start: 200, End: 900, Reverse: true, Color: ColorOdd},
			{Label: "gamma", Start: 950, End: 50, Color: ColorEven},
		},
	}
}

func TestWriteLinear(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, demoMap().WriteLinear(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `width="1123" height="794"`)
	assert.Contains(t, out, "<title>pTest</title>")
	assert.Contains(t, out, ">pTest (1,000 bp)</text>")
	// alpha covers two fragments, beta all four, gamma wraps the origin.
	assert.Equal(t, 8, strings.Count(out, "<polygon"))
	for _, label := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, 1, strings.Count(out, ">"+label+"</text>"), label)
	}
	assert.Equal(t, 4, strings.Count(out, "fill:lightblue"))
	assert.Equal(t, 4, strings.Count(out, "fill:blue"))
}

func TestLinearArrowHeads(t *testing.T) {
	xs, ys := linearArrow(100, 200, 50, false, true)
	require.Len(t, xs, 7)
	assert.Equal(t, 200, xs[3])
	assert.Equal(t, 50, ys[3])
	assert.Equal(t, 186, xs[1])

	xs, _ = linearArrow(100, 200, 50, true, false)
	assert.Equal(t, 100, xs[3])
	assert.Equal(t, 114, xs[1])

	xs, _ = linearArrow(100, 200, 50, false, false)
	assert.Equal(t, []int{100, 200, 200, 100}, xs)

	xs, _ = linearArrow(100, 105, 50, false, true)
	assert.Equal(t, 100, xs[1], "head never reaches past the segment start")
}

func TestWriteCircular(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, demoMap().WriteCircular(&buf))
	out := buf.String()

	assert.Contains(t, out, `width="1323" height="1134"`)
	assert.Contains(t, out, ">1,000 bp</text>")
	assert.Equal(t, 3, strings.Count(out, "<path"))
	assert.Equal(t, 3, strings.Count(out, "<polygon"))
	// beta spans 70% of the ring, so its band takes the large arc.
	assert.Contains(t, out, " 0 1 1 ")
}

func TestRingGeometry(t *testing.T) {
	g := ring{cx: 500, cy: 400, r: 100, length: 1000}
	x, y := g.point(g.angle(0), 100)
	assert.Equal(t, [2]int{500, 300}, [2]int{x, y})
	x, y = g.point(g.angle(250), 100)
	assert.Equal(t, [2]int{600, 400}, [2]int{x, y})
	x, y = g.point(g.angle(500), 50)
	assert.Equal(t, [2]int{500, 450}, [2]int{x, y})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteReportsWriterErrors(t *testing.T) {
	assert.EqualError(t, demoMap().WriteLinear(failingWriter{}), "disk full")
	assert.EqualError(t, demoMap().WriteCircular(failingWriter{}), "disk full")
}

func TestExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "maps")
	id, files, err := Export(filepath.Join("testdata", "puc19.gbk"), dir)
	require.NoError(t, err)

	assert.Equal(t, "puc19.gbk", id)
	assert.Equal(t, []string{filepath.Join(dir, LinearFile), filepath.Join(dir, CircularFile)}, files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Contains(t, string(data), ">bla</text>")
		assert.Contains(t, string(data), "</svg>")
	}

	_, _, err = Export(filepath.Join("testdata", "missing.gbk"), dir)
	assert.Error(t, err)
}
