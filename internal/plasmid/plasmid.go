// Package plasmid draws linear and circular plasmid maps of the coding
// sequences annotated in a GenBank record.
package plasmid

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bebop/poly/io/genbank"
)

// Feature colors alternate along the record.
const (
	ColorEven = "lightblue"
	ColorOdd  = "blue"
)

// Output file names written by Export.
const (
	LinearFile   = "plasmid_linear.svg"
	CircularFile = "plasmid_circular.svg"
)

// labelQualifiers are tried in order to name a feature.
var labelQualifiers = []string{"gene", "label", "name", "locus_tag", "product"}

// Feature is one drawn region. Start is zero-based and End exclusive; a
// feature with End before Start wraps through the origin.
type Feature struct {
	Label   string
	Start   int
	End     int
	Reverse bool
	Color   string
}

// Map is the drawable content of a record.
type Map struct {
	ID       string
	Length   int
	Circular bool
	Features []Feature
}

// Read parses the GenBank file at path.
func Read(path string) (Map, error) {
	gb, err := genbank.Read(path)
	if err != nil {
		return Map{}, fmt.Errorf("read %s: %w", path, err)
	}
	return FromGenbank(gb)
}

// Parse reads one GenBank record.
func Parse(r io.Reader) (Map, error) {
	gb, err := genbank.Parse(r)
	if err != nil {
		return Map{}, fmt.Errorf("parse genbank: %w", err)
	}
	return FromGenbank(gb)
}

// FromGenbank keeps the CDS features of a record.
func FromGenbank(gb genbank.Genbank) (Map, error) {
	m := Map{ID: recordID(gb.Meta), Length: len(gb.Sequence), Circular: gb.Meta.Locus.Circular}
	if m.Length == 0 {
		m.Length = locusLength(gb.Meta.Locus.SequenceLength)
	}
	if m.Length <= 0 {
		return Map{}, fmt.Errorf("record %s has no sequence length", m.ID)
	}
	for _, f := range gb.Features {
		if f.Type != "CDS" {
			continue
		}
		start, end, reverse := span(f.Location)
		color := ColorEven
		if len(m.Features)%2 == 1 {
			color = ColorOdd
		}
		m.Features = append(m.Features, Feature{
			Label:   label(f),
			Start:   start,
			End:     end,
			Reverse: reverse,
			Color:   color,
		})
	}
	return m, nil
}

// recordID prefers the versioned accession, then the accession, then the
// locus name.
func recordID(meta genbank.Meta) string {
	for _, v := range []string{meta.Version, meta.Accession} {
		if fields := strings.Fields(v); len(fields) > 0 && fields[0] != "." {
			return fields[0]
		}
	}
	if meta.Locus.Name != "" {
		return meta.Locus.Name
	}
	return meta.Name
}

func locusLength(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

func label(f genbank.Feature) string {
	for _, q := range labelQualifiers {
		if v := strings.TrimSpace(f.Attributes[q]); v != "" {
			return v
		}
	}
	return f.Type
}

// span flattens joins to their outer bounds. A location is reversed when it
// or every part of it is a complement.
func span(loc genbank.Location) (start, end int, reverse bool) {
	if len(loc.SubLocations) == 0 {
		start, end = loc.Start, loc.End
		if end == start {
			// Single base positions are one-based.
			start--
		}
		return start, end, loc.Complement
	}
	start, end, reverse = math.MaxInt, math.MinInt, true
	for _, sub := range loc.SubLocations {
		s, e, r := span(sub)
		start, end = min(start, s), max(end, e)
		reverse = reverse && r
	}
	return start, end, reverse || loc.Complement
}

// Export reads a GenBank file and writes LinearFile and CircularFile into
// dir. It returns the record id and the written paths.
func Export(gbPath, dir string) (string, []string, error) {
	m, err := Read(gbPath)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	var written []string
	for _, out := range []struct {
		name  string
		write func(io.Writer) error
	}{
		{LinearFile, m.WriteLinear},
		{CircularFile, m.WriteCircular},
	} {
		path := filepath.Join(dir, out.name)
		if err := writeFile(path, out.write); err != nil {
			return "", written, err
		}
		written = append(written, path)
	}
	return m.ID, written, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return write(f)
}
