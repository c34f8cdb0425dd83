package plasmid

import (
	"fmt"
	"io"
	"math"

	svg "github.com/ajstarks/svgo"
	"github.com/dustin/go-humanize"
)

// Page sizes in pixels at 96 dpi: A4 landscape for the linear map and
// 35 x 30 cm for the circular one.
const (
	linearWidth    = 1123
	linearHeight   = 794
	circularWidth  = 1323
	circularHeight = 1134

	margin    = 60
	fragments = 4
	bodyHalf  = 7
	headHalf  = 14
	headLen   = 14
	labelFont = "font-family:sans-serif;font-size:12px"
)

// segment is the part of a feature inside [from, to).
type segment struct {
	from, to  int
	headLeft  bool
	headRight bool
	first     bool
}

// segments splits f at the origin. Arrow heads sit on the last base of a
// forward feature and the first base of a reverse one.
func (m Map) segments(f Feature) []segment {
	if f.End >= f.Start {
		return []segment{{from: f.Start, to: f.End, headLeft: f.Reverse, headRight: !f.Reverse, first: true}}
	}
	return []segment{
		{from: f.Start, to: m.Length, headLeft: f.Reverse, first: true},
		{from: 0, to: f.End, headRight: !f.Reverse},
	}
}

func (m Map) title() string {
	return fmt.Sprintf("%s (%s bp)", m.ID, humanize.Comma(int64(m.Length)))
}

// WriteLinear draws the record as four stacked fragments with the features
// as arrows along each.
func (m Map) WriteLinear(w io.Writer) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(linearWidth, linearHeight)
	canvas.Title(m.ID)
	canvas.Text(margin, margin/2, m.title(), "font-family:sans-serif;font-size:18px")

	fragLen := (m.Length + fragments - 1) / fragments
	rowGap := (linearHeight - 2*margin) / fragments
	span := linearWidth - 2*margin
	for i := range fragments {
		fStart := i * fragLen
		if fStart >= m.Length {
			break
		}
		fEnd := min(m.Length, fStart+fragLen)
		y := margin + i*rowGap + rowGap/2
		x := func(pos int) int { return margin + (pos-fStart)*span/fragLen }

		canvas.Line(x(fStart), y, x(fEnd), y, "stroke:black;stroke-width:1")
		canvas.Text(x(fStart), y+headHalf+16, humanize.Comma(int64(fStart+1)), labelFont)
		canvas.Text(x(fEnd), y+headHalf+16, humanize.Comma(int64(fEnd)), labelFont+";text-anchor:end")

		for _, f := range m.Features {
			for _, s := range m.segments(f) {
				lo, hi := max(s.from, fStart), min(s.to, fEnd)
				if lo >= hi {
					continue
				}
				xs, ys := linearArrow(x(lo), x(hi), y, s.headLeft && lo == s.from, s.headRight && hi == s.to)
				canvas.Polygon(xs, ys, fill(f.Color))
				if s.first && lo == s.from {
					canvas.Text(x(lo), y-headHalf-4, f.Label, labelFont)
				}
			}
		}
	}
	canvas.End()
	return ew.err
}

func linearArrow(x1, x2, y int, headLeft, headRight bool) ([]int, []int) {
	hl := min(headLen, x2-x1)
	switch {
	case headRight:
		return []int{x1, x2 - hl, x2 - hl, x2, x2 - hl, x2 - hl, x1},
			[]int{y - bodyHalf, y - bodyHalf, y - headHalf, y, y + headHalf, y + bodyHalf, y + bodyHalf}
	case headLeft:
		return []int{x2, x1 + hl, x1 + hl, x1, x1 + hl, x1 + hl, x2},
			[]int{y - bodyHalf, y - bodyHalf, y - headHalf, y, y + headHalf, y + bodyHalf, y + bodyHalf}
	}
	return []int{x1, x2, x2, x1}, []int{y - bodyHalf, y - bodyHalf, y + bodyHalf, y + bodyHalf}
}

// WriteCircular draws the record as a ring starting at the top and running
// clockwise, with the features as curved arrows on the ring.
func (m Map) WriteCircular(w io.Writer) error {
	ew := &errWriter{w: w}
	canvas := svg.New(ew)
	canvas.Start(circularWidth, circularHeight)
	canvas.Title(m.ID)

	cx, cy := circularWidth/2, circularHeight/2
	r := float64(min(circularWidth, circularHeight)) * 0.35
	canvas.Circle(cx, cy, int(r), "fill:none;stroke:black;stroke-width:1")
	canvas.Text(cx, cy, m.ID, "font-family:sans-serif;font-size:20px;text-anchor:middle")
	canvas.Text(cx, cy+24, humanize.Comma(int64(m.Length))+" bp", labelFont+";text-anchor:middle")

	g := ring{cx: float64(cx), cy: float64(cy), r: r, length: m.Length}
	for _, f := range m.Features {
		end := f.End
		if end < f.Start {
			end += m.Length
		}
		a0, a1 := g.angle(f.Start), g.angle(end)
		head := math.Min(headLen/r, (a1-a0)/2)
		b0, b1 := a0, a1
		if f.Reverse {
			b0 += head
		} else {
			b1 -= head
		}
		canvas.Path(g.band(b0, b1), fill(f.Color))
		if f.Reverse {
			xs, ys := g.head(b0, a0)
			canvas.Polygon(xs, ys, fill(f.Color))
		} else {
			xs, ys := g.head(b1, a1)
			canvas.Polygon(xs, ys, fill(f.Color))
		}

		mid := (a0 + a1) / 2
		lx, ly := g.point(mid, r+headHalf+14)
		anchor := "start"
		if math.Cos(mid) < 0 {
			anchor = "end"
		}
		canvas.Text(lx, ly, f.Label, labelFont+";text-anchor:"+anchor)
	}
	canvas.End()
	return ew.err
}

type ring struct {
	cx, cy, r float64
	length    int
}

// angle maps a position to radians, zero at twelve o'clock.
func (g ring) angle(pos int) float64 {
	return 2*math.Pi*float64(pos)/float64(g.length) - math.Pi/2
}

func (g ring) point(a, radius float64) (int, int) {
	return int(math.Round(g.cx + radius*math.Cos(a))), int(math.Round(g.cy + radius*math.Sin(a)))
}

// band is the path of the ring section between two angles.
func (g ring) band(a0, a1 float64) string {
	outer, inner := g.r+bodyHalf, g.r-bodyHalf
	large := 0
	if a1-a0 > math.Pi {
		large = 1
	}
	ox0, oy0 := g.point(a0, outer)
	ox1, oy1 := g.point(a1, outer)
	ix1, iy1 := g.point(a1, inner)
	ix0, iy0 := g.point(a0, inner)
	return fmt.Sprintf("M%d,%d A%d,%d 0 %d 1 %d,%d L%d,%d A%d,%d 0 %d 0 %d,%d Z",
		ox0, oy0, int(outer), int(outer), large, ox1, oy1,
		ix1, iy1, int(inner), int(inner), large, ix0, iy0)
}

// head is the triangle with its base at angle base and its tip at angle tip.
func (g ring) head(base, tip float64) ([]int, []int) {
	x0, y0 := g.point(base, g.r+headHalf)
	x1, y1 := g.point(tip, g.r)
	x2, y2 := g.point(base, g.r-headHalf)
	return []int{x0, x1, x2}, []int{y0, y1, y2}
}

func fill(color string) string {
	return "fill:" + color + ";stroke:black;stroke-width:0.5"
}

// errWriter keeps the first write error; svgo drops them.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}
