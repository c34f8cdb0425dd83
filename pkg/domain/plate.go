package domain

import (
	"iter"
	"maps"
	"strconv"
	"strings"
)

// PlateSpec describes a plate to build.
type PlateSpec struct {
	Name         string         `json:"name"`
	Rows         int            `json:"rows"`
	Columns      int            `json:"columns"`
	WellCapacity float64        `json:"well_capacity,omitempty"`
	DeadVolume   float64        `json:"dead_volume,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// standardFormats maps a well count to its (rows, columns) layout.
var standardFormats = map[int][2]int{
	6:    {2, 3},
	12:   {3, 4},
	24:   {4, 6},
	48:   {6, 8},
	96:   {8, 12},
	384:  {16, 24},
	1536: {32, 48},
}

// StandardSpec returns the spec of a standard SBS plate with the given number of wells.
func StandardSpec(name string, wells int, capacity float64) (PlateSpec, error) {
	format, ok := standardFormats[wells]
	if !ok {
		return PlateSpec{}, invalidf("no standard plate format with %d wells", wells)
	}
	return PlateSpec{Name: name, Rows: format[0], Columns: format[1], WellCapacity: capacity}, nil
}

// Plate owns a grid of wells. Wells hold a non-owning reference back to it.
type Plate struct {
	name    string
	rows    int
	columns int
	data    map[string]any
	wells   []*Well
	byName  map[string]*Well
}

// NewPlate builds a plate and all of its wells.
func NewPlate(spec PlateSpec) (*Plate, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, invalidf("plate name required")
	}
	if spec.Rows <= 0 || spec.Columns <= 0 {
		return nil, invalidf("plate %s: rows and columns must be positive", spec.Name)
	}
	if spec.WellCapacity < 0 || spec.DeadVolume < 0 {
		return nil, invalidf("plate %s: capacity and dead volume must not be negative", spec.Name)
	}
	p := &Plate{
		name:    spec.Name,
		rows:    spec.Rows,
		columns: spec.Columns,
		data:    maps.Clone(spec.Data),
		wells:   make([]*Well, 0, spec.Rows*spec.Columns),
		byName:  make(map[string]*Well, spec.Rows*spec.Columns),
	}
	if p.data == nil {
		p.data = make(map[string]any)
	}
	for row := 0; row < spec.Rows; row++ {
		for column := 0; column < spec.Columns; column++ {
			name := WellName(row, column)
			w := NewWell(p, row, column, name, nil)
			if spec.WellCapacity > 0 {
				w.SetCapacity(spec.WellCapacity)
			}
			w.SetDeadVolume(spec.DeadVolume)
			p.wells = append(p.wells, w)
			p.byName[name] = w
		}
	}
	return p, nil
}

// NewStandardPlate builds a standard plate with the given number of wells.
func NewStandardPlate(name string, wells int, capacity float64) (*Plate, error) {
	spec, err := StandardSpec(name, wells, capacity)
	if err != nil {
		return nil, err
	}
	return NewPlate(spec)
}

func (p *Plate) Name() string { return p.name }
func (p *Plate) Rows() int    { return p.rows }
func (p *Plate) Columns() int { return p.columns }

// Size is the number of wells on the plate.
func (p *Plate) Size() int { return len(p.wells) }

// Data returns a copy of the plate metadata.
func (p *Plate) Data() map[string]any { return maps.Clone(p.data) }

// Well looks up a well by name, e.g. "A1".
func (p *Plate) Well(name string) (*Well, bool) {
	w, ok := p.byName[strings.ToUpper(strings.TrimSpace(name))]
	return w, ok
}

// WellAt looks up a well by zero-based coordinates.
func (p *Plate) WellAt(row, column int) (*Well, bool) {
	if row < 0 || row >= p.rows || column < 0 || column >= p.columns {
		return nil, false
	}
	return p.wells[row*p.columns+column], true
}

// WellNameToIndex returns the 1-based position of the named well under the
// given direction.
func (p *Plate) WellNameToIndex(name string, direction Direction) (int, error) {
	row, column, err := ParseWellName(name)
	if err != nil {
		return 0, err
	}
	if row >= p.rows || column >= p.columns {
		return 0, invalidf("well %s is outside plate %s (%dx%d)", name, p.name, p.rows, p.columns)
	}
	switch direction {
	case DirectionRow, "":
		return row*p.columns + column + 1, nil
	case DirectionColumn:
		return column*p.rows + row + 1, nil
	default:
		return 0, invalidf("unknown direction %q", direction)
	}
}

// IndexToWellName is the inverse of WellNameToIndex.
func (p *Plate) IndexToWellName(index int, direction Direction) (string, error) {
	if index < 1 || index > len(p.wells) {
		return "", invalidf("index %d outside plate %s", index, p.name)
	}
	i := index - 1
	switch direction {
	case DirectionRow, "":
		return WellName(i/p.columns, i%p.columns), nil
	case DirectionColumn:
		return WellName(i%p.rows, i/p.rows), nil
	default:
		return "", invalidf("unknown direction %q", direction)
	}
}

// Wells iterates over the plate's wells in the given direction.
func (p *Plate) Wells(direction Direction) iter.Seq[*Well] {
	return func(yield func(*Well) bool) {
		if direction == DirectionColumn {
			for column := 0; column < p.columns; column++ {
				for row := 0; row < p.rows; row++ {
					if !yield(p.wells[row*p.columns+column]) {
						return
					}
				}
			}
			return
		}
		for _, w := range p.wells {
			if !yield(w) {
				return
			}
		}
	}
}

// LastNonEmptyWell returns the last well holding volume in the given direction.
func (p *Plate) LastNonEmptyWell(direction Direction) (*Well, bool) {
	var last *Well
	for w := range p.Wells(direction) {
		if !w.IsEmpty() {
			last = w
		}
	}
	return last, last != nil
}

// FreeWellsAfterLast returns the wells located after the last non-empty well.
// An entirely empty plate returns every well.
func (p *Plate) FreeWellsAfterLast(direction Direction) ([]*Well, error) {
	last, ok := p.LastNonEmptyWell(direction)
	var out []*Well
	for w := range p.Wells(direction) {
		if !ok {
			out = append(out, w)
			continue
		}
		after, err := w.IsAfter(last, direction)
		if err != nil {
			return nil, err
		}
		if after {
			out = append(out, w)
		}
	}
	return out, nil
}

// WellName formats zero-based coordinates as a well name ("A1", "AF48").
func WellName(row, column int) string {
	return RowName(row) + strconv.Itoa(column+1)
}

// RowName converts a zero-based row to letters: 0 -> A, 25 -> Z, 26 -> AA.
func RowName(row int) string {
	name := ""
	for n := row + 1; n > 0; n = (n - 1) / 26 {
		name = string(rune('A'+(n-1)%26)) + name
	}
	return name
}

// ParseWellName returns the zero-based coordinates of a well name.
func ParseWellName(name string) (int, int, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	split := strings.IndexFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	if split <= 0 {
		return 0, 0, invalidf("invalid well name %q", name)
	}
	row := 0
	for _, r := range name[:split] {
		if r < 'A' || r > 'Z' {
			return 0, 0, invalidf("invalid well name %q", name)
		}
		row = row*26 + int(r-'A') + 1
	}
	column, err := strconv.Atoi(name[split:])
	if err != nil || column < 1 {
		return 0, 0, invalidf("invalid well name %q", name)
	}
	return row - 1, column - 1, nil
}
