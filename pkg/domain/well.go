package domain

import (
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"sort"
	"strings"
)

// Direction selects the traversal order of wells on a plate.
type Direction string

const (
	// DirectionRow orders wells row by row (A1, A2, ..., B1, ...).
	DirectionRow Direction = "row"
	// DirectionColumn orders wells column by column (A1, B1, ..., A2, ...).
	DirectionColumn Direction = "column"
)

// PlateRef is the read-only view a well keeps of its owning plate.
type PlateRef interface {
	Name() string
	WellNameToIndex(name string, direction Direction) (int, error)
}

// Well is a single liquid-holding location on a plate. It owns its content and
// records the sources that fed it. Wells are not safe for concurrent mutation.
type Well struct {
	plate      PlateRef
	row        int
	column     int
	name       string
	capacity   float64
	bounded    bool
	deadVolume float64
	data       map[string]any
	sources    []Source
	content    *WellContent
}

// NewWell creates an empty well. Plates call this when they are built.
func NewWell(plate PlateRef, row, column int, name string, data map[string]any) *Well {
	if data == nil {
		data = make(map[string]any)
	}
	return &Well{
		plate:   plate,
		row:     row,
		column:  column,
		name:    name,
		data:    data,
		content: NewWellContent(),
	}
}

func (w *Well) Plate() PlateRef { return w.plate }
func (w *Well) Row() int        { return w.row }
func (w *Well) Column() int     { return w.column }
func (w *Well) Name() string    { return w.name }

// Coordinates returns (row, column), both zero-based.
func (w *Well) Coordinates() (int, int) { return w.row, w.column }

// Volume is the current liquid volume in liters.
func (w *Well) Volume() float64 { return w.content.Volume }

// IsEmpty reports whether the well holds no volume.
func (w *Well) IsEmpty() bool { return w.content.Volume == 0 }

// Capacity returns the maximum volume and whether one is set.
func (w *Well) Capacity() (float64, bool) { return w.capacity, w.bounded }

// SetCapacity bounds the well's volume.
func (w *Well) SetCapacity(capacity float64) {
	w.capacity = capacity
	w.bounded = true
}

// ClearCapacity makes the well unbounded.
func (w *Well) ClearCapacity() {
	w.capacity = 0
	w.bounded = false
}

// DeadVolume is the volume that cannot be aspirated from the well.
func (w *Well) DeadVolume() float64 { return w.deadVolume }

// SetDeadVolume sets the well's dead volume.
func (w *Well) SetDeadVolume(v float64) { w.deadVolume = v }

// Data returns a copy of the well metadata.
func (w *Well) Data() map[string]any { return maps.Clone(w.data) }

// SetData stores a metadata value.
func (w *Well) SetData(key string, value any) { w.data[key] = value }

// Content returns a snapshot of the well content.
func (w *Well) Content() ContentSnapshot { return w.content.ToDict() }

// Quantity returns the tracked quantity of a component.
func (w *Well) Quantity(component string) (float64, bool) {
	q, ok := w.content.Quantities[component]
	return q, ok
}

// Sources returns a copy of the provenance list.
func (w *Well) Sources() []Source { return slices.Clone(w.sources) }

// AddSource appends a provenance entry. Entries are never deduplicated.
func (w *Well) AddSource(src Source) { w.sources = append(w.sources, src) }

// tolerance is the relative difference under which two volumes or quantities
// count as equal. Splitting a well into n equal transfers accumulates rounding
// error of this order.
const tolerance = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(math.Abs(a), math.Abs(b))
}

// above reports whether a exceeds b by more than the tolerance.
func above(a, b float64) bool { return a > b && !near(a, b) }

func (w *Well) checkAdd(quantities map[string]float64, volume float64) error {
	if volume < 0 {
		return newTransferError("add", ErrNegativeQuantity, "Transfer of negative volume %.2e L to %s.", volume, w)
	}
	for component, quantity := range quantities {
		if quantity < 0 {
			return newTransferError("add", ErrNegativeQuantity, "Negative quantity %.2e of %s added to %s.", quantity, component, w)
		}
	}
	if volume > 0 && w.bounded && above(w.content.Volume+volume, w.capacity) {
		return newTransferError("add", ErrCapacityExceeded, "Transfer of %.2e L to %s brings volume over capacity.", volume, w)
	}
	return nil
}

// AddContent adds component quantities and an optional volume (zero leaves the
// volume unchanged). It fails without mutating anything when the addition
// would exceed capacity or carries negative amounts.
func (w *Well) AddContent(quantities map[string]float64, volume float64) error {
	if err := w.checkAdd(quantities, volume); err != nil {
		return err
	}
	w.applyAdd(quantities, volume)
	return nil
}

func (w *Well) applyAdd(quantities map[string]float64, volume float64) {
	if volume > 0 {
		w.content.Volume += volume
	}
	for component, quantity := range quantities {
		if quantity == 0 {
			continue
		}
		w.content.Quantities[component] += quantity
	}
}

func (w *Well) checkSubtract(quantities map[string]float64, volume float64) error {
	if volume < 0 {
		return newTransferError("subtract", ErrNegativeQuantity, "Subtraction of negative volume %.2e L from %s.", volume, w)
	}
	if above(volume, w.content.Volume) {
		return newTransferError("subtract", ErrInsufficientVolume,
			"Subtraction of %.2e L from %s is impossible. Current volume: %.2e L", volume, w, w.content.Volume)
	}
	for component, quantity := range quantities {
		if quantity < 0 {
			return newTransferError("subtract", ErrNegativeQuantity, "Negative quantity %.2e of %s subtracted from %s.", quantity, component, w)
		}
		if quantity == 0 {
			continue
		}
		tracked, ok := w.content.Quantities[component]
		if !ok {
			return newTransferError("subtract", ErrUnknownComponent, "Component %s is not present in %s.", component, w)
		}
		if above(quantity, tracked) {
			return newTransferError("subtract", ErrInsufficientQuantity,
				"Subtraction of %.2e of %s from %s is impossible. Current quantity: %.2e", quantity, component, w, tracked)
		}
	}
	return nil
}

// SubtractContent removes component quantities and a volume. A volume or
// component quantity left within rounding tolerance of zero becomes zero, and
// such a component is removed from the content. Every check runs
// before mutation, so a failure leaves the well unchanged.
func (w *Well) SubtractContent(quantities map[string]float64, volume float64) error {
	if err := w.checkSubtract(quantities, volume); err != nil {
		return err
	}
	w.applySubtract(quantities, volume)
	return nil
}

func (w *Well) applySubtract(quantities map[string]float64, volume float64) {
	if volume > 0 {
		w.content.Volume = remainder(w.content.Volume, volume)
	}
	for component, quantity := range quantities {
		if quantity == 0 {
			continue
		}
		rest := remainder(w.content.Quantities[component], quantity)
		if rest == 0 {
			delete(w.content.Quantities, component)
			continue
		}
		w.content.Quantities[component] = rest
	}
}

func remainder(have, take float64) float64 {
	rest := have - take
	if rest <= tolerance*have {
		return 0
	}
	return rest
}

// EmptyCompletely resets the well to zero volume and no components.
func (w *Well) EmptyCompletely() {
	w.content.Quantities = make(map[string]float64)
	w.content.Volume = 0
}

// IterateSourcesTree yields every entry of the well's provenance graph depth
// first, parents before children, with the well itself last. Wells reached
// through several paths are yielded once per path. A cycle stops iteration
// with a TransferError wrapping ErrSourceCycle.
func (w *Well) IterateSourcesTree() iter.Seq2[Source, error] {
	return func(yield func(Source, error) bool) {
		w.walkSources(make(map[*Well]struct{}), yield)
	}
}

func (w *Well) walkSources(onPath map[*Well]struct{}, yield func(Source, error) bool) bool {
	if _, ok := onPath[w]; ok {
		yield(Source{}, newTransferError("sources", ErrSourceCycle, "Well %s appears in its own source tree.", w))
		return false
	}
	onPath[w] = struct{}{}
	defer delete(onPath, w)
	for _, src := range w.sources {
		if parent, ok := src.Well(); ok {
			if !parent.walkSources(onPath, yield) {
				return false
			}
			continue
		}
		if !yield(src, nil) {
			return false
		}
	}
	return yield(WellSource(w), nil)
}

// SourcesTree collects IterateSourcesTree into a slice.
func (w *Well) SourcesTree() ([]Source, error) {
	var out []Source
	for src, err := range w.IterateSourcesTree() {
		if err != nil {
			return out, err
		}
		out = append(out, src)
	}
	return out, nil
}

// IndexInPlate resolves the well's position through its plate.
func (w *Well) IndexInPlate(direction Direction) (int, error) {
	if w.plate == nil {
		return 0, fmt.Errorf("well %s has no plate", w.name)
	}
	return w.plate.WellNameToIndex(w.name, direction)
}

// IsAfter reports whether the well is located strictly after other.
func (w *Well) IsAfter(other *Well, direction Direction) (bool, error) {
	idx, err := w.IndexInPlate(direction)
	if err != nil {
		return false, err
	}
	otherIdx, err := other.IndexInPlate(direction)
	if err != nil {
		return false, err
	}
	return idx > otherIdx, nil
}

func (w *Well) String() string {
	plateName := ""
	if w.plate != nil {
		plateName = w.plate.Name()
	}
	return "(" + plateName + "-" + w.name + ")"
}

// Less orders wells by their string form.
func (w *Well) Less(other *Well) bool { return w.String() < other.String() }

// SortWells sorts wells in place by Less.
func SortWells(wells []*Well) {
	sort.SliceStable(wells, func(i, j int) bool { return wells[i].Less(wells[j]) })
}

// PrettySummary renders a human-readable description of the well.
func (w *Well) PrettySummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  Volume: %v\n  Content: ", w, w.content.Volume)
	for _, component := range slices.Sorted(maps.Keys(w.content.Quantities)) {
		fmt.Fprintf(&b, "\n    %s: %v", component, w.content.Quantities[component])
	}
	b.WriteString("\n  Metadata: ")
	for _, key := range slices.Sorted(maps.Keys(w.data)) {
		fmt.Fprintf(&b, "\n    %s: %v", key, w.data[key])
	}
	return b.String()
}

// ToDict returns a structured snapshot of the well.
func (w *Well) ToDict() WellSnapshot {
	snap := WellSnapshot{
		Name:       w.name,
		Row:        w.row,
		Column:     w.column,
		Content:    w.content.ToDict(),
		DeadVolume: w.deadVolume,
		Data:       maps.Clone(w.data),
	}
	if w.bounded {
		c := w.capacity
		snap.Capacity = &c
	}
	if len(w.sources) > 0 {
		snap.Sources = make([]SourceRef, len(w.sources))
		for i, src := range w.sources {
			snap.Sources[i] = src.Ref()
		}
	}
	return snap
}
