package domain

import (
	"fmt"
	"maps"
)

// Transfer moves liquid into a destination well, either from another well or
// from an external reagent.
type Transfer struct {
	Source      Source
	Destination *Well
	Volume      float64
	// Components is the payload of an external dispense. Well-to-well
	// transfers derive their components from the source content instead.
	Components map[string]float64
	Data       map[string]any
}

// NewWellTransfer builds a transfer of volume liters from src to dst.
func NewWellTransfer(src, dst *Well, volume float64) Transfer {
	return Transfer{Source: WellSource(src), Destination: dst, Volume: volume}
}

// NewDispense builds a transfer from an external reagent into dst.
func NewDispense(label string, dst *Well, volume float64, components map[string]float64) Transfer {
	return Transfer{Source: ExternalSource(label), Destination: dst, Volume: volume, Components: maps.Clone(components)}
}

func (t Transfer) String() string {
	dst := "<nil>"
	if t.Destination != nil {
		dst = t.Destination.String()
	}
	return fmt.Sprintf("Transfer %.2e L from %s into %s", t.Volume, t.Source, dst)
}

// Apply performs the transfer. Components of a source well move in proportion
// to the transferred fraction of its volume; a volume within rounding tolerance
// of the source volume moves all of it. Both wells are validated before
// either is mutated, and the source is appended to the destination's sources.
func (t Transfer) Apply() error {
	if t.Destination == nil {
		return newTransferError("transfer", nil, "%s has no destination.", t)
	}
	src, fromWell := t.Source.Well()
	if !fromWell {
		if t.Source.Kind() != SourceKindExternal {
			return newTransferError("transfer", nil, "%s has no source.", t)
		}
		quantities := maps.Clone(t.Components)
		if err := t.Destination.checkAdd(quantities, t.Volume); err != nil {
			return err
		}
		t.Destination.applyAdd(quantities, t.Volume)
		t.Destination.AddSource(t.Source)
		return nil
	}
	if src == t.Destination {
		return newTransferError("transfer", ErrSourceCycle, "%s transfers a well into itself.", t)
	}
	if src.IsEmpty() {
		return newTransferError("transfer", ErrEmptySource, "Source well %s is empty.", src)
	}
	volume := t.Volume
	quantities := make(map[string]float64, len(src.content.Quantities))
	switch {
	case near(volume, src.Volume()):
		// Taking everything moves the exact source content.
		volume = src.Volume()
		maps.Copy(quantities, src.content.Quantities)
	case volume > 0 && volume < src.Volume():
		factor := volume / src.Volume()
		for component, quantity := range src.content.Quantities {
			quantities[component] = quantity * factor
		}
	}
	if err := src.checkSubtract(quantities, volume); err != nil {
		return err
	}
	if err := t.Destination.checkAdd(quantities, volume); err != nil {
		return err
	}
	src.applySubtract(quantities, volume)
	t.Destination.applyAdd(quantities, volume)
	t.Destination.AddSource(t.Source)
	return nil
}
