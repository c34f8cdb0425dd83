package domain

import "maps"

// WellContent holds the liquid state of a single well: a volume in liters and
// the quantity of each component it contains. Components are only present
// while their quantity is positive.
type WellContent struct {
	Volume     float64
	Quantities map[string]float64
}

// ContentSnapshot is the serialized form of a WellContent.
type ContentSnapshot struct {
	Volume     float64            `json:"volume"`
	Quantities map[string]float64 `json:"quantities"`
}

// NewWellContent returns empty content.
func NewWellContent() *WellContent {
	return &WellContent{Quantities: make(map[string]float64)}
}

// ToDict returns a copy of the content reflecting its state at call time.
func (c *WellContent) ToDict() ContentSnapshot {
	quantities := make(map[string]float64, len(c.Quantities))
	maps.Copy(quantities, c.Quantities)
	return ContentSnapshot{Volume: c.Volume, Quantities: quantities}
}

func contentFromSnapshot(s ContentSnapshot) *WellContent {
	c := NewWellContent()
	c.Volume = s.Volume
	for component, quantity := range s.Quantities {
		if quantity > 0 {
			c.Quantities[component] = quantity
		}
	}
	return c
}
