package domain

import (
	"fmt"
	"maps"
	"sort"
)

// WellSnapshot is the structured dump of a well.
type WellSnapshot struct {
	Name       string          `json:"name"`
	Row        int             `json:"row"`
	Column     int             `json:"column"`
	Content    ContentSnapshot `json:"content"`
	Capacity   *float64        `json:"capacity,omitempty"`
	DeadVolume float64         `json:"dead_volume,omitempty"`
	Data       map[string]any  `json:"data,omitempty"`
	Sources    []SourceRef     `json:"sources,omitempty"`
}

// PlateSnapshot is the structured dump of a plate, wells in row order.
type PlateSnapshot struct {
	Name    string         `json:"name"`
	Rows    int            `json:"rows"`
	Columns int            `json:"columns"`
	Data    map[string]any `json:"data,omitempty"`
	Wells   []WellSnapshot `json:"wells"`
}

// Snapshot dumps the plate state.
func (p *Plate) Snapshot() PlateSnapshot {
	snap := PlateSnapshot{
		Name:    p.name,
		Rows:    p.rows,
		Columns: p.columns,
		Data:    maps.Clone(p.data),
		Wells:   make([]WellSnapshot, 0, len(p.wells)),
	}
	for _, w := range p.wells {
		snap.Wells = append(snap.Wells, w.ToDict())
	}
	return snap
}

// RestorePlates rebuilds plates from snapshots. Well sources are resolved by
// plate and well name in a second pass so that sources may point across
// plates in any order.
func RestorePlates(snaps []PlateSnapshot) (map[string]*Plate, error) {
	plates := make(map[string]*Plate, len(snaps))
	for _, snap := range snaps {
		if _, dup := plates[snap.Name]; dup {
			return nil, fmt.Errorf("duplicate plate %s in snapshot", snap.Name)
		}
		p, err := NewPlate(PlateSpec{Name: snap.Name, Rows: snap.Rows, Columns: snap.Columns, Data: snap.Data})
		if err != nil {
			return nil, err
		}
		for _, ws := range snap.Wells {
			w, ok := p.Well(ws.Name)
			if !ok {
				return nil, ErrNotFound{Entity: EntityWell, ID: snap.Name + "/" + ws.Name}
			}
			w.content = contentFromSnapshot(ws.Content)
			if ws.Capacity != nil {
				w.SetCapacity(*ws.Capacity)
			}
			w.deadVolume = ws.DeadVolume
			if ws.Data != nil {
				w.data = maps.Clone(ws.Data)
			}
		}
		plates[snap.Name] = p
	}
	for _, snap := range snaps {
		p := plates[snap.Name]
		for _, ws := range snap.Wells {
			w, _ := p.Well(ws.Name)
			for _, ref := range ws.Sources {
				src, err := resolveSourceRef(plates, ref)
				if err != nil {
					return nil, fmt.Errorf("restore %s: %w", w, err)
				}
				w.sources = append(w.sources, src)
			}
		}
	}
	return plates, nil
}

func resolveSourceRef(plates map[string]*Plate, ref SourceRef) (Source, error) {
	switch ref.Kind {
	case SourceKindWell:
		p, ok := plates[ref.Plate]
		if !ok {
			return Source{}, ErrNotFound{Entity: EntityPlate, ID: ref.Plate}
		}
		w, ok := p.Well(ref.Well)
		if !ok {
			return Source{}, ErrNotFound{Entity: EntityWell, ID: ref.Plate + "/" + ref.Well}
		}
		return WellSource(w), nil
	case SourceKindExternal:
		return ExternalSource(ref.Label), nil
	default:
		return Source{}, fmt.Errorf("unknown source kind %q", ref.Kind)
	}
}

// ClonePlates deep-copies a set of plates, preserving cross-plate source links.
func ClonePlates(plates map[string]*Plate) (map[string]*Plate, error) {
	return RestorePlates(SnapshotPlates(plates))
}

// SnapshotPlates dumps a set of plates sorted by name.
func SnapshotPlates(plates map[string]*Plate) []PlateSnapshot {
	out := make([]PlateSnapshot, 0, len(plates))
	for _, p := range plates {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
