package core

// Built-in rule names.
const (
	RuleWellCapacity  = "well_capacity"
	RuleSourceLineage = "source_lineage"
	RuleDeadVolume    = "dead_volume"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewWellCapacityRule())
	engine.Register(NewSourceLineageRule())
	engine.Register(NewDeadVolumeRule())
	return engine
}

// touchedWells resolves the distinct wells named by changes, destinations
// first. Wells whose plate no longer exists are skipped.
func touchedWells(view RuleView, changes []Change, sources bool) []wellRef {
	seen := make(map[wellRef]struct{})
	var out []wellRef
	add := func(plate, well string) {
		if plate == "" || well == "" {
			return
		}
		ref := wellRef{plate: plate, well: well}
		if _, ok := seen[ref]; ok {
			return
		}
		if _, ok := view.FindPlate(plate); !ok {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	for _, c := range changes {
		if sources {
			add(c.SourcePlate, c.SourceWell)
		} else {
			add(c.Plate, c.Well)
		}
	}
	return out
}

type wellRef struct {
	plate string
	well  string
}

func (r wellRef) String() string { return r.plate + "/" + r.well }
