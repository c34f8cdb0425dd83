package domain

// SourceKind discriminates the Source variant.
type SourceKind string

const (
	// SourceKindWell marks a source that is another well.
	SourceKindWell SourceKind = "well"
	// SourceKindExternal marks an opaque external reagent (tube, trough, stock).
	SourceKindExternal SourceKind = "external"
)

// Source is a provenance entry: either a Well or an external reagent label.
type Source struct {
	kind  SourceKind
	well  *Well
	label string
}

// WellSource wraps a well as a provenance entry.
func WellSource(w *Well) Source {
	return Source{kind: SourceKindWell, well: w}
}

// ExternalSource wraps an external reagent label as a provenance entry.
func ExternalSource(label string) Source {
	return Source{kind: SourceKindExternal, label: label}
}

// Kind reports which variant the source holds. The zero Source has no kind.
func (s Source) Kind() SourceKind { return s.kind }

// Well returns the wrapped well when the source is a well.
func (s Source) Well() (*Well, bool) {
	if s.kind != SourceKindWell || s.well == nil {
		return nil, false
	}
	return s.well, true
}

// Label returns the external label, or the well's display name for well sources.
func (s Source) Label() string {
	if w, ok := s.Well(); ok {
		return w.String()
	}
	return s.label
}

func (s Source) String() string { return s.Label() }

// Ref returns a name-based handle suitable for persistence.
func (s Source) Ref() SourceRef {
	if w, ok := s.Well(); ok {
		ref := SourceRef{Kind: SourceKindWell, Well: w.Name()}
		if w.plate != nil {
			ref.Plate = w.plate.Name()
		}
		return ref
	}
	return SourceRef{Kind: s.kind, Label: s.label}
}

// SourceRef identifies a Source by names rather than pointers.
type SourceRef struct {
	Kind  SourceKind `json:"kind"`
	Plate string     `json:"plate,omitempty"`
	Well  string     `json:"well,omitempty"`
	Label string     `json:"label,omitempty"`
}

func (r SourceRef) String() string {
	if r.Kind == SourceKindWell {
		return "(" + r.Plate + "-" + r.Well + ")"
	}
	return r.Label
}
