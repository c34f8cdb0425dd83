// Package sbml exports ODE models as SBML Level 3 documents.
package sbml

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	namespace   = "http://www.sbml.org/sbml/level3/version2/core"
	compartment = "c1"
)

// unitAliases maps the accepted parameter units onto SBML unit definition ids.
var unitAliases = map[string]string{
	"molL-1min-1":   "molperLmin",
	"molL-1":        "molperL",
	"s-1":           "per_second",
	"min-1":         "per_min",
	"dimensionless": "Dimension_less",
}

var unitDefinitions = []unitDefinition{
	{ID: "molperLmin", Units: []unit{{Kind: "mole", Exponent: 1}, {Kind: "litre", Exponent: -1}, {Kind: "second", Exponent: -1, Multiplier: 60}}},
	{ID: "molperL", Units: []unit{{Kind: "mole", Exponent: 1}, {Kind: "litre", Exponent: -1}}},
	{ID: "per_second", Units: []unit{{Kind: "second", Exponent: -1}}},
	{ID: "per_min", Units: []unit{{Kind: "second", Exponent: -1, Multiplier: 60}}},
	{ID: "Dimension_less", Units: []unit{{Kind: "dimensionless", Exponent: 1}}},
}

var sid = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validID(id string) bool { return sid.MatchString(id) }

// MapUnit returns the unit definition id for a parameter unit.
func MapUnit(unit string) (string, error) {
	id, ok := unitAliases[unit]
	if !ok {
		return "", fmt.Errorf("unknown parameter unit %q", unit)
	}
	return id, nil
}

type sbmlDocument struct {
	XMLName xml.Name  `xml:"sbml"`
	Xmlns   string    `xml:"xmlns,attr"`
	Level   int       `xml:"level,attr"`
	Version int       `xml:"version,attr"`
	Model   sbmlModel `xml:"model"`
}

type sbmlModel struct {
	ID           string            `xml:"id,attr,omitempty"`
	Units        *listOfUnits      `xml:"listOfUnitDefinitions,omitempty"`
	Compartments []compartmentEl   `xml:"listOfCompartments>compartment"`
	Species      *listOfSpecies    `xml:"listOfSpecies,omitempty"`
	Parameters   *listOfParameters `xml:"listOfParameters,omitempty"`
	Rules        *listOfRules      `xml:"listOfRules,omitempty"`
}

// Empty listOf elements are invalid SBML; a nil wrapper is omitted.
type (
	listOfUnits      struct{ Items []unitDefinition `xml:"unitDefinition"` }
	listOfSpecies    struct{ Items []speciesEl `xml:"species"` }
	listOfParameters struct{ Items []parameterEl `xml:"parameter"` }
	listOfRules      struct{ Items []rateRuleEl `xml:"rateRule"` }
)

type unitDefinition struct {
	ID    string `xml:"id,attr"`
	Units []unit `xml:"listOfUnits>unit"`
}

type unit struct {
	Kind       string  `xml:"kind,attr"`
	Exponent   float64 `xml:"exponent,attr"`
	Scale      int     `xml:"scale,attr"`
	Multiplier float64 `xml:"multiplier,attr"`
}

type compartmentEl struct {
	ID                string  `xml:"id,attr"`
	SpatialDimensions int     `xml:"spatialDimensions,attr"`
	Size              float64 `xml:"size,attr"`
	Constant          bool    `xml:"constant,attr"`
}

type speciesEl struct {
	ID                    string   `xml:"id,attr"`
	Compartment           string   `xml:"compartment,attr"`
	InitialAmount         *float64 `xml:"initialAmount,attr,omitempty"`
	InitialConcentration  *float64 `xml:"initialConcentration,attr,omitempty"`
	HasOnlySubstanceUnits bool     `xml:"hasOnlySubstanceUnits,attr"`
	BoundaryCondition     bool     `xml:"boundaryCondition,attr"`
	Constant              bool     `xml:"constant,attr"`
}

type parameterEl struct {
	ID       string  `xml:"id,attr"`
	Value    float64 `xml:"value,attr"`
	Units    string  `xml:"units,attr"`
	Constant bool    `xml:"constant,attr"`
}

type rateRuleEl struct {
	Variable string `xml:"variable,attr"`
	Math     mathML `xml:"math"`
}

// Model is an ODE model: species with initial values, constant parameters
// and one rate rule per species.
type Model struct {
	id         string
	species    []speciesEl
	parameters []parameterEl
	rules      []rateRuleEl
	ids        map[string]struct{}
}

// NewModel returns an empty model; id may be empty.
func NewModel(id string) *Model {
	return &Model{id: id, ids: make(map[string]struct{})}
}

func (m *Model) declare(id string) error {
	if !validID(id) {
		return fmt.Errorf("invalid SBML id %q", id)
	}
	if _, ok := m.ids[id]; ok {
		return fmt.Errorf("duplicate SBML id %q", id)
	}
	m.ids[id] = struct{}{}
	return nil
}

// AddSpecies declares a species. A bracketed name such as "[A]" declares a
// concentration, a bare name an amount.
func (m *Model) AddSpecies(name string, initial float64) error {
	sp := speciesEl{Compartment: compartment}
	v := initial
	if strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") {
		name = strings.TrimSpace(name[1 : len(name)-1])
		sp.InitialConcentration = &v
	} else {
		sp.InitialAmount = &v
		sp.HasOnlySubstanceUnits = true
	}
	if err := m.declare(name); err != nil {
		return err
	}
	sp.ID = name
	m.species = append(m.species, sp)
	return nil
}

// AddParameter declares a constant parameter. unit is one of the keys
// accepted by MapUnit.
func (m *Model) AddParameter(name string, value float64, unit string) error {
	unitID, err := MapUnit(unit)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	if err := m.declare(name); err != nil {
		return err
	}
	m.parameters = append(m.parameters, parameterEl{ID: name, Value: value, Units: unitID, Constant: true})
	return nil
}

// AddRateRule sets d(variable)/dt to formula. The variable must be a
// declared species and every identifier in formula must be declared.
func (m *Model) AddRateRule(variable, formula string) error {
	variable = strings.Trim(variable, "[] ")
	if !slices.ContainsFunc(m.species, func(s speciesEl) bool { return s.ID == variable }) {
		return fmt.Errorf("rate rule for undeclared species %q", variable)
	}
	if slices.ContainsFunc(m.rules, func(r rateRuleEl) bool { return r.Variable == variable }) {
		return fmt.Errorf("species %s already has a rate rule", variable)
	}
	root, err := parseFormula(formula)
	if err != nil {
		return fmt.Errorf("rate rule for %s: %w", variable, err)
	}
	var unknown []string
	root.idents(func(id string) {
		if _, ok := m.ids[id]; !ok && !slices.Contains(unknown, id) {
			unknown = append(unknown, id)
		}
	})
	if len(unknown) > 0 {
		return fmt.Errorf("rate rule for %s: undeclared identifiers %s", variable, strings.Join(unknown, ", "))
	}
	m.rules = append(m.rules, rateRuleEl{Variable: variable, Math: mathML{root: root}})
	return nil
}

// Export writes the model as an SBML Level 3 Version 2 document.
func (m *Model) Export(w io.Writer) error {
	doc := sbmlDocument{
		Xmlns:   namespace,
		Level:   3,
		Version: 2,
		Model: sbmlModel{
			ID:           m.id,
			Compartments: []compartmentEl{{ID: compartment, SpatialDimensions: 3, Size: 1, Constant: true}},
		},
	}
	if units := m.usedUnits(); len(units) > 0 {
		doc.Model.Units = &listOfUnits{Items: units}
	}
	if len(m.species) > 0 {
		doc.Model.Species = &listOfSpecies{Items: m.species}
	}
	if len(m.parameters) > 0 {
		doc.Model.Parameters = &listOfParameters{Items: m.parameters}
	}
	if len(m.rules) > 0 {
		doc.Model.Rules = &listOfRules{Items: m.rules}
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode sbml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (m *Model) usedUnits() []unitDefinition {
	var out []unitDefinition
	for _, def := range unitDefinitions {
		if slices.ContainsFunc(m.parameters, func(p parameterEl) bool { return p.Units == def.ID }) {
			d := def
			d.Units = slices.Clone(def.Units)
			for i := range d.Units {
				if d.Units[i].Multiplier == 0 {
					d.Units[i].Multiplier = 1
				}
			}
			out = append(out, d)
		}
	}
	return out
}

// Build assembles a model from parallel slices: odes[i] is the rate of
// variables[i], initial[i] its initial concentration, and params, values
// and units describe the parameters.
func Build(odes, variables []string, initial []float64, params []string, values []float64, units []string) (*Model, error) {
	if len(variables) != len(initial) {
		return nil, fmt.Errorf("%d variables but %d initial values", len(variables), len(initial))
	}
	if len(odes) > len(variables) {
		return nil, fmt.Errorf("%d equations for %d variables", len(odes), len(variables))
	}
	if len(params) != len(values) || len(params) != len(units) {
		return nil, fmt.Errorf("parameter names, values and units differ in length: %d, %d, %d", len(params), len(values), len(units))
	}
	m := NewModel("")
	for i, v := range variables {
		if err := m.AddSpecies("["+v+"]", initial[i]); err != nil {
			return nil, err
		}
	}
	for i, p := range params {
		if err := m.AddParameter(p, values[i], units[i]); err != nil {
			return nil, err
		}
	}
	for i, ode := range odes {
		if err := m.AddRateRule(variables[i], ode); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DefaultFilename names an export after t as YYMMDD_HHMM.xml.
func DefaultFilename(t time.Time) string {
	return t.Format("060102_1504") + ".xml"
}
