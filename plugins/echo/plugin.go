// Package echo contributes rules for acoustic liquid handlers, which move
// liquid in fixed-size droplets.
package echo

import (
	"context"
	"fmt"
	"math"

	"platecore/internal/core"
)

// DefaultDroplet is the droplet volume of an Echo 525, in liters.
const DefaultDroplet = 2.5e-9

// RuleDroplet names the droplet rule.
const RuleDroplet = "echo_droplet"

// Plugin blocks well-to-well transfers that are not a whole number of
// droplets.
type Plugin struct {
	droplet float64
}

// New constructs the plugin. A droplet of 0 selects DefaultDroplet.
func New(droplet float64) Plugin {
	if droplet <= 0 {
		droplet = DefaultDroplet
	}
	return Plugin{droplet: droplet}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "echo" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the droplet rule.
func (p Plugin) Register(registry *core.PluginRegistry) error {
	registry.RegisterRule(dropletRule{droplet: p.droplet})
	return nil
}

type dropletRule struct{ droplet float64 }

func (dropletRule) Name() string { return RuleDroplet }

func (r dropletRule) Evaluate(_ context.Context, _ core.RuleView, changes []core.Change) (core.Result, error) {
	var result core.Result
	for _, c := range changes {
		if c.Action != core.ActionTransfer {
			continue
		}
		drops := c.Volume / r.droplet
		if math.Abs(drops-math.Round(drops)) <= 1e-6 && drops >= 1-1e-6 {
			continue
		}
		result.Violations = append(result.Violations, core.Violation{
			Rule:     RuleDroplet,
			Severity: core.SeverityBlock,
			Message:  fmt.Sprintf("%g L from %s/%s is not a multiple of the %g L droplet", c.Volume, c.SourcePlate, c.SourceWell, r.droplet),
			Entity:   core.EntityWell,
			EntityID: c.Plate + "/" + c.Well,
		})
	}
	return result, nil
}
