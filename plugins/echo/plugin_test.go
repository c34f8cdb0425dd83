package echo

import (
	"context"
	"errors"
	"testing"

	"platecore/internal/core"
	"platecore/pkg/domain"
)

func TestPluginRegistration(t *testing.T) {
	registry := core.NewPluginRegistry()
	if err := New(0).Register(registry); err != nil {
		t.Fatalf("register plugin: %v", err)
	}
	rules := registry.Rules()
	if len(rules) != 1 || rules[0].Name() != RuleDroplet {
		t.Fatalf("expected the droplet rule, got %v", rules)
	}
}

func TestDropletRuleOutcomes(t *testing.T) {
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine())
	meta, err := svc.InstallPlugin(New(0))
	if err != nil {
		t.Fatalf("install echo plugin: %v", err)
	}
	if meta.Name != "echo" || len(meta.Rules) != 1 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	ctx := context.Background()

	spec, err := domain.StandardSpec("P1", 384, 0)
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if _, _, err := svc.CreatePlate(ctx, spec); err != nil {
		t.Fatalf("create plate: %v", err)
	}
	// dispenses are not droplet bound
	if _, _, err := svc.Dispense(ctx, domain.TransferRequest{SourceLabel: "dmso", DestinationPlate: "P1", DestinationWell: "A1", Volume: 1.3e-6}); err != nil {
		t.Fatalf("dispense: %v", err)
	}

	move := func(volume float64) []domain.TransferRequest {
		return []domain.TransferRequest{{SourcePlate: "P1", SourceWell: "A1", DestinationPlate: "P1", DestinationWell: "B1", Volume: volume}}
	}
	_, _, err = svc.ExecutePicklist(ctx, domain.PolicyAbort, move(3e-9))
	var rve core.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(rve.Result.Violations) != 1 || rve.Result.Violations[0].EntityID != "P1/B1" {
		t.Fatalf("unexpected violations %+v", rve.Result.Violations)
	}
	well, err := svc.GetWell(ctx, "P1", "B1")
	if err != nil {
		t.Fatalf("get well: %v", err)
	}
	if well.Content.Volume != 0 {
		t.Fatalf("blocked transfer must not commit, got %g", well.Content.Volume)
	}

	run, res, err := svc.ExecutePicklist(ctx, domain.PolicyAbort, move(5e-9))
	if err != nil {
		t.Fatalf("two droplets: %v", err)
	}
	if run.Applied != 1 || res.HasBlocking() {
		t.Fatalf("unexpected run %+v result %+v", run, res)
	}

	if _, err := svc.InstallPlugin(New(1e-9)); err == nil {
		t.Fatalf("expected duplicate plugin error")
	}
}

func TestDropletRuleCustomSize(t *testing.T) {
	rule := dropletRule{droplet: 1e-9}
	res, err := rule.Evaluate(context.Background(), nil, []core.Change{
		{Action: core.ActionTransfer, Plate: "P", Well: "A1", Volume: 4e-9},
		{Action: core.ActionTransfer, Plate: "P", Well: "A2", Volume: 0.5e-9},
		{Action: core.ActionDispense, Plate: "P", Well: "A3", Volume: 0.7e-9},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].EntityID != "P/A2" {
		t.Fatalf("expected only A2 to be blocked, got %+v", res.Violations)
	}
}
