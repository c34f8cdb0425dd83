package core

import (
	"context"
	"fmt"

	"platecore/pkg/domain"
)

// NewWellCapacityRule returns the default in-transaction rule blocking any
// well left above its capacity.
func NewWellCapacityRule() domain.Rule {
	return wellCapacityRule{}
}

type wellCapacityRule struct{}

func (wellCapacityRule) Name() string { return RuleWellCapacity }

func (wellCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ref := range touchedWells(view, changes, false) {
		plate, _ := view.FindPlate(ref.plate)
		well, ok := plate.Well(ref.well)
		if !ok {
			continue
		}
		capacity, bounded := well.Capacity()
		if !bounded || well.Volume() <= capacity {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleWellCapacity,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("well %s over capacity: %g/%g L", well, well.Volume(), capacity),
			Entity:   domain.EntityWell,
			EntityID: ref.String(),
		})
	}
	return res, nil
}
