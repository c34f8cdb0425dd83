package core

import (
	"context"
	"fmt"

	"platecore/pkg/domain"
)

// NewDeadVolumeRule warns when a transfer leaves a source well holding liquid
// below its dead volume, which a liquid handler cannot aspirate.
func NewDeadVolumeRule() domain.Rule {
	return deadVolumeRule{}
}

type deadVolumeRule struct{}

func (deadVolumeRule) Name() string { return RuleDeadVolume }

func (deadVolumeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ref := range touchedWells(view, changes, true) {
		plate, _ := view.FindPlate(ref.plate)
		well, ok := plate.Well(ref.well)
		if !ok {
			continue
		}
		dead := well.DeadVolume()
		if dead <= 0 || well.IsEmpty() || well.Volume() >= dead {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleDeadVolume,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("well %s left with %g L, below dead volume %g L", well, well.Volume(), dead),
			Entity:   domain.EntityWell,
			EntityID: ref.String(),
		})
	}
	return res, nil
}
