package core

import (
	"context"
	"errors"
	"fmt"

	"platecore/pkg/domain"
)

// NewSourceLineageRule returns a rule that blocks transfers closing a cycle in
// the provenance graph and warns when a well is reached through more than
// one path.
func NewSourceLineageRule() domain.Rule {
	return sourceLineageRule{}
}

type sourceLineageRule struct{}

func (sourceLineageRule) Name() string { return RuleSourceLineage }

func (sourceLineageRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ref := range touchedWells(view, changes, false) {
		plate, _ := view.FindPlate(ref.plate)
		well, ok := plate.Well(ref.well)
		if !ok {
			continue
		}
		visits := make(map[*domain.Well]int)
		var cycleErr error
		for src, err := range well.IterateSourcesTree() {
			if err != nil {
				cycleErr = err
				break
			}
			if w, ok := src.Well(); ok {
				visits[w]++
			}
		}
		if cycleErr != nil {
			if !errors.Is(cycleErr, domain.ErrSourceCycle) {
				return domain.Result{}, cycleErr
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleSourceLineage,
				Severity: domain.SeverityBlock,
				Message:  cycleErr.Error(),
				Entity:   domain.EntityWell,
				EntityID: ref.String(),
			})
			continue
		}
		repeated := 0
		for _, n := range visits {
			if n > 1 {
				repeated++
			}
		}
		if repeated > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleSourceLineage,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("well %s reaches %d ancestor well(s) through several paths", well, repeated),
				Entity:   domain.EntityWell,
				EntityID: ref.String(),
			})
		}
	}
	return res, nil
}
