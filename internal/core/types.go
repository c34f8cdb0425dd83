package core

import "platecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RuleView           = domain.RuleView
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	ErrNotFound        = domain.ErrNotFound
)

const (
	EntityPlate = domain.EntityPlate
	EntityWell  = domain.EntityWell
	EntityRun   = domain.EntityRun
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate   = domain.ActionCreate
	ActionDelete   = domain.ActionDelete
	ActionTransfer = domain.ActionTransfer
	ActionDispense = domain.ActionDispense
	ActionEmpty    = domain.ActionEmpty
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
