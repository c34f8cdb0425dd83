// Package domain defines the labware model (plates, wells, their content and
// provenance), liquid transfers and picklists, and the rule and persistence
// contracts used by platecore.
package domain

import "time"

// EntityType identifies the type of record touched by a change.
type EntityType string

const (
	EntityPlate EntityType = "plate"
	EntityWell  EntityType = "well"
	EntityRun   EntityType = "run"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates the type of modification performed.
type Action string

const (
	ActionCreate   Action = "create"
	ActionDelete   Action = "delete"
	ActionTransfer Action = "transfer"
	ActionDispense Action = "dispense"
	ActionEmpty    Action = "empty"
)

// Change records one modification made inside a transaction. Transfers set
// both the source and destination names.
type Change struct {
	Entity      EntityType
	Action      Action
	Plate       string
	Well        string
	SourcePlate string
	SourceWell  string
	Volume      float64
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Run records one picklist execution.
type Run struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Policy    Policy            `json:"policy"`
	Requests  []TransferRequest `json:"requests"`
	Applied   int               `json:"applied"`
	Volume    float64           `json:"volume"`
	Failures  []RunFailure      `json:"failures,omitempty"`
}

// RunFailure records a request that could not be applied.
type RunFailure struct {
	Index   int             `json:"index"`
	Request TransferRequest `json:"request"`
	Error   string          `json:"error"`
}
