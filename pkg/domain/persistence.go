package domain

import "context"

// Transaction exposes the operations a persistence implementation must
// support within an atomic scope. Plates returned by a transaction belong to
// the transaction's working copy; mutations become visible only on commit.
type Transaction interface {
	Snapshot() TransactionView
	CreatePlate(spec PlateSpec) (*Plate, error)
	DeletePlate(name string) error
	FindPlate(name string) (*Plate, bool)
	ListPlates() []*Plate
	ResolveWell(plate, well string) (*Well, error)
	RecordChange(change Change)
	SaveRun(run Run) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	FindRun(id string) (Run, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPlate(name string) (PlateSnapshot, bool)
	ListPlates() []PlateSnapshot
	GetRun(id string) (Run, bool)
	ListRuns() []Run
}
