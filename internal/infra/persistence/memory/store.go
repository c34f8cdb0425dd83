// Package memory provides an in-memory implementation of the plate state
// store used for tests, ephemeral environments and as the working set of the
// durable backends.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"platecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Plate aliases domain.Plate for in-memory persistence operations.
	Plate = domain.Plate
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Snapshot captures a point-in-time copy of the store state. Plates are kept
// in their name-based snapshot form so well sources survive serialization.
type Snapshot struct {
	Plates []domain.PlateSnapshot `json:"plates"`
	Runs   map[string]domain.Run  `json:"runs"`
}

type memoryState struct {
	plates map[string]*Plate
	runs   map[string]domain.Run
}

func newMemoryState() memoryState {
	return memoryState{
		plates: make(map[string]*Plate),
		runs:   make(map[string]domain.Run),
	}
}

func (s memoryState) clone() (memoryState, error) {
	plates, err := domain.ClonePlates(s.plates)
	if err != nil {
		return memoryState{}, err
	}
	return memoryState{plates: plates, runs: cloneRuns(s.runs)}, nil
}

func cloneRuns(in map[string]domain.Run) map[string]domain.Run {
	out := make(map[string]domain.Run, len(in))
	for id, run := range in {
		out[id] = cloneRun(run)
	}
	return out
}

func cloneRun(run domain.Run) domain.Run {
	run.Requests = slices.Clone(run.Requests)
	for i := range run.Requests {
		run.Requests[i].Components = maps.Clone(run.Requests[i].Components)
	}
	run.Failures = slices.Clone(run.Failures)
	return run
}

// Store is an in-memory transactional store. Each transaction works on a deep
// copy of the state that replaces the live state only when fn succeeds and no
// blocking rule violation is reported.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an empty store evaluating rules with engine (may be nil).
func NewStore(engine *RulesEngine) *Store {
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// NowFunc exposes the clock used for timestamps.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// SetNowFunc overrides the clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction applies fn to a working copy and commits it when allowed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working, err := s.state.clone()
	if err != nil {
		return Result{}, fmt.Errorf("clone state: %w", err)
	}
	tx := &transaction{state: working, now: s.nowFn()}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only copy of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot, err := s.state.clone()
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("clone state: %w", err)
	}
	return fn(newTransactionView(snapshot))
}

// ExportState returns a serializable copy of the state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Plates: domain.SnapshotPlates(s.state.plates), Runs: cloneRuns(s.state.runs)}
}

// ImportState replaces the state with snapshot.
func (s *Store) ImportState(snapshot Snapshot) error {
	plates, err := domain.RestorePlates(snapshot.Plates)
	if err != nil {
		return fmt.Errorf("import plates: %w", err)
	}
	runs := cloneRuns(snapshot.Runs)
	s.mu.Lock()
	s.state = memoryState{plates: plates, runs: runs}
	s.mu.Unlock()
	return nil
}

// GetPlate returns the snapshot of a plate.
func (s *Store) GetPlate(name string) (domain.PlateSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.plates[name]
	if !ok {
		return domain.PlateSnapshot{}, false
	}
	return p.Snapshot(), true
}

// ListPlates returns every plate snapshot sorted by name.
func (s *Store) ListPlates() []domain.PlateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SnapshotPlates(s.state.plates)
}

// GetRun returns a recorded picklist run.
func (s *Store) GetRun(id string) (domain.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.state.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return cloneRun(run), true
}

// ListRuns returns every run ordered by creation time.
func (s *Store) ListRuns() []domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Run, 0, len(s.state.runs))
	for _, run := range s.state.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(tx.state)
}

// CreatePlate builds and registers a new plate.
func (tx *transaction) CreatePlate(spec domain.PlateSpec) (*Plate, error) {
	if _, exists := tx.state.plates[spec.Name]; exists {
		return nil, fmt.Errorf("plate %s already exists: %w", spec.Name, domain.ErrConflict)
	}
	p, err := domain.NewPlate(spec)
	if err != nil {
		return nil, err
	}
	tx.state.plates[spec.Name] = p
	tx.RecordChange(Change{Entity: domain.EntityPlate, Action: domain.ActionCreate, Plate: spec.Name})
	return p, nil
}

// DeletePlate removes a plate. Plates still referenced as a source by wells
// on other plates cannot be deleted.
func (tx *transaction) DeletePlate(name string) error {
	if _, ok := tx.state.plates[name]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityPlate, ID: name}
	}
	for otherName, other := range tx.state.plates {
		if otherName == name {
			continue
		}
		for w := range other.Wells(domain.DirectionRow) {
			for _, src := range w.Sources() {
				if parent, ok := src.Well(); ok && parent.Plate().Name() == name {
					return fmt.Errorf("plate %s is a source of %s: %w", name, w, domain.ErrConflict)
				}
			}
		}
	}
	delete(tx.state.plates, name)
	tx.RecordChange(Change{Entity: domain.EntityPlate, Action: domain.ActionDelete, Plate: name})
	return nil
}

// FindPlate returns the working copy of a plate.
func (tx *transaction) FindPlate(name string) (*Plate, bool) {
	p, ok := tx.state.plates[name]
	return p, ok
}

// ListPlates returns the working plates sorted by name.
func (tx *transaction) ListPlates() []*Plate {
	return sortedPlates(tx.state.plates)
}

// ResolveWell finds a well of the working copy by plate and well name.
func (tx *transaction) ResolveWell(plate, well string) (*domain.Well, error) {
	return resolveWell(tx.state.plates, plate, well)
}

// RecordChange appends a change entry for rule evaluation.
func (tx *transaction) RecordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// SaveRun stores a picklist run record.
func (tx *transaction) SaveRun(run domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id required")
	}
	if _, exists := tx.state.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists: %w", run.ID, domain.ErrConflict)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = tx.now
	}
	tx.state.runs[run.ID] = cloneRun(run)
	tx.RecordChange(Change{Entity: domain.EntityRun, Action: domain.ActionCreate})
	return nil
}

type transactionView struct {
	state memoryState
}

func newTransactionView(state memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListPlates() []*Plate { return sortedPlates(v.state.plates) }

func (v transactionView) FindPlate(name string) (*Plate, bool) {
	p, ok := v.state.plates[name]
	return p, ok
}

func (v transactionView) FindRun(id string) (domain.Run, bool) {
	run, ok := v.state.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return cloneRun(run), true
}

func sortedPlates(plates map[string]*Plate) []*Plate {
	out := make([]*Plate, 0, len(plates))
	for _, p := range plates {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func resolveWell(plates map[string]*Plate, plate, well string) (*domain.Well, error) {
	p, ok := plates[plate]
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityPlate, ID: plate}
	}
	w, ok := p.Well(well)
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityWell, ID: plate + "/" + well}
	}
	return w, nil
}
