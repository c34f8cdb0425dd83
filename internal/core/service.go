package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"platecore/internal/blob"
	"platecore/internal/infra/persistence/memory"
	"platecore/internal/report"
	"platecore/pkg/domain"
)

// Service exposes transactional plate, well and picklist operations.
type Service struct {
	store   PersistentStore
	engine  *RulesEngine
	logger  zerolog.Logger
	metrics *Metrics
	archive blob.Store
	newID   func() string

	mu      sync.RWMutex
	plugins map[string]PluginMetadata
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the Prometheus collectors updated by the service.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchive sets the blob store receiving run reports.
func WithArchive(store blob.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs a service backed by store. engine must be the engine
// the store evaluates so installed plugins take effect.
func NewService(store PersistentStore, engine *RulesEngine, opts ...Option) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		logger:  zerolog.Nop(),
		newID:   uuid.NewString,
		plugins: make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), engine, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) observe(op string, started time.Time, res Result, err error) {
	s.metrics.observeOperation(op, err, time.Since(started))
	s.metrics.observeResult(res)
	for _, v := range res.Violations {
		s.logger.Warn().Str("op", op).Str("rule", v.Rule).Str("severity", string(v.Severity)).Str("entity", v.EntityID).Msg(v.Message)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("operation failed")
	}
}

// CreatePlate persists a new plate.
func (s *Service) CreatePlate(ctx context.Context, spec domain.PlateSpec) (snap domain.PlateSnapshot, res Result, err error) {
	defer func(start time.Time) { s.observe("create_plate", start, res, err) }(time.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		p, err := tx.CreatePlate(spec)
		if err != nil {
			return err
		}
		snap = p.Snapshot()
		return nil
	})
	if err == nil {
		s.logger.Info().Str("plate", spec.Name).Int("wells", len(snap.Wells)).Msg("plate created")
	}
	return snap, res, err
}

// GetPlate returns the committed state of a plate.
func (s *Service) GetPlate(name string) (domain.PlateSnapshot, error) {
	snap, ok := s.store.GetPlate(name)
	if !ok {
		return domain.PlateSnapshot{}, ErrNotFound{Entity: EntityPlate, ID: name}
	}
	return snap, nil
}

// ListPlates returns every plate sorted by name.
func (s *Service) ListPlates() []domain.PlateSnapshot {
	return s.store.ListPlates()
}

// DeletePlate removes a plate record.
func (s *Service) DeletePlate(ctx context.Context, name string) (res Result, err error) {
	defer func(start time.Time) { s.observe("delete_plate", start, res, err) }(time.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeletePlate(name)
	})
	return res, err
}

func (s *Service) viewWell(ctx context.Context, plate, well string, fn func(*domain.Well) error) error {
	return s.store.View(ctx, func(view TransactionView) error {
		p, ok := view.FindPlate(plate)
		if !ok {
			return ErrNotFound{Entity: EntityPlate, ID: plate}
		}
		w, ok := p.Well(well)
		if !ok {
			return ErrNotFound{Entity: EntityWell, ID: plate + "/" + well}
		}
		return fn(w)
	})
}

// GetWell returns the structured dump of a well.
func (s *Service) GetWell(ctx context.Context, plate, well string) (domain.WellSnapshot, error) {
	var snap domain.WellSnapshot
	err := s.viewWell(ctx, plate, well, func(w *domain.Well) error {
		snap = w.ToDict()
		return nil
	})
	return snap, err
}

// WellSummary renders the human-readable dump of a well.
func (s *Service) WellSummary(ctx context.Context, plate, well string) (string, error) {
	var out string
	err := s.viewWell(ctx, plate, well, func(w *domain.Well) error {
		out = w.PrettySummary()
		return nil
	})
	return out, err
}

// WellLineage returns the provenance of a well depth first, ending with the
// well itself.
func (s *Service) WellLineage(ctx context.Context, plate, well string) ([]domain.SourceRef, error) {
	var refs []domain.SourceRef
	err := s.viewWell(ctx, plate, well, func(w *domain.Well) error {
		for src, err := range w.IterateSourcesTree() {
			if err != nil {
				return err
			}
			refs = append(refs, src.Ref())
		}
		return nil
	})
	return refs, err
}

// FreeWells lists the names of the wells after the last filled well of a plate.
func (s *Service) FreeWells(ctx context.Context, plate string, direction domain.Direction) ([]string, error) {
	var names []string
	err := s.store.View(ctx, func(view TransactionView) error {
		p, ok := view.FindPlate(plate)
		if !ok {
			return ErrNotFound{Entity: EntityPlate, ID: plate}
		}
		wells, err := p.FreeWellsAfterLast(direction)
		if err != nil {
			return err
		}
		for _, w := range wells {
			names = append(names, w.Name())
		}
		return nil
	})
	return names, err
}

// Dispense adds an external reagent to a well.
func (s *Service) Dispense(ctx context.Context, req domain.TransferRequest) (snap domain.WellSnapshot, res Result, err error) {
	defer func(start time.Time) { s.observe("dispense", start, res, err) }(time.Now())
	if !req.IsDispense() {
		return domain.WellSnapshot{}, Result{}, fmt.Errorf("%w: dispense requires an external source, got well %s/%s", domain.ErrInvalid, req.SourcePlate, req.SourceWell)
	}
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		t, err := req.Resolve(tx.ResolveWell)
		if err != nil {
			return err
		}
		if err := t.Apply(); err != nil {
			return err
		}
		tx.RecordChange(transferChange(req))
		snap = t.Destination.ToDict()
		return nil
	})
	if err == nil {
		s.metrics.observeTransfers(1, 0, req.Volume)
		s.logger.Info().Str("plate", req.DestinationPlate).Str("well", req.DestinationWell).Str("source", req.SourceLabel).Float64("volume", req.Volume).Msg("dispensed")
	}
	return snap, res, err
}

// EmptyWell resets a well to zero volume and no components.
func (s *Service) EmptyWell(ctx context.Context, plate, well string) (res Result, err error) {
	defer func(start time.Time) { s.observe("empty_well", start, res, err) }(time.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		w, err := tx.ResolveWell(plate, well)
		if err != nil {
			return err
		}
		w.EmptyCompletely()
		tx.RecordChange(Change{Entity: EntityWell, Action: ActionEmpty, Plate: plate, Well: well})
		return nil
	})
	return res, err
}

// ExecutePicklist applies requests in order inside one transaction and
// records the run. Under PolicyAbort any failure rolls back every transfer;
// under PolicySkip failing requests are recorded on the run and the rest
// commit.
func (s *Service) ExecutePicklist(ctx context.Context, policy domain.Policy, requests []domain.TransferRequest) (run domain.Run, res Result, err error) {
	defer func(start time.Time) { s.observe("execute_picklist", start, res, err) }(time.Now())
	if len(requests) == 0 {
		return domain.Run{}, Result{}, fmt.Errorf("%w: picklist is empty", domain.ErrInvalid)
	}
	if policy == "" {
		policy = domain.PolicyAbort
	}
	if _, perr := domain.ParsePolicy(string(policy)); perr != nil {
		return domain.Run{}, Result{}, perr
	}

	id := s.newID()
	var draft domain.Run
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		draft = domain.Run{ID: id, Policy: policy, Requests: requests}
		picklist := domain.NewPicklist()
		var indices []int
		for i, req := range requests {
			t, err := req.Resolve(tx.ResolveWell)
			if err != nil {
				if policy != domain.PolicySkip {
					return fmt.Errorf("transfer %d: %w", i, err)
				}
				draft.Failures = append(draft.Failures, domain.RunFailure{Index: i, Request: req, Error: err.Error()})
				continue
			}
			picklist.Add(t)
			indices = append(indices, i)
		}

		outcome, err := picklist.Execute(policy)
		if err != nil {
			return err
		}
		for _, failed := range outcome.Failed {
			i := indices[failed.Index]
			draft.Failures = append(draft.Failures, domain.RunFailure{Index: i, Request: requests[i], Error: failed.Err.Error()})
		}
		sort.Slice(draft.Failures, func(a, b int) bool { return draft.Failures[a].Index < draft.Failures[b].Index })
		for _, t := range outcome.Applied {
			req := t.Request()
			tx.RecordChange(transferChange(req))
			draft.Applied++
			draft.Volume += t.Volume
		}
		return tx.SaveRun(draft)
	})
	if err != nil {
		return domain.Run{}, res, err
	}

	s.metrics.observeTransfers(draft.Applied, len(draft.Failures), draft.Volume)
	run, ok := s.store.GetRun(id)
	if !ok {
		run = draft
	}
	s.logger.Info().Str("run_id", id).Str("policy", string(policy)).Int("applied", run.Applied).Int("failed", len(run.Failures)).Float64("volume", run.Volume).Msg("picklist executed")
	return run, res, nil
}

// GetRun returns a recorded picklist run.
func (s *Service) GetRun(id string) (domain.Run, error) {
	run, ok := s.store.GetRun(id)
	if !ok {
		return domain.Run{}, ErrNotFound{Entity: EntityRun, ID: id}
	}
	return run, nil
}

// ListRuns returns every run ordered by creation time.
func (s *Service) ListRuns() []domain.Run {
	return s.store.ListRuns()
}

// ExportRunReport archives the reports of a run in the configured blob store.
func (s *Service) ExportRunReport(ctx context.Context, id string) (infos []blob.Info, err error) {
	defer func(start time.Time) { s.observe("export_run_report", start, Result{}, err) }(time.Now())
	if s.archive == nil {
		return nil, errors.New("no report archive configured")
	}
	run, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}
	infos, err = report.Archive(ctx, s.archive, run)
	if err != nil {
		return infos, err
	}
	s.logger.Info().Str("run_id", id).Str("driver", string(s.archive.Driver())).Int("objects", len(infos)).Msg("run report archived")
	return infos, nil
}

func transferChange(req domain.TransferRequest) Change {
	c := Change{
		Entity: EntityWell,
		Action: ActionDispense,
		Plate:  req.DestinationPlate,
		Well:   req.DestinationWell,
		Volume: req.Volume,
	}
	if !req.IsDispense() {
		c.Action = ActionTransfer
		c.SourcePlate = req.SourcePlate
		c.SourceWell = req.SourceWell
	}
	return c
}
