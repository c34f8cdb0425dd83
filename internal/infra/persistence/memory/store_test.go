package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"platecore/pkg/domain"
)

type blockingRule struct{ plate string }

func (r blockingRule) Name() string { return "block_plate" }

func (r blockingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	if _, ok := view.FindPlate(r.plate); ok {
		return domain.Result{Violations: []domain.Violation{{Rule: r.Name(), Severity: domain.SeverityBlock, Message: "forbidden plate"}}}, nil
	}
	return domain.Result{}, nil
}

func seedPlate(t *testing.T, store *Store, name string) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: name, Rows: 2, Columns: 3, WellCapacity: 10})
		return err
	}); err != nil {
		t.Fatalf("create plate %s: %v", name, err)
	}
}

func TestRunInTransactionCommitsOnSuccess(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	seedPlate(t, store, "P1")

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		w, err := tx.ResolveWell("P1", "A1")
		if err != nil {
			return err
		}
		return domain.NewDispense("stock", w, 4, map[string]float64{"dna": 1}).Apply()
	})
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}

	snap, ok := store.GetPlate("P1")
	if !ok {
		t.Fatalf("expected plate P1")
	}
	if got := snap.Wells[0].Content.Volume; got != 4 {
		t.Fatalf("expected committed volume 4, got %v", got)
	}
}

func TestRunInTransactionDiscardsOnError(t *testing.T) {
	store := NewStore(nil)
	seedPlate(t, store, "P1")

	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		w, _ := tx.ResolveWell("P1", "A1")
		if err := w.AddContent(map[string]float64{"x": 1}, 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	snap, _ := store.GetPlate("P1")
	if snap.Wells[0].Content.Volume != 0 {
		t.Fatalf("expected rollback, got volume %v", snap.Wells[0].Content.Volume)
	}
}

func TestRunInTransactionBlockedByRule(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockingRule{plate: "BAD"})
	store := NewStore(engine)

	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: "BAD", Rows: 1, Columns: 1})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if _, ok := store.GetPlate("BAD"); ok {
		t.Fatalf("blocked plate must not be committed")
	}
}

func TestCreatePlateDuplicateAndDelete(t *testing.T) {
	store := NewStore(nil)
	seedPlate(t, store, "P1")

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: "P1", Rows: 1, Columns: 1})
		return err
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate plate conflict, got %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeletePlate("missing")
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeletePlate("P1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.ListPlates()) != 0 {
		t.Fatalf("expected no plates after delete")
	}
}

func TestDeletePlateReferencedAsSource(t *testing.T) {
	store := NewStore(nil)
	seedPlate(t, store, "SRC")
	seedPlate(t, store, "DST")

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		src, _ := tx.ResolveWell("SRC", "A1")
		dst, _ := tx.ResolveWell("DST", "A1")
		if err := src.AddContent(map[string]float64{"dna": 1}, 5); err != nil {
			return err
		}
		return domain.NewWellTransfer(src, dst, 2).Apply()
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.DeletePlate("SRC")
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected referenced plate delete to conflict, got %v", err)
	}
}

func TestSaveRunAndListRuns(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return base })

	for _, id := range []string{"b", "a"} {
		if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
			return tx.SaveRun(domain.Run{ID: id, Policy: domain.PolicySkip})
		}); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.SaveRun(domain.Run{ID: "a"})
	})
	if err == nil {
		t.Fatalf("expected duplicate run error")
	}
	_, err = store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return tx.SaveRun(domain.Run{})
	})
	if err == nil {
		t.Fatalf("expected missing id error")
	}

	runs := store.ListRuns()
	if len(runs) != 2 || runs[0].ID != "a" || runs[1].ID != "b" {
		t.Fatalf("unexpected run order: %+v", runs)
	}
	run, ok := store.GetRun("a")
	if !ok || !run.CreatedAt.Equal(base) {
		t.Fatalf("expected run a stamped with clock, got %+v", run)
	}
	if err := store.View(context.Background(), func(v TransactionView) error {
		if _, ok := v.FindRun("b"); !ok {
			t.Fatalf("expected run b in view")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewIsIsolated(t *testing.T) {
	store := NewStore(nil)
	seedPlate(t, store, "P1")
	if err := store.View(context.Background(), func(v TransactionView) error {
		p, ok := v.FindPlate("P1")
		if !ok {
			t.Fatalf("expected plate in view")
		}
		w, _ := p.Well("A1")
		return w.AddContent(nil, 3)
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	snap, _ := store.GetPlate("P1")
	if snap.Wells[0].Content.Volume != 0 {
		t.Fatalf("view mutations must not leak")
	}
}

func TestExportImportBucketsRoundTrip(t *testing.T) {
	store := NewStore(nil)
	seedPlate(t, store, "SRC")
	seedPlate(t, store, "DST")
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		src, _ := tx.ResolveWell("SRC", "B2")
		dst, _ := tx.ResolveWell("DST", "A3")
		if err := domain.NewDispense("trough", src, 6, map[string]float64{"dna": 3}).Apply(); err != nil {
			return err
		}
		if err := domain.NewWellTransfer(src, dst, 2).Apply(); err != nil {
			return err
		}
		return tx.SaveRun(domain.Run{ID: "r1", Applied: 1, Volume: 2})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	buckets, err := store.ExportState().EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Snapshot
	for name, payload := range buckets {
		if err := decoded.DecodeBucket(name, payload); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	if err := decoded.DecodeBucket("unknown", []byte("garbage")); err != nil {
		t.Fatalf("unknown buckets are ignored: %v", err)
	}
	if err := decoded.DecodeBucket(BucketRuns, []byte("{")); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}

	restored := NewStore(nil)
	if err := restored.ImportState(decoded); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, ok := restored.GetRun("r1"); !ok {
		t.Fatalf("expected run restored")
	}
	if err := restored.View(context.Background(), func(v TransactionView) error {
		p, _ := v.FindPlate("DST")
		w, _ := p.Well("A3")
		tree, err := w.SourcesTree()
		if err != nil {
			return err
		}
		if len(tree) != 3 || tree[0].Label() != "trough" || tree[1].Label() != "(SRC-B2)" {
			t.Fatalf("unexpected lineage after restore: %v", tree)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
