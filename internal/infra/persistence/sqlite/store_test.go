package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"platecore/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("expected path %s, got %s", path, store.Path())
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreatePlate(domain.PlateSpec{Name: "P1", Rows: 8, Columns: 12, WellCapacity: 200e-6}); err != nil {
			return err
		}
		w, err := tx.ResolveWell("P1", "B3")
		if err != nil {
			return err
		}
		if err := domain.NewDispense("buffer", w, 20e-6, map[string]float64{"tris": 1e-9}).Apply(); err != nil {
			return err
		}
		return tx.SaveRun(domain.Run{ID: "run-1", Applied: 1, Volume: 20e-6})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })

	snap, ok := reloaded.GetPlate("P1")
	if !ok {
		t.Fatalf("expected plate after reload")
	}
	var found bool
	for _, w := range snap.Wells {
		if w.Name != "B3" {
			continue
		}
		found = true
		if w.Content.Volume != 20e-6 || w.Content.Quantities["tris"] != 1e-9 {
			t.Fatalf("unexpected content after reload: %+v", w.Content)
		}
		if len(w.Sources) != 1 || w.Sources[0].Label != "buffer" {
			t.Fatalf("unexpected sources after reload: %+v", w.Sources)
		}
	}
	if !found {
		t.Fatalf("well B3 missing from snapshot")
	}
	if _, ok := reloaded.GetRun("run-1"); !ok {
		t.Fatalf("expected run after reload")
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var name string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", "state").Scan(&name); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if name != "state" {
		t.Fatalf("expected state table, got %s", name)
	}
}

func TestSQLiteStoreSkipsPersistOnFailure(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: "", Rows: 1, Columns: 1})
		return err
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM state").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted buckets, got %d", count)
	}
}
