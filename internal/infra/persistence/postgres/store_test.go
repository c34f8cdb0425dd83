package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"platecore/internal/infra/persistence/memory"
	"platecore/internal/infra/persistence/postgres/testutil"
	"platecore/pkg/domain"
)

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("expected pgx driver, got %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	return db, conn
}

func TestNewStoreCreatesTableAndLoadsSnapshot(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)

	seed := memory.NewStore(nil)
	if _, err := seed.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: "SEED", Rows: 2, Columns: 2})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	buckets, err := seed.ExportState().EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for name, payload := range buckets {
		conn.Buckets[name] = payload
	}

	store, err := NewStore(ctx, "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.GetPlate("SEED"); !ok {
		t.Fatalf("expected plate loaded from state table")
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state DDL, got execs: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)

	store, err := NewStore(ctx, "ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreatePlate(domain.PlateSpec{Name: "P1", Rows: 8, Columns: 12})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	payload, ok := conn.Payload(memory.BucketPlates)
	if !ok || !strings.Contains(string(payload), `"name":"P1"`) {
		t.Fatalf("expected plates bucket persisted, got %s", payload)
	}
	if _, ok := conn.Payload(memory.BucketRuns); !ok {
		t.Fatalf("expected runs bucket persisted")
	}
}

func TestNewStoreFailures(t *testing.T) {
	ctx := context.Background()

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	_, conn := openStub(t)
	conn.FailPing = true
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}

	_, conn = openStub(t)
	conn.FailQuery = true
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "select state") {
		t.Fatalf("expected select error, got %v", err)
	}

	_, conn = openStub(t)
	conn.Buckets[memory.BucketPlates] = []byte("{not json")
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "decode plates") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRunInTransactionPersistFailures(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	create := func(name string) error {
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreatePlate(domain.PlateSpec{Name: name, Rows: 1, Columns: 1})
			return err
		})
		return err
	}

	conn.FailBegin = true
	if err := create("A"); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin error, got %v", err)
	}
	conn.FailBegin = false

	conn.FailCommit = true
	if err := create("B"); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	conn.FailCommit = false

	conn.FailExec = true
	if err := create("C"); err == nil || !strings.Contains(err.Error(), "upsert plates") {
		t.Fatalf("expected upsert error, got %v", err)
	}
}
