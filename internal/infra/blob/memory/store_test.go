package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"platecore/internal/blob/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	md := map[string]string{"run": "r1"}
	info, err := store.Put(ctx, "runs/r1/report.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["run"] = "mutated"
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if _, err := store.Put(ctx, "runs/r1/report.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "runs/r1/report.json")
	if err != nil || head.Metadata["run"] != "r1" {
		t.Fatalf("head: %+v %v", head, err)
	}
	_, rc, err := store.Get(ctx, "runs/r1/report.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "{}" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Put(ctx, "runs/r0/a", strings.NewReader("a"), core.PutOptions{}); err != nil {
		t.Fatalf("put r0: %v", err)
	}
	list, _ := store.List(ctx, "runs/")
	if len(list) != 2 || list[0].Key != "runs/r0/a" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if _, err := store.PresignURL(ctx, "runs/r0/a", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if ok, _ := store.Delete(ctx, "runs/r0/a"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := store.Delete(ctx, "runs/r0/a"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, err := store.Head(ctx, "runs/r0/a"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "../x", strings.NewReader(""), core.PutOptions{}); err == nil {
		t.Fatalf("expected key validation error")
	}
}
