package services_test

import (
	"context"
	"testing"

	"tiercache/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithRunKind(ctx, "cache")
	ctx = services.WithItem(ctx, "/data/tv/show/s01e01.mkv")
	ctx = services.WithOp(ctx, "cache_in")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if kind, ok := services.RunKindFromContext(ctx); !ok || kind != "cache" {
		t.Fatalf("unexpected run kind: %v %v", kind, ok)
	}
	if item, ok := services.ItemFromContext(ctx); !ok || item != "/data/tv/show/s01e01.mkv" {
		t.Fatalf("unexpected item: %v %v", item, ok)
	}
	if op, ok := services.OpFromContext(ctx); !ok || op != "cache_in" {
		t.Fatalf("unexpected op: %v %v", op, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "")
	ctx = services.WithItem(ctx, "")
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id")
	}
	if _, ok := services.ItemFromContext(ctx); ok {
		t.Fatal("expected no item")
	}
}
