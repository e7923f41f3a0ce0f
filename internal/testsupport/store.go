package testsupport

import (
	"context"
	"testing"

	"tiercache/internal/cachestate"
	"tiercache/internal/config"
	"tiercache/internal/logging"
)

// MustOpenStore opens a cachestate.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *cachestate.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := cachestate.Open(cfg.StatePath(), logging.NewNop())
	if err != nil {
		t.Fatalf("cachestate.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedRecord writes rec to the store.
func SeedRecord(t testing.TB, store *cachestate.Store, rec cachestate.Record) {
	t.Helper()

	if err := store.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
}
