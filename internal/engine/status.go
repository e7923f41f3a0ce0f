package engine

import (
	"context"
	"fmt"

	"tiercache/internal/cachestate"
	"tiercache/internal/eviction"
	"tiercache/internal/pathmap"
)

// Status is a read-only view of the cache for the CLI.
type Status struct {
	Records  []cachestate.Record
	Usage    eviction.Usage
	Policy   eviction.Policy
	Mappings []pathmap.Mapping
	// Locked is true while a mutating run holds the lock.
	Locked bool
}

// Status reports tracked records and fast-tier usage. It takes no lock.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list records: %w", err)
	}
	fs, err := e.fastUsage()
	if err != nil {
		return Status{}, fmt.Errorf("fast tier usage: %w", err)
	}
	return Status{
		Records:  records,
		Usage:    eviction.MeasureUsage(fs, records, e.policy.CacheLimit),
		Policy:   e.policy,
		Mappings: e.resolver.Mappings(),
		Locked:   e.locker.Held(),
	}, nil
}
