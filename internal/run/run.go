// Package run carries the explicit per-run context shared by the planner,
// executor, eviction engine, and auditor, and guards against overlapping runs.
package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tiercache/internal/logging"
	"tiercache/internal/progress"
	"tiercache/internal/services"
)

// Kind names the task a run performs.
type Kind string

const (
	KindCache      Kind = "cache"
	KindDryRun     Kind = "dry_run"
	KindAudit      Kind = "audit"
	KindAuditFix   Kind = "audit_fix"
	KindRestoreAll Kind = "restore_all"
)

// Mutating reports whether the run may move files or change the store.
func (k Kind) Mutating() bool {
	return k == KindCache || k == KindAuditFix || k == KindRestoreAll
}

// Context is the explicit state of a single run.
type Context struct {
	ID       string
	Kind     Kind
	Ctx      context.Context
	Now      time.Time
	Workers  int
	Progress progress.Sink
	Logger   *slog.Logger
}

// Options configures New.
type Options struct {
	Workers  int
	Progress progress.Sink
	Logger   *slog.Logger
	// Now overrides the run clock; zero uses time.Now.
	Now time.Time
}

// New creates a run context with a fresh ID. The returned Ctx and Logger carry
// the run ID and kind.
func New(ctx context.Context, kind Kind, opts Options) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	ctx = services.WithRunID(ctx, id)
	ctx = services.WithRunKind(ctx, string(kind))

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	sink := opts.Progress
	if sink == nil {
		sink = progress.Nop{}
	}
	return &Context{
		ID:       id,
		Kind:     kind,
		Ctx:      ctx,
		Now:      now,
		Workers:  workers,
		Progress: sink,
		Logger:   logging.WithContext(ctx, opts.Logger),
	}
}

// Cancelled reports whether the run was asked to stop. Callers check it only
// between operations.
func (c *Context) Cancelled() bool {
	return c.Ctx.Err() != nil
}
