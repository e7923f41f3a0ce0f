package services

import "context"

type contextKey string

const (
	runIDKey   contextKey = "run_id"
	runKindKey contextKey = "run_kind"
	itemKey    contextKey = "item"
	opKey      contextKey = "op"
)

// WithRunID annotates context with the run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRunKind annotates context with the run kind (cache, audit, audit_fix).
func WithRunKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, runKindKey, kind)
}

// RunKindFromContext returns the run kind if present.
func RunKindFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runKindKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithItem annotates context with the media item identity being processed.
func WithItem(ctx context.Context, identity string) context.Context {
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, itemKey, identity)
}

// ItemFromContext extracts the media item identity if present.
func ItemFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(itemKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithOp annotates context with the transfer operation kind.
func WithOp(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, opKey, op)
}

// OpFromContext returns the transfer operation kind if present.
func OpFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(opKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
