package logging

import (
	"context"
	"log/slog"

	"tiercache/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for run identifiers.
	FieldRunID = "run_id"
	// FieldRunKind is the standardized structured logging key for run kinds.
	FieldRunKind = "run_kind"
	// FieldItem is the standardized structured logging key for media item identities.
	FieldItem = "item"
	// FieldOp is the standardized structured logging key for transfer operation kinds.
	FieldOp = "op"
	// FieldEventType classifies a log line for filtering (e.g. "cache_in_failed").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// WithContext returns logger with the run, item, and op fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var fields []any
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, String(FieldRunID, id))
	}
	if kind, ok := services.RunKindFromContext(ctx); ok {
		fields = append(fields, String(FieldRunKind, kind))
	}
	if item, ok := services.ItemFromContext(ctx); ok {
		fields = append(fields, String(FieldItem, item))
	}
	if op, ok := services.OpFromContext(ctx); ok {
		fields = append(fields, String(FieldOp, op))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
