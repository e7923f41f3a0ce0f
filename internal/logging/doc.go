// Package logging assembles structured slog loggers and formatting helpers used
// across tiercache.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so transfer and eviction code can tag log
// lines with the run ID, item identity, and operation kind. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
