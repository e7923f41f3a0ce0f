// Package preflight provides readiness checks for the filesystem paths and
// external services tiercache depends on.
//
// The CLI "tiercache doctor" command runs RunAll and prints each result.
// Checks for unconfigured features are reported as skipped, never failed.
package preflight
