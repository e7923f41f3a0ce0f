// Package services defines shared utilities consumed by the engine components
// and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, run kinds, and media item
//     identities for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (critical vs per-item vs configuration) with errors.Is.
//
// Use these helpers when wiring new components so operational behaviour (error
// classification, observability) stays uniform across the engine.
package services
