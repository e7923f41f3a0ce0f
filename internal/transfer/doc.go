// Package transfer executes cache-in, restore, evict-out, and backup
// recreation operations with a bounded worker pool.
//
// A cache-in copies the slow original to the fast tier through a temp file,
// then renames the original to <original><suffix> so the pair (fast copy,
// slow backup) always exists together. Restore and evict-out reverse this,
// writing the fast copy back only when it differs from the backup. Each
// identity is locked for the duration of its operation. A critical failure
// (disk full, permission denied, tier unmounted) aborts in-flight cache-in
// copies and stops dispatch while restores already running are allowed to
// finish.
package transfer
