// Package audit reconciles tracked cache records against the files that are
// actually on both tiers.
//
// Scan walks the fast tier of every cacheable mapping and the slow tier for
// backup files. Audit compares that snapshot with the store and reports
// anomalies; it never touches disk. Apply turns fixable anomalies into
// transfer ops, runs them through the shared executor, and then updates the
// store from the coordinating goroutine. Untracked fast-tier files are only
// reported.
package audit
