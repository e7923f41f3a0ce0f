// Package feed gathers consumption signals from media index providers.
//
// Each Source pairs a Provider with the user it is fetched for. Gatherer
// fetches every source, isolates per-user failures, resolves reported paths
// to tier paths, discovers sidecar subtitles, merges reports for the same
// identity and scores the result. A failed source contributes nothing and
// is recorded so the planner can hold absence-based restores for the run.
package feed
