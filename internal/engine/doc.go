// Package engine runs cache cycles and audits.
//
// A cycle takes the run lock, gathers feeds, filters and plans placements,
// executes the plan, records outcomes, evicts down to the capacity target,
// checks the cached pair invariant, and publishes the exclusion list,
// metrics, and a summary. Decision phases run sequentially on the calling
// goroutine; only transfers run concurrently, and only the calling goroutine
// writes to the state store.
package engine
