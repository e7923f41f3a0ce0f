package transfer

import (
	"tiercache/internal/media"
)

// OpKind names a transfer operation.
type OpKind string

const (
	OpCacheIn        OpKind = "cache_in"
	OpEvictOut       OpKind = "evict_out"
	OpRestore        OpKind = "restore"
	OpRecreateBackup OpKind = "recreate_backup"
)

// Restores reports whether the op moves an item back to the slow tier.
func (k OpKind) Restores() bool {
	return k == OpRestore || k == OpEvictOut
}

// Op is one planned operation. Src and Dst name the primary file only;
// subtitles travel on Item.
type Op struct {
	Kind         OpKind
	Item         media.Item
	Src          string
	Dst          string
	ExpectedSize int64
	Reason       string
}

// Plan is an ordered list of operations.
type Plan []Op

// CacheIn builds a cache-in op for item.
func CacheIn(item media.Item, reason string) Op {
	return Op{Kind: OpCacheIn, Item: item, Src: item.SlowPath, Dst: item.FastPath, ExpectedSize: item.TotalSize(), Reason: reason}
}

// Restore builds a restore op for item.
func Restore(item media.Item, reason string) Op {
	return Op{Kind: OpRestore, Item: item, Src: item.FastPath, Dst: item.SlowPath, ExpectedSize: item.TotalSize(), Reason: reason}
}

// EvictOut builds an eviction op for item.
func EvictOut(item media.Item, reason string) Op {
	return Op{Kind: OpEvictOut, Item: item, Src: item.FastPath, Dst: item.SlowPath, ExpectedSize: item.TotalSize(), Reason: reason}
}

// RecreateBackup builds a backup recreation op for item.
func RecreateBackup(item media.Item, reason string) Op {
	return Op{Kind: OpRecreateBackup, Item: item, Src: item.FastPath, Dst: item.SlowPath, ExpectedSize: item.TotalSize(), Reason: reason}
}

// Status is the outcome class of an op.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Failure classifies a failed op.
type Failure string

const (
	FailureNone     Failure = "none"
	FailureItem     Failure = "item"
	FailureCritical Failure = "critical"
)

// Skip reasons shared with callers.
const (
	ReasonAborted        = "aborted"
	ReasonCancelled      = "cancelled"
	ReasonActivePlayback = "active playback"
	ReasonStaleMetadata  = "stale metadata"
	ReasonSourceMissing  = "source missing"
	ReasonAlreadyCached  = "already cached"
	ReasonOriginalExists = "original already present"
	ReasonNoArraySpace   = "insufficient array space"
	ReasonConcurrent     = "concurrent access"
)

// Result is the structured outcome of one op. Op.Item reflects the files that
// were actually moved (missing subtitles are dropped).
type Result struct {
	Op      Op
	Status  Status
	Reason  string
	Failure Failure
	Err     error
	Bytes   int64
}

// Report aggregates the results of one Execute call in plan order.
type Report struct {
	Results   []Result
	Succeeded int
	Failed    int
	Skipped   int
	// Critical is the first critical error, if any.
	Critical error
}

func (r *Report) add(res Result) {
	switch res.Status {
	case StatusSucceeded:
		r.Succeeded++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
}

// Bytes sums transferred bytes for ops of the given kinds.
func (r Report) Bytes(kinds ...OpKind) int64 {
	var total int64
	for _, res := range r.Results {
		for _, k := range kinds {
			if res.Op.Kind == k {
				total += res.Bytes
				break
			}
		}
	}
	return total
}
