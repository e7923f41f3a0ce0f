// Package eviction selects cached records to move back to the slow tier when
// fast-tier usage crosses the configured threshold.
//
// Selection is deterministic and runs in three tiers:
//
//  1. records below the priority floor and older than the retention age
//  2. at critical usage only, younger records below the floor
//  3. records at or above the floor, in ascending priority; younger ones
//     only at critical usage
//
// Within a tier records go in ascending priority, oldest cached first (fifo
// mode orders tier 1 by age alone). Eviction stops as soon as projected usage
// reaches threshold - hysteresis. Pinned records never leave; the planner
// would cache them again on the next run.
package eviction

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"tiercache/internal/cachestate"
	"tiercache/internal/config"
	"tiercache/internal/fileutil"
	"tiercache/internal/transfer"
)

// Mode selects the eviction ordering.
type Mode string

const (
	ModePriority Mode = config.EvictionPriority
	ModeFIFO     Mode = config.EvictionFIFO
	ModeDisabled Mode = config.EvictionDisabled
)

// Policy is the capacity policy for the fast tier.
type Policy struct {
	Mode         Mode
	Threshold    float64
	Hysteresis   float64
	MinPriority  int
	MinRetention time.Duration
	// Critical is the usage fraction at which age and floor protection relax.
	Critical float64
	// CacheLimit, when non-zero, replaces the filesystem size as capacity.
	CacheLimit uint64
}

// PolicyFromConfig converts validated configuration.
func PolicyFromConfig(cfg config.Eviction) Policy {
	return Policy{
		Mode:         Mode(cfg.Mode),
		Threshold:    cfg.Threshold,
		Hysteresis:   cfg.Hysteresis,
		MinPriority:  cfg.MinPriority,
		MinRetention: time.Duration(cfg.MinRetentionHours) * time.Hour,
		Critical:     cfg.Critical,
		CacheLimit:   cfg.CacheLimitBytes,
	}
}

// Target is the usage fraction eviction aims for.
func (p Policy) Target() float64 {
	return max(p.Threshold-p.Hysteresis, 0)
}

// Usage is the fast-tier occupancy eviction reasons about.
type Usage struct {
	Used     uint64
	Capacity uint64
}

// Fraction returns Used/Capacity, or 0 for an empty capacity.
func (u Usage) Fraction() float64 {
	if u.Capacity == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Capacity)
}

// MeasureUsage derives Usage from filesystem stats. With a cache limit the
// capacity is the limit and usage is the bytes held by tracked records.
func MeasureUsage(fs fileutil.Usage, records []cachestate.Record, limit uint64) Usage {
	if limit > 0 {
		var used uint64
		for _, rec := range records {
			used += uint64(max(rec.TotalSize(), 0))
		}
		return Usage{Used: used, Capacity: limit}
	}
	return Usage{Used: fs.Used(), Capacity: fs.Total}
}

// Plan is the eviction outcome.
type Plan struct {
	Ops       transfer.Plan
	Before    float64
	Projected float64
	// Triggered is false when usage was under the threshold or eviction is
	// disabled.
	Triggered bool
	// Critical is true when usage reached the critical fraction.
	Critical bool
	// Shortfall is true when every eligible record was selected and the
	// target still was not reached.
	Shortfall bool
}

type tier int

const (
	tierUnprotectedLow tier = iota
	tierProtectedLow
	tierFloor
)

type candidate struct {
	rec       cachestate.Record
	tier      tier
	protected bool
}

// Evict returns evict-out ops that bring usage to the policy target.
func Evict(records []cachestate.Record, usage Usage, policy Policy, now time.Time) Plan {
	plan := Plan{Before: usage.Fraction(), Projected: usage.Fraction()}
	if policy.Mode == ModeDisabled || usage.Capacity == 0 || plan.Before < policy.Threshold {
		return plan
	}
	plan.Triggered = true
	plan.Critical = policy.Critical > 0 && plan.Before >= policy.Critical

	candidates := make([]candidate, 0, len(records))
	for _, rec := range records {
		if rec.Source == cachestate.SourcePinned {
			continue
		}
		protected := now.Sub(rec.CachedAt) < policy.MinRetention
		below := rec.Priority < policy.MinPriority
		c := candidate{rec: rec, protected: protected}
		switch {
		case protected && !plan.Critical:
			continue
		case below && !protected:
			c.tier = tierUnprotectedLow
		case below:
			c.tier = tierProtectedLow
		default:
			c.tier = tierFloor
		}
		candidates = append(candidates, c)
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(a.tier, b.tier); c != 0 {
			return c
		}
		// FIFO ordering applies below the floor only, so an at-or-above-floor
		// record never leaves while a lower-priority candidate remains.
		if policy.Mode != ModeFIFO || a.tier != tierUnprotectedLow {
			if c := cmp.Compare(a.rec.Priority, b.rec.Priority); c != 0 {
				return c
			}
		}
		if c := a.rec.CachedAt.Compare(b.rec.CachedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.rec.Identity, b.rec.Identity)
	})

	target := policy.Target()
	used := usage.Used
	for _, c := range candidates {
		if float64(used)/float64(usage.Capacity) <= target {
			break
		}
		size := uint64(max(c.rec.TotalSize(), 0))
		used -= min(size, used)
		plan.Ops = append(plan.Ops, transfer.EvictOut(c.rec.Item(), reasonFor(c, policy)))
	}
	plan.Projected = float64(used) / float64(usage.Capacity)
	plan.Shortfall = plan.Projected > target
	return plan
}

func reasonFor(c candidate, policy Policy) string {
	switch c.tier {
	case tierProtectedLow:
		return fmt.Sprintf("critical usage: priority %d below floor %d, retention relaxed", c.rec.Priority, policy.MinPriority)
	case tierFloor:
		if c.protected {
			return fmt.Sprintf("critical usage: priority %d, retention relaxed", c.rec.Priority)
		}
		return fmt.Sprintf("capacity: priority %d, no lower-priority candidates left", c.rec.Priority)
	default:
		if policy.Mode == ModeFIFO {
			return "capacity: oldest cached"
		}
		return fmt.Sprintf("capacity: priority %d below floor %d", c.rec.Priority, policy.MinPriority)
	}
}
