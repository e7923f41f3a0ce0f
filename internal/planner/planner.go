// Package planner decides which items move between tiers in a run.
//
// Filter applies per-user skip rules and the content age limit. Plan compares
// the desired set with tracked records and emits restores for items that are
// no longer wanted, then cache-ins for new items in priority order until the
// fast-tier budget runs out. Items that do not fit are deferred, never
// failed, so a full cache degrades to "nothing new this run".
package planner

import (
	"cmp"
	"math"
	"slices"
	"time"

	"tiercache/internal/cachestate"
	"tiercache/internal/config"
	"tiercache/internal/media"
	"tiercache/internal/priority"
	"tiercache/internal/transfer"
)

// Exclusion reasons.
const (
	ReasonUserRules        = "skipped by user rules"
	ReasonWatchlistExpired = "watchlist retention expired"
	ReasonTooOld           = "older than max age"
)

// Deferral reasons.
const (
	ReasonInsufficientSpace = "insufficient space"
	ReasonBelowFloor        = "below eviction floor"
)

// Restore reasons.
const (
	ReasonConsumed      = "consumed"
	ReasonNotDesired    = "no longer desired"
	ReasonNotReported   = "no longer reported"
	reasonCacheInPrefix = "signal: "
)

// UserRule holds the skip flags for one user.
type UserRule struct {
	SkipOnDeck    bool
	SkipWatchlist bool
}

// Rules are the content filters applied before planning.
type Rules struct {
	Users map[string]UserRule
	// MaxAge drops non-pinned items whose last activity is older; zero
	// disables the filter. Items without a known activity time are kept.
	MaxAge time.Duration
	// WatchlistRetention drops watchlist reports added longer ago than this;
	// zero disables it. Reports without an added time never expire.
	WatchlistRetention time.Duration
}

// RulesFromConfig builds Rules from validated configuration.
func RulesFromConfig(cfg *config.Config) Rules {
	rules := Rules{Users: make(map[string]UserRule, len(cfg.Plex.Users))}
	for _, u := range cfg.Plex.Users {
		rules.Users[u.Name] = UserRule{SkipOnDeck: u.SkipOnDeck, SkipWatchlist: u.SkipWatchlist}
	}
	if cfg.Cache.MaxAgeDays > 0 {
		rules.MaxAge = time.Duration(cfg.Cache.MaxAgeDays) * 24 * time.Hour
	}
	if cfg.Cache.WatchlistRetentionDays > 0 {
		rules.WatchlistRetention = time.Duration(cfg.Cache.WatchlistRetentionDays * float64(24*time.Hour))
	}
	return rules
}

func (r Rules) expired(report media.Report, now time.Time) bool {
	if r.WatchlistRetention <= 0 || report.Signal.Kind != media.SignalWatchlist || report.Signal.Since.IsZero() {
		return false
	}
	return now.Sub(report.Signal.Since) > r.WatchlistRetention
}

func (r Rules) allows(report media.Report) bool {
	rule, ok := r.Users[report.User]
	if !ok {
		return true
	}
	switch report.Signal.Kind {
	case media.SignalOnDeck:
		return !rule.SkipOnDeck
	case media.SignalWatchlist:
		return !rule.SkipWatchlist
	default:
		return true
	}
}

// Exclusion explains why an item was filtered out.
type Exclusion struct {
	Item   media.Item
	Reason string
}

// Filter drops reports that users opted out of or whose watchlist retention
// expired, then items older than the age limit. An item with no remaining
// reports is excluded. Pins are exempt from every rule.
func Filter(items []media.Item, rules Rules, now time.Time) ([]media.Item, []Exclusion) {
	desired := make([]media.Item, 0, len(items))
	var excluded []Exclusion
	for _, item := range items {
		if item.Pinned() {
			desired = append(desired, item)
			continue
		}
		kept := make([]media.Report, 0, len(item.Reports))
		expired := 0
		for _, report := range item.Reports {
			switch {
			case !rules.allows(report):
			case rules.expired(report, now):
				expired++
			default:
				kept = append(kept, report)
			}
		}
		if len(kept) == 0 {
			reason := ReasonUserRules
			if expired > 0 {
				reason = ReasonWatchlistExpired
			}
			excluded = append(excluded, Exclusion{Item: item, Reason: reason})
			continue
		}
		if rules.MaxAge > 0 && !item.LastActivity.IsZero() && now.Sub(item.LastActivity) > rules.MaxAge {
			excluded = append(excluded, Exclusion{Item: item, Reason: ReasonTooOld})
			continue
		}
		item.Reports = kept
		desired = append(desired, item)
	}
	return desired, excluded
}

// Input is everything Plan needs. Desired items must already be resolved to
// tier paths and scored.
type Input struct {
	Desired []media.Item
	Tracked []cachestate.Record
	// Reported holds every identity any feed mentioned this run, before
	// filtering.
	Reported map[string]bool
	// Consumed holds identities the provider reports as fully watched.
	Consumed map[string]bool
	// FeedFailed suppresses absence-based restores for the run.
	FeedFailed   bool
	FreeBytes    uint64
	MinFreeBytes uint64
	// Headroom bounds non-pinned cache-ins to the room left under the
	// eviction threshold. Pins use it up but are never held back by it. Nil
	// leaves only the free-space budget.
	Headroom *uint64
	// Floor is the eviction priority floor. Non-pinned candidates below it
	// are deferred, since eviction would move them straight back out. Zero
	// disables the check.
	Floor int
	// Retention keeps a record cached for at least this long before an
	// absence-based restore. Consumed items are not held.
	Retention time.Duration
	Now       time.Time
}

// Deferral is a cache-in candidate that was not scheduled.
type Deferral struct {
	Item   media.Item
	Reason string
}

// Result is the plan for a run.
type Result struct {
	Ops      transfer.Plan
	Deferred []Deferral
	// Refresh lists tracked items that stay cached; their records get the new
	// priority.
	Refresh []media.Item
	// Held lists tracked identities whose restore was suppressed because a
	// feed failed.
	Held []string
	// Retained lists tracked identities whose restore waits for the cache
	// retention period to pass.
	Retained []string
}

// Plan derives the ordered transfer plan. Restores come first, then
// cache-ins in priority order.
func Plan(in Input) Result {
	var res Result
	desired := make(map[string]media.Item, len(in.Desired))
	for _, item := range in.Desired {
		desired[item.Identity] = item
	}
	tracked := make(map[string]bool, len(in.Tracked))

	records := slices.Clone(in.Tracked)
	slices.SortFunc(records, func(a, b cachestate.Record) int { return cmp.Compare(a.Identity, b.Identity) })
	for _, rec := range records {
		tracked[rec.Identity] = true
		item, want := desired[rec.Identity]
		switch {
		case want && item.Pinned():
			res.Refresh = append(res.Refresh, item)
		case want && in.Consumed[rec.Identity]:
			res.Ops = append(res.Ops, transfer.Restore(rec.Item(), ReasonConsumed))
		case want:
			res.Refresh = append(res.Refresh, item)
		case in.Consumed[rec.Identity]:
			res.Ops = append(res.Ops, transfer.Restore(rec.Item(), ReasonConsumed))
		case in.FeedFailed:
			res.Held = append(res.Held, rec.Identity)
		case in.Retention > 0 && in.Now.Sub(rec.CachedAt) < in.Retention:
			res.Retained = append(res.Retained, rec.Identity)
		case in.Reported[rec.Identity]:
			res.Ops = append(res.Ops, transfer.Restore(rec.Item(), ReasonNotDesired))
		default:
			res.Ops = append(res.Ops, transfer.Restore(rec.Item(), ReasonNotReported))
		}
	}

	var candidates []media.Item
	for _, item := range in.Desired {
		if tracked[item.Identity] {
			continue
		}
		if in.Consumed[item.Identity] && !item.Pinned() {
			continue
		}
		candidates = append(candidates, item)
	}
	priority.Sort(candidates)

	var budget uint64
	if in.FreeBytes > in.MinFreeBytes {
		budget = in.FreeBytes - in.MinFreeBytes
	}
	headroom := uint64(math.MaxUint64)
	if in.Headroom != nil {
		headroom = *in.Headroom
	}
	for _, item := range candidates {
		pinned := item.Pinned()
		if in.Floor > 0 && !pinned && item.Priority < in.Floor {
			res.Deferred = append(res.Deferred, Deferral{Item: item, Reason: ReasonBelowFloor})
			continue
		}
		need := uint64(max(item.TotalSize(), 0))
		if need > budget || (!pinned && need > headroom) {
			res.Deferred = append(res.Deferred, Deferral{Item: item, Reason: ReasonInsufficientSpace})
			continue
		}
		budget -= need
		headroom -= min(need, headroom)
		res.Ops = append(res.Ops, transfer.CacheIn(item, reasonCacheInPrefix+string(item.Signal().Kind)))
	}
	return res
}
