// Package priority scores media items on a 0..1000 scale. Scores fall in
// non-overlapping bands so a weaker signal can never outrank a stronger one:
//
//	pinned     1000
//	on deck    600..999  (earlier positions score higher)
//	watchlist  300..599  (more interested users score higher)
//	none       0..19
//
// Within a band a small recency bonus favours recently active items. The
// bonus is smaller than the step between on-deck positions and watchlist
// user counts, so it only breaks ties between otherwise equal items.
package priority

import (
	"cmp"
	"slices"
	"time"

	"tiercache/internal/media"
)

const (
	Max = 1000

	pinnedScore      = Max
	onDeckBase       = 980
	onDeckStep       = 20
	onDeckMaxSteps   = 18
	watchlistBase    = 400
	watchlistStep    = 20
	watchlistMaxUser = 4

	// MaxRecencyBonus keeps the bonus below one band step.
	MaxRecencyBonus = onDeckStep - 1
)

// Config tunes the recency bonus.
type Config struct {
	// RecencyBonus is the bonus for activity today. It decays one point per
	// day and is clamped to [0, MaxRecencyBonus].
	RecencyBonus int
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{RecencyBonus: MaxRecencyBonus}
}

// Score computes the priority of item at now.
func Score(item media.Item, cfg Config, now time.Time) int {
	signal := item.Signal()
	bonus := recencyBonus(item.LastActivity, cfg, now)
	switch signal.Kind {
	case media.SignalPinned:
		return pinnedScore
	case media.SignalOnDeck:
		pos := min(max(signal.Position, 0), onDeckMaxSteps)
		return onDeckBase - onDeckStep*pos + bonus
	case media.SignalWatchlist:
		users := min(max(len(item.Users())-1, 0), watchlistMaxUser)
		return watchlistBase + watchlistStep*users + bonus
	default:
		return bonus
	}
}

func recencyBonus(last time.Time, cfg Config, now time.Time) int {
	if last.IsZero() {
		return 0
	}
	limit := min(max(cfg.RecencyBonus, 0), MaxRecencyBonus)
	days := 0
	if elapsed := now.Sub(last); elapsed > 0 {
		days = int(elapsed / (24 * time.Hour))
	}
	return max(limit-days, 0)
}

// Apply sets Priority on every item.
func Apply(items []media.Item, cfg Config, now time.Time) {
	for i := range items {
		items[i].Priority = Score(items[i], cfg, now)
	}
}

// Less orders by priority descending, then identity ascending.
func Less(a, b media.Item) bool {
	return Compare(a, b) < 0
}

// Compare is the three-way form of Less for slices.SortFunc.
func Compare(a, b media.Item) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Identity, b.Identity)
}

// Sort orders items in place by Less.
func Sort(items []media.Item) {
	slices.SortFunc(items, Compare)
}
