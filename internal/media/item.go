package media

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SignalKind classifies why an item should live on the fast tier.
type SignalKind string

const (
	SignalNone      SignalKind = ""
	SignalWatchlist SignalKind = "watchlist"
	SignalOnDeck    SignalKind = "on_deck"
	SignalPinned    SignalKind = "pinned"
)

func (k SignalKind) rank() int {
	switch k {
	case SignalPinned:
		return 3
	case SignalOnDeck:
		return 2
	case SignalWatchlist:
		return 1
	default:
		return 0
	}
}

// Signal is a consumption signal. Position is the zero-based on-deck
// position (0 = next to play) and is ignored for other kinds. Since is when a
// watchlist entry was added, zero when unknown.
type Signal struct {
	Kind     SignalKind
	Position int
	Since    time.Time
}

// Stronger reports whether s outranks other.
func (s Signal) Stronger(other Signal) bool {
	if s.Kind.rank() != other.Kind.rank() {
		return s.Kind.rank() > other.Kind.rank()
	}
	return s.Kind == SignalOnDeck && s.Position < other.Position
}

// Report is a single user's signal for an item. Pins carry an empty user.
type Report struct {
	User   string
	Signal Signal
}

// Subtitle is a sidecar file that travels with its parent item.
type Subtitle struct {
	FastPath string `json:"fast_path"`
	SlowPath string `json:"slow_path"`
	Size     int64  `json:"size"`
}

// Item is a media file considered during a single run.
type Item struct {
	Identity    string
	LogicalPath string
	FastPath    string
	SlowPath    string
	HostPath    string
	Size        int64
	Subtitles   []Subtitle
	Reports     []Report
	// Consumed is set when the provider reports the item as fully watched.
	Consumed     bool
	Priority     int
	LastActivity time.Time
}

// Identity derives the stable key for a logical path: cleaned and NFC
// normalized so decomposed and composed names compare equal.
func Identity(logicalPath string) string {
	trimmed := strings.TrimSpace(logicalPath)
	if trimmed == "" {
		return ""
	}
	return norm.NFC.String(filepath.Clean(trimmed))
}

// Signal returns the strongest signal across all reports.
func (it Item) Signal() Signal {
	var best Signal
	for _, r := range it.Reports {
		if r.Signal.Stronger(best) {
			best = r.Signal
		}
	}
	return best
}

// Pinned reports whether any report pins the item.
func (it Item) Pinned() bool {
	for _, r := range it.Reports {
		if r.Signal.Kind == SignalPinned {
			return true
		}
	}
	return false
}

// Users returns the distinct non-empty users that reported the item, sorted.
func (it Item) Users() []string {
	users := make([]string, 0, len(it.Reports))
	for _, r := range it.Reports {
		if r.User == "" || slices.Contains(users, r.User) {
			continue
		}
		users = append(users, r.User)
	}
	slices.Sort(users)
	return users
}

// TotalSize is the item size plus all subtitle sizes.
func (it Item) TotalSize() int64 {
	total := it.Size
	for _, sub := range it.Subtitles {
		total += sub.Size
	}
	return total
}

// Merge folds other into it: reports are unioned, the latest activity wins,
// and consumption requires both sides to agree. Pins are not consulted here;
// the planner never restores a pinned item whatever Consumed says.
// Path and size fields are kept from it unless empty.
func (it Item) Merge(other Item) Item {
	out := it
	out.Reports = append(slices.Clone(it.Reports), other.Reports...)
	if other.LastActivity.After(out.LastActivity) {
		out.LastActivity = other.LastActivity
	}
	out.Consumed = it.Consumed && other.Consumed
	if out.LogicalPath == "" {
		out.LogicalPath = other.LogicalPath
	}
	if out.Size == 0 {
		out.Size = other.Size
	}
	return out
}
