package feed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/pathmap"
	"tiercache/internal/priority"
)

// Resolver maps provider paths to tier paths.
type Resolver interface {
	Resolve(logicalPath string) (pathmap.Resolution, error)
}

// Failure records a source whose fetch failed.
type Failure struct {
	Provider string
	User     string
	Err      error
}

// Result is the merged view of all sources for one run.
type Result struct {
	// Items are resolved, merged and scored, sorted by priority.
	Items []media.Item
	// Reported holds every identity any source mentioned, including
	// non-cacheable and consumed ones.
	Reported map[string]bool
	// Consumed holds identities every reporting source marked consumed.
	Consumed map[string]bool
	Failures []Failure
	Unmapped []string
}

// Failed reports whether any source failed.
func (r Result) Failed() bool { return len(r.Failures) > 0 }

// Gatherer fetches and merges sources.
type Gatherer struct {
	Resolver           Resolver
	SubtitleExtensions []string
	Priority           priority.Config
	Now                func() time.Time
	Logger             *slog.Logger
}

// Gather fetches every source concurrently and merges the reports.
func (g *Gatherer) Gather(ctx context.Context, sources []Source) Result {
	logger := g.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	fetched := make([][]media.Item, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetched[i], errs[i] = src.Provider.Fetch(ctx, src.User)
		}()
	}
	wg.Wait()

	res := Result{Reported: map[string]bool{}, Consumed: map[string]bool{}}
	merged := map[string]media.Item{}
	var order []string
	for i, src := range sources {
		if err := errs[i]; err != nil {
			res.Failures = append(res.Failures, Failure{Provider: src.Provider.Name(), User: src.User, Err: err})
			logging.WarnWithContext(logger, "media feed failed; user contribution dropped", "feed_failed",
				logging.String("provider", src.Provider.Name()),
				logging.String("user", src.User),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check provider connectivity and the user's token"),
				logging.String(logging.FieldImpact, "restores for items missing from the feed are held this run"),
			)
			continue
		}
		logger.Debug("media feed fetched",
			logging.String("provider", src.Provider.Name()),
			logging.String("user", src.User),
			logging.Int("items", len(fetched[i])),
		)
		for _, item := range fetched[i] {
			resolved, ok := g.resolve(item, logger, &res)
			if !ok {
				continue
			}
			if existing, seen := merged[resolved.Identity]; seen {
				merged[resolved.Identity] = existing.Merge(resolved)
				continue
			}
			merged[resolved.Identity] = resolved
			order = append(order, resolved.Identity)
		}
	}

	for _, id := range order {
		item := merged[id]
		if item.Consumed {
			res.Consumed[id] = true
		}
		if err := g.describe(&item); err != nil {
			logger.Warn("media file inspection failed",
				logging.String(logging.FieldItem, id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "media_inspect_failed"),
			)
		}
		res.Items = append(res.Items, item)
	}
	priority.Apply(res.Items, g.Priority, now())
	priority.Sort(res.Items)
	slices.Sort(res.Unmapped)
	return res
}

func (g *Gatherer) resolve(item media.Item, logger *slog.Logger, res *Result) (media.Item, bool) {
	resolution, err := g.Resolver.Resolve(item.LogicalPath)
	if err != nil {
		var unmapped *pathmap.UnmappedPathError
		if errors.As(err, &unmapped) {
			if !slices.Contains(res.Unmapped, item.LogicalPath) {
				res.Unmapped = append(res.Unmapped, item.LogicalPath)
				logger.Warn("reported path matches no mapping",
					logging.String("path", item.LogicalPath),
					logging.String(logging.FieldEventType, "unmapped_path"),
				)
			}
			return media.Item{}, false
		}
		logger.Warn("path resolution failed", logging.String("path", item.LogicalPath), logging.Error(err))
		return media.Item{}, false
	}
	item.Identity = resolution.LogicalPath
	res.Reported[item.Identity] = true
	if !resolution.Cacheable {
		return media.Item{}, false
	}
	item.LogicalPath = resolution.LogicalPath
	item.FastPath = resolution.FastPath
	item.SlowPath = resolution.SlowPath
	item.HostPath = resolution.HostPath
	return item, true
}

// describe fills in size and subtitles from whichever tier holds the file.
func (g *Gatherer) describe(item *media.Item) error {
	located, onFast := item.SlowPath, false
	if info, err := os.Stat(item.FastPath); err == nil && info.Mode().IsRegular() {
		located, onFast = item.FastPath, true
	}
	if item.Size == 0 {
		info, err := os.Stat(located)
		if err != nil {
			return err
		}
		item.Size = info.Size()
	}
	found, err := media.FindSubtitles(located, g.SubtitleExtensions)
	if err != nil {
		return err
	}
	item.Subtitles = item.Subtitles[:0:0]
	for _, path := range found {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := filepath.Base(path)
		sub := media.Subtitle{
			FastPath: filepath.Join(filepath.Dir(item.FastPath), name),
			SlowPath: filepath.Join(filepath.Dir(item.SlowPath), name),
			Size:     info.Size(),
		}
		if onFast {
			sub.FastPath = path
		} else {
			sub.SlowPath = path
		}
		item.Subtitles = append(item.Subtitles, sub)
	}
	return nil
}
