package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tiercache/internal/cachestate"
	"tiercache/internal/config"
	"tiercache/internal/eviction"
	"tiercache/internal/exclusion"
	"tiercache/internal/feed"
	"tiercache/internal/fileutil"
	"tiercache/internal/logging"
	"tiercache/internal/metrics"
	"tiercache/internal/notifications"
	"tiercache/internal/pathmap"
	"tiercache/internal/planner"
	"tiercache/internal/priority"
	"tiercache/internal/progress"
	"tiercache/internal/run"
	"tiercache/internal/services"
	"tiercache/internal/services/plex"
	"tiercache/internal/transfer"
)

// Engine owns the long-lived collaborators of a process.
type Engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *cachestate.Store
	resolver   *pathmap.Resolver
	executor   *transfer.Executor
	locker     *run.Locker
	gatherer   *feed.Gatherer
	sources    []feed.Source
	exclusions *exclusion.Writer
	metrics    *metrics.Metrics
	notifier   notifications.Service
	statfs     fileutil.StatfsFunc
	rules      planner.Rules
	policy     eviction.Policy
	progress   progress.Sink
	now        func() time.Time
}

type options struct {
	sources    []feed.Source
	sourcesSet bool
	guard      transfer.SessionGuard
	guardSet   bool
	statfs     fileutil.StatfsFunc
	mountTable pathmap.MountTable
	notifier   notifications.Service
	progress   progress.Sink
	now        func() time.Time
	httpClient plex.HTTPDoer
}

// Option configures optional Engine behaviour.
type Option func(*options)

// WithSources replaces the feed sources built from configuration.
func WithSources(sources ...feed.Source) Option {
	return func(o *options) {
		o.sources = sources
		o.sourcesSet = true
	}
}

// WithSessionGuard replaces the configured session guard. Nil disables the
// playback check.
func WithSessionGuard(guard transfer.SessionGuard) Option {
	return func(o *options) {
		o.guard = guard
		o.guardSet = true
	}
}

// WithStatfs replaces filesystem capacity lookups.
func WithStatfs(fn fileutil.StatfsFunc) Option {
	return func(o *options) { o.statfs = fn }
}

// WithMountTable replaces /proc/mounts for mapping classification.
func WithMountTable(table pathmap.MountTable) Option {
	return func(o *options) { o.mountTable = table }
}

// WithNotifier replaces the ntfy notifier.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// WithProgress sets the progress sink for runs.
func WithProgress(sink progress.Sink) Option {
	return func(o *options) { o.progress = sink }
}

// WithClock overrides the run clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHTTPClient sets the HTTP backend for the Plex adapters.
func WithHTTPClient(client plex.HTTPDoer) Option {
	return func(o *options) { o.httpClient = client }
}

// New validates the environment and opens the state store. Errors marked
// services.ErrConfiguration are fatal: no file operation has happened yet.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "init", "config is nil", nil)
	}
	o := options{statfs: fileutil.DiskUsage, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.NewComponentLogger(logger, "engine")

	resolverOpts := []pathmap.Option{pathmap.WithLogger(logger)}
	if o.mountTable != nil {
		resolverOpts = append(resolverOpts, pathmap.WithMountTable(o.mountTable))
	}
	resolver, err := pathmap.NewResolver(cfg.Mappings, resolverOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "resolve mappings", "", err)
	}
	if len(resolver.CacheableFastPrefixes()) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "resolve mappings", "no cacheable path mapping configured", nil)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := cachestate.Open(cfg.StatePath(), logger)
	if err != nil {
		return nil, err
	}

	plexConfigured := strings.TrimSpace(cfg.Plex.URL) != "" && strings.TrimSpace(cfg.Plex.Token) != ""
	guard := o.guard
	if !o.guardSet && plexConfigured {
		guard = plex.NewSessionGuard(cfg, o.httpClient)
	}
	sources := o.sources
	if !o.sourcesSet {
		sources = defaultSources(cfg, plexConfigured, o.httpClient, logger)
	}

	var cleanupRoots []string
	if cfg.Cache.CleanupEmptyDirs {
		cleanupRoots = resolver.CacheableFastPrefixes()
	}
	executor := transfer.NewExecutor(transfer.Options{
		BackupSuffix:     cfg.Cache.BackupSuffix,
		Guard:            guard,
		ProgressInterval: int64(cfg.Transfer.ProgressIntervalBytes),
		CleanupRoots:     cleanupRoots,
		Statfs:           o.statfs,
	})

	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	sink := o.progress
	if sink == nil {
		sink = progress.NewLogSink(logger, 25, time.Minute)
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: resolver,
		executor: executor,
		locker:   run.NewLocker(cfg.LockPath()),
		gatherer: &feed.Gatherer{
			Resolver:           resolver,
			SubtitleExtensions: cfg.Cache.SubtitleExtensions,
			Priority:           priority.DefaultConfig(),
			Now:                o.now,
			Logger:             logger,
		},
		sources:    sources,
		exclusions: exclusion.NewWriter(cfg.Paths.ExclusionFile, cfg.Paths.ManualExclusionFile),
		metrics:    metrics.New(),
		notifier:   notifier,
		statfs:     o.statfs,
		rules:      planner.RulesFromConfig(cfg),
		policy:     eviction.PolicyFromConfig(cfg.Eviction),
		progress:   sink,
		now:        o.now,
	}, nil
}

func defaultSources(cfg *config.Config, plexConfigured bool, client plex.HTTPDoer, logger *slog.Logger) []feed.Source {
	var sources []feed.Source
	if plexConfigured {
		provider := plex.NewFeed(cfg, client, logger)
		if len(cfg.Plex.Users) == 0 {
			sources = append(sources, feed.Source{Provider: provider})
		}
		for _, u := range cfg.Plex.Users {
			sources = append(sources, feed.Source{Provider: provider, User: u.Name})
		}
	}
	if len(cfg.Cache.Pins) > 0 {
		sources = append(sources, feed.Source{Provider: feed.NewPinProvider(cfg.Cache.Pins)})
	}
	return sources
}

// Close releases the state store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the state store for read-only callers such as status views.
func (e *Engine) Store() *cachestate.Store { return e.store }

// Resolver exposes the classified mappings.
func (e *Engine) Resolver() *pathmap.Resolver { return e.resolver }

// fastUsage reports capacity of the filesystem holding the first cacheable
// fast prefix. All cacheable mappings are expected to share one fast tier.
func (e *Engine) fastUsage() (fileutil.Usage, error) {
	prefixes := e.resolver.CacheableFastPrefixes()
	return e.statfs(existingDir(prefixes[0]))
}

func existingDir(path string) string {
	for {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func (e *Engine) newRun(ctx context.Context, kind run.Kind) *run.Context {
	return run.New(ctx, kind, run.Options{
		Workers:  e.cfg.Transfer.Workers,
		Progress: e.progress,
		Logger:   e.logger,
		Now:      e.now(),
	})
}
