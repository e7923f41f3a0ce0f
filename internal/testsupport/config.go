package testsupport

import (
	"path/filepath"
	"testing"

	"tiercache/internal/config"
)

// ProviderPrefix is the logical prefix of the mapping NewConfig creates.
const ProviderPrefix = "/data"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It has one plain cacheable mapping from ProviderPrefix to <base>/fast and
// <base>/slow, no free-space floor, no cache retention, and byte fields
// already resolved.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ExclusionFile = filepath.Join(base, "state", "exclusions.txt")
	cfgVal.Mappings = []config.PathMapping{{
		Name:           "media",
		ProviderPrefix: ProviderPrefix,
		FastPrefix:     filepath.Join(base, "fast"),
		SlowPrefix:     filepath.Join(base, "slow"),
		HostPrefix:     filepath.Join(base, "slow"),
		FSKind:         config.FSKindPlain,
	}}
	cfgVal.Cache.MinFree = "0"
	cfgVal.Cache.MinFreeBytes = 0
	cfgVal.Cache.RetentionHours = 0
	cfgVal.Transfer.ProgressIntervalBytes = 1 << 20
	cfgVal.Plex.URL = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPins sets manual pins.
func WithPins(pins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Pins = append([]string(nil), pins...)
	}
}

// WithMinFree sets the free-space floor in bytes.
func WithMinFree(bytes uint64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.MinFreeBytes = bytes
	}
}

// WithRetention sets the minimum cache retention in hours.
func WithRetention(hours int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.RetentionHours = hours
	}
}

// WithWorkers overrides the executor pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.Workers = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// FastRoot returns the fast prefix of the first mapping.
func FastRoot(cfg *config.Config) string {
	return cfg.Mappings[0].FastPrefix
}

// SlowRoot returns the slow prefix of the first mapping.
func SlowRoot(cfg *config.Config) string {
	return cfg.Mappings[0].SlowPrefix
}

// WithWatchlistRetention sets how many days a watchlist entry stays eligible.
func WithWatchlistRetention(days float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.WatchlistRetentionDays = days
	}
}

// WithEvictionMode sets the eviction mode, e.g. config.EvictionDisabled.
func WithEvictionMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Eviction.Mode = mode
	}
}
