package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"tiercache/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, log, and sink locations.
type Paths struct {
	StateDir            string `toml:"state_dir"`
	LogDir              string `toml:"log_dir"`
	ExclusionFile       string `toml:"exclusion_file"`
	ManualExclusionFile string `toml:"manual_exclusion_file"`
	MetricsTextfile     string `toml:"metrics_textfile"`
}

// Filesystem kind hints accepted by PathMapping.FSKind.
const (
	FSKindAuto     = "auto"
	FSKindPlain    = "plain"
	FSKindPooled   = "pooled"
	FSKindPoolOnly = "pool-only"
)

// PathMapping translates a provider-reported path prefix into concrete tier
// locations.
type PathMapping struct {
	Name           string `toml:"name"`
	ProviderPrefix string `toml:"provider_prefix"`
	FastPrefix     string `toml:"fast_prefix"`
	SlowPrefix     string `toml:"slow_prefix"`
	HostPrefix     string `toml:"host_prefix"`
	// ArrayPrefix overrides the array-direct view used when the slow prefix
	// sits on a pooled mount. Empty derives it from the mount point.
	ArrayPrefix string `toml:"array_prefix"`
	Cacheable   *bool  `toml:"cacheable"`
	FSKind      string `toml:"fs_kind"`
}

// IsCacheable reports whether items under this mapping may be moved to the
// fast tier. Mappings default to cacheable.
func (m PathMapping) IsCacheable() bool {
	return m.Cacheable == nil || *m.Cacheable
}

// Cache contains placement settings.
type Cache struct {
	MinFree            string   `toml:"min_free"`
	MaxAgeDays         int      `toml:"max_age_days"`
	BackupSuffix       string   `toml:"backup_suffix"`
	SubtitleExtensions []string `toml:"subtitle_extensions"`
	OnDeckEpisodes     int      `toml:"on_deck_episodes"`
	Pins               []string `toml:"pins"`
	CleanupEmptyDirs   bool     `toml:"cleanup_empty_dirs"`
	// RetentionHours keeps a newly cached item on the fast tier at least this
	// long before it is restored for no longer being wanted.
	RetentionHours int `toml:"retention_hours"`
	// WatchlistRetentionDays stops caching watchlist entries added longer ago.
	WatchlistRetentionDays float64 `toml:"watchlist_retention_days"`

	MinFreeBytes uint64 `toml:"-"`
}

// Eviction modes.
const (
	EvictionPriority = "priority"
	EvictionFIFO     = "fifo"
	EvictionDisabled = "disabled"
)

// Eviction contains the capacity policy for the fast tier.
type Eviction struct {
	Mode              string  `toml:"mode"`
	Threshold         float64 `toml:"threshold"`
	Hysteresis        float64 `toml:"hysteresis"`
	MinPriority       int     `toml:"min_priority"`
	MinRetentionHours int     `toml:"min_retention_hours"`
	// Critical is the usage fraction at which retention-age protection and the
	// priority floor relax.
	Critical   float64 `toml:"critical"`
	CacheLimit string  `toml:"cache_limit"`

	CacheLimitBytes uint64 `toml:"-"`
}

// Transfer contains executor settings.
type Transfer struct {
	Workers          int    `toml:"workers"`
	ProgressInterval string `toml:"progress_interval"`

	ProgressIntervalBytes uint64 `toml:"-"`
}

// User is a monitored provider account with its skip rules.
type User struct {
	Name          string `toml:"name"`
	Token         string `toml:"token"`
	SkipOnDeck    bool   `toml:"skip_on_deck"`
	SkipWatchlist bool   `toml:"skip_watchlist"`
}

// Plex contains media server connection settings.
type Plex struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	Users          []User `toml:"users"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunSummary     bool   `toml:"run_summary"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tiercache.
//
// Configuration sections by subsystem:
//   - Paths: state database, logs, exclusion list, metrics textfile
//   - Mappings: provider path prefixes and their fast/slow tier locations
//   - Cache: free-space floor, content age filter, backup suffix, pins
//   - Eviction: capacity thresholds and selection policy
//   - Transfer: worker pool size and progress cadence
//   - Plex: provider feed and session guard
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Mappings      []PathMapping `toml:"mappings"`
	Cache         Cache         `toml:"cache"`
	Eviction      Eviction      `toml:"eviction"`
	Transfer      Transfer      `toml:"transfer"`
	Plex          Plex          `toml:"plex"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tiercache/config.toml")
}

// Load locates, parses, and validates a configuration file. Unknown keys are
// rejected. The returned config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", "unknown configuration keys:\n"+strict.String(), nil)
			}
			return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tiercache.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. A failure here
// means the state store location is unwritable, which is fatal for a run.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "config", "ensure directories", dir, err)
		}
	}
	return nil
}

// StatePath returns the location of the state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LockPath returns the location of the cross-process run lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tiercache.lock")
}

// CacheableMappings returns the mappings whose items may be cached.
func (c *Config) CacheableMappings() []PathMapping {
	out := make([]PathMapping, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		if m.IsCacheable() {
			out = append(out, m)
		}
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
