package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMappings(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEviction(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validatePlex(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateMappings() error {
	if len(c.Mappings) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tiercache/config.toml"
		}
		return fmt.Errorf("at least one [[mappings]] entry is required. Edit %s (create with 'tiercache config init')", defaultPath)
	}
	seen := make(map[string]string, len(c.Mappings))
	cacheable := 0
	for _, m := range c.Mappings {
		if m.ProviderPrefix == "" || !strings.HasPrefix(m.ProviderPrefix, "/") {
			return fmt.Errorf("mappings[%s].provider_prefix must be an absolute path", m.Name)
		}
		if other, ok := seen[m.ProviderPrefix]; ok {
			return fmt.Errorf("mappings[%s].provider_prefix duplicates mappings[%s]", m.Name, other)
		}
		seen[m.ProviderPrefix] = m.Name
		if !m.IsCacheable() {
			continue
		}
		cacheable++
		if m.FastPrefix == "" || !filepath.IsAbs(m.FastPrefix) {
			return fmt.Errorf("mappings[%s].fast_prefix must be an absolute path", m.Name)
		}
		if m.SlowPrefix == "" || !filepath.IsAbs(m.SlowPrefix) {
			return fmt.Errorf("mappings[%s].slow_prefix must be an absolute path", m.Name)
		}
		if m.FastPrefix == m.SlowPrefix {
			return fmt.Errorf("mappings[%s].fast_prefix and slow_prefix must differ", m.Name)
		}
		if m.ArrayPrefix != "" && !filepath.IsAbs(m.ArrayPrefix) {
			return fmt.Errorf("mappings[%s].array_prefix must be an absolute path", m.Name)
		}
		switch m.FSKind {
		case FSKindAuto, FSKindPlain, FSKindPooled, FSKindPoolOnly:
		default:
			return fmt.Errorf("mappings[%s].fs_kind must be one of auto, plain, pooled, pool-only (got %q)", m.Name, m.FSKind)
		}
	}
	if cacheable == 0 {
		return errors.New("at least one mapping must be cacheable")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.BackupSuffix == "" || c.Cache.BackupSuffix == "." {
		return errors.New("cache.backup_suffix must be set")
	}
	if strings.ContainsAny(c.Cache.BackupSuffix, `/\`) {
		return errors.New("cache.backup_suffix must not contain path separators")
	}
	if c.Cache.MaxAgeDays < 0 {
		return errors.New("cache.max_age_days must be zero (disabled) or positive")
	}
	if c.Cache.OnDeckEpisodes < 0 {
		return errors.New("cache.on_deck_episodes must not be negative")
	}
	if c.Cache.RetentionHours < 0 {
		return errors.New("cache.retention_hours must not be negative")
	}
	if c.Cache.WatchlistRetentionDays < 0 {
		return errors.New("cache.watchlist_retention_days must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateEviction() error {
	switch c.Eviction.Mode {
	case EvictionPriority, EvictionFIFO, EvictionDisabled:
	default:
		return fmt.Errorf("eviction.mode must be one of priority, fifo, disabled (got %q)", c.Eviction.Mode)
	}
	if c.Eviction.Mode == EvictionDisabled {
		return nil
	}
	if c.Eviction.Threshold <= 0 || c.Eviction.Threshold > 1 {
		return errors.New("eviction.threshold must be within (0, 1]")
	}
	if c.Eviction.Hysteresis < 0 || c.Eviction.Hysteresis >= c.Eviction.Threshold {
		return errors.New("eviction.hysteresis must be within [0, threshold)")
	}
	if c.Eviction.Critical < c.Eviction.Threshold {
		return errors.New("eviction.critical must be greater than or equal to eviction.threshold")
	}
	if c.Eviction.MinPriority < 0 || c.Eviction.MinPriority > 1000 {
		return errors.New("eviction.min_priority must be between 0 and 1000")
	}
	if c.Eviction.MinRetentionHours < 0 {
		return errors.New("eviction.min_retention_hours must not be negative")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Transfer.Workers <= 0 || c.Transfer.Workers > 64 {
		return errors.New("transfer.workers must be between 1 and 64")
	}
	if c.Transfer.ProgressIntervalBytes == 0 {
		return errors.New("transfer.progress_interval must be positive")
	}
	return nil
}

func (c *Config) validatePlex() error {
	if c.Plex.RequestTimeout <= 0 {
		return errors.New("plex.request_timeout must be positive")
	}
	names := make(map[string]struct{}, len(c.Plex.Users))
	for i, user := range c.Plex.Users {
		if user.Name == "" {
			return fmt.Errorf("plex.users[%d].name must be set", i)
		}
		if _, ok := names[user.Name]; ok {
			return fmt.Errorf("plex.users[%d].name %q is duplicated", i, user.Name)
		}
		names[user.Name] = struct{}{}
	}
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	return nil
}
