package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeMappings(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	if err := c.normalizeEviction(); err != nil {
		return err
	}
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	c.normalizePlex()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []*string{
		&c.Paths.StateDir,
		&c.Paths.LogDir,
		&c.Paths.ExclusionFile,
		&c.Paths.ManualExclusionFile,
		&c.Paths.MetricsTextfile,
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

func (c *Config) normalizeMappings() error {
	for i := range c.Mappings {
		m := &c.Mappings[i]
		m.Name = strings.TrimSpace(m.Name)
		// Provider prefixes may come from another host; keep them slash-separated.
		if prefix := strings.TrimSpace(m.ProviderPrefix); prefix != "" {
			m.ProviderPrefix = path.Clean(prefix)
		}
		for _, field := range []*string{&m.FastPrefix, &m.SlowPrefix, &m.HostPrefix, &m.ArrayPrefix} {
			trimmed := strings.TrimSpace(*field)
			if trimmed == "" {
				*field = ""
				continue
			}
			*field = filepath.Clean(trimmed)
		}
		if m.Cacheable == nil {
			cacheable := true
			m.Cacheable = &cacheable
		}
		m.FSKind = strings.ToLower(strings.TrimSpace(m.FSKind))
		if m.FSKind == "" {
			m.FSKind = FSKindAuto
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("mapping-%d", i+1)
		}
	}
	return nil
}

func (c *Config) normalizeCache() error {
	minFree, err := parseSize("cache.min_free", c.Cache.MinFree)
	if err != nil {
		return err
	}
	c.Cache.MinFreeBytes = minFree

	c.Cache.BackupSuffix = strings.TrimSpace(c.Cache.BackupSuffix)
	if c.Cache.BackupSuffix != "" && !strings.HasPrefix(c.Cache.BackupSuffix, ".") {
		c.Cache.BackupSuffix = "." + c.Cache.BackupSuffix
	}

	exts := make([]string, 0, len(c.Cache.SubtitleExtensions))
	seen := make(map[string]struct{}, len(c.Cache.SubtitleExtensions))
	for _, ext := range c.Cache.SubtitleExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	c.Cache.SubtitleExtensions = exts

	pins := make([]string, 0, len(c.Cache.Pins))
	for _, pin := range c.Cache.Pins {
		if pin = strings.TrimSpace(pin); pin != "" {
			pins = append(pins, pin)
		}
	}
	c.Cache.Pins = pins
	return nil
}

func (c *Config) normalizeEviction() error {
	c.Eviction.Mode = strings.ToLower(strings.TrimSpace(c.Eviction.Mode))
	if c.Eviction.Mode == "" {
		c.Eviction.Mode = EvictionDisabled
	}
	limit, err := parseSize("eviction.cache_limit", c.Eviction.CacheLimit)
	if err != nil {
		return err
	}
	c.Eviction.CacheLimitBytes = limit
	return nil
}

func (c *Config) normalizeTransfer() error {
	interval, err := parseSize("transfer.progress_interval", c.Transfer.ProgressInterval)
	if err != nil {
		return err
	}
	c.Transfer.ProgressIntervalBytes = interval
	return nil
}

func (c *Config) normalizePlex() {
	c.Plex.URL = strings.TrimRight(strings.TrimSpace(c.Plex.URL), "/")
	c.Plex.Token = strings.TrimSpace(c.Plex.Token)
	if value, ok := os.LookupEnv("PLEX_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Plex.Token = strings.TrimSpace(value)
	}
	for i := range c.Plex.Users {
		c.Plex.Users[i].Name = strings.TrimSpace(c.Plex.Users[i].Name)
		c.Plex.Users[i].Token = strings.TrimSpace(c.Plex.Users[i].Token)
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func parseSize(field, value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}
	parsed, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", field, value, err)
	}
	return parsed, nil
}
