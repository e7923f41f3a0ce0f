package config

const (
	defaultStateDir             = "~/.local/share/tiercache"
	defaultLogDir               = "~/.local/share/tiercache/logs"
	defaultBackupSuffix         = ".tiercached"
	defaultMinFree              = "50GB"
	defaultOnDeckEpisodes       = 5
	defaultRetentionHours       = 12
	defaultEvictionMode         = EvictionPriority
	defaultEvictionThreshold    = 0.90
	defaultEvictionHysteresis   = 0.10
	defaultEvictionMinPriority  = 600
	defaultMinRetentionHours    = 24
	defaultEvictionCritical     = 0.98
	defaultTransferWorkers      = 2
	defaultProgressInterval     = "8MiB"
	defaultPlexURL              = "http://127.0.0.1:32400"
	defaultPlexRequestTimeout   = 15
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

var defaultSubtitleExtensions = []string{".srt", ".ass", ".ssa", ".sub", ".idx", ".vtt", ".smi", ".sup"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Cache: Cache{
			MinFree:            defaultMinFree,
			BackupSuffix:       defaultBackupSuffix,
			SubtitleExtensions: append([]string(nil), defaultSubtitleExtensions...),
			OnDeckEpisodes:     defaultOnDeckEpisodes,
			CleanupEmptyDirs:   true,
			RetentionHours:     defaultRetentionHours,
		},
		Eviction: Eviction{
			Mode:              defaultEvictionMode,
			Threshold:         defaultEvictionThreshold,
			Hysteresis:        defaultEvictionHysteresis,
			MinPriority:       defaultEvictionMinPriority,
			MinRetentionHours: defaultMinRetentionHours,
			Critical:          defaultEvictionCritical,
		},
		Transfer: Transfer{
			Workers:          defaultTransferWorkers,
			ProgressInterval: defaultProgressInterval,
		},
		Plex: Plex{
			URL:            defaultPlexURL,
			RequestTimeout: defaultPlexRequestTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunSummary:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
