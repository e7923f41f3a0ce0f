package preflight

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"tiercache/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// Failed reports whether any result failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Skipped {
			return true
		}
	}
	return false
}

// RunAll executes every applicable check for cfg. client may be nil.
func RunAll(ctx context.Context, cfg *config.Config, client HTTPDoer) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}
	if cfg.Paths.ExclusionFile != "" {
		results = append(results, CheckDirectoryAccess("Exclusion list", filepath.Dir(cfg.Paths.ExclusionFile)))
	}
	for _, m := range cfg.CacheableMappings() {
		results = append(results,
			CheckDirectoryAccess("Fast tier ["+m.Name+"]", m.FastPrefix),
			CheckDirectoryAccess("Slow tier ["+m.Name+"]", m.SlowPrefix),
		)
	}

	if strings.TrimSpace(cfg.Plex.URL) == "" {
		results = append(results, Result{Name: "Plex", Skipped: true, Detail: "disabled (no url)"})
	} else {
		if client == nil {
			timeout := time.Duration(cfg.Plex.RequestTimeout) * time.Second
			client = &http.Client{Timeout: timeout}
		}
		results = append(results, CheckPlex(ctx, client, cfg.Plex.URL, cfg.Plex.Token))
	}

	if cfg.Notifications.NtfyTopic == "" {
		results = append(results, Result{Name: "Notifications", Skipped: true, Detail: "disabled (no ntfy_topic)"})
	} else {
		results = append(results, Result{Name: "Notifications", Passed: true, Detail: cfg.Notifications.NtfyTopic})
	}
	return results
}
