package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tiercache/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func plexServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identity" || r.Header.Get("X-Plex-Token") != "good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckPlex(t *testing.T) {
	srv := plexServer(t)
	tests := []struct {
		name   string
		url    string
		token  string
		passed bool
	}{
		{"ok", srv.URL, "good-token", true},
		{"bad token", srv.URL, "bad-token", false},
		{"missing url", "", "good-token", false},
		{"missing token", srv.URL, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckPlex(context.Background(), srv.Client(), tt.url, tt.token)
			if result.Passed != tt.passed {
				t.Fatalf("passed = %v (%s), want %v", result.Passed, result.Detail, tt.passed)
			}
		})
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_SkipsDisabledServices(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	for _, dir := range []string{cfg.Paths.StateDir, testsupport.FastRoot(cfg), testsupport.SlowRoot(cfg)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	results := RunAll(context.Background(), cfg, nil)
	// state dir, exclusion dir, fast and slow tier, plex, notifications
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %+v", results)
	}
	if Failed(results) {
		t.Fatalf("unexpected failure: %+v", results)
	}
	if !results[4].Skipped || !results[5].Skipped {
		t.Fatalf("plex and notifications should be skipped: %+v", results[4:])
	}
}

func TestRunAll_ReportsMissingTierAndPlex(t *testing.T) {
	srv := plexServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Plex.URL = srv.URL
	cfg.Plex.Token = "good-token"
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg, srv.Client())
	if !Failed(results) {
		t.Fatal("missing tier directories should fail")
	}
	found := false
	for _, r := range results {
		if r.Name == "Plex" {
			found = true
			if !r.Passed {
				t.Errorf("Plex check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected Plex check in results")
	}
}
