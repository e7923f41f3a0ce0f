package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tiercache/internal/engine"
	"tiercache/internal/fileutil"
	"tiercache/internal/logging"
)

type cliTestEnv struct {
	configPath string
	fast       string
	slow       string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("PLEX_TOKEN", "")

	base := t.TempDir()
	env := &cliTestEnv{
		configPath: filepath.Join(base, "config.toml"),
		fast:       filepath.Join(base, "fast"),
		slow:       filepath.Join(base, "slow"),
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
exclusion_file = %q

[[mappings]]
name = "media"
provider_prefix = "/data"
fast_prefix = %q
slow_prefix = %q
fs_kind = "plain"

[cache]
min_free = "0"
pins = ["/data/movies/Pinned.mkv"]

[plex]
url = ""
`, filepath.Join(base, "state"), filepath.Join(base, "logs"), filepath.Join(base, "state", "exclude.txt"), env.fast, env.slow)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	ctx := newCommandContext(nil)
	ctx.logger = logging.NewNop()
	ctx.engineOptions = []engine.Option{
		engine.WithStatfs(func(string) (fileutil.Usage, error) {
			return fileutil.Usage{Total: 1 << 40, Free: 1 << 39}, nil
		}),
	}
	cmd := newRootCommandWithContext(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunStatusAndAudit(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(filepath.Join(env.slow, "movies"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.slow, "movies", "Pinned.mkv"), []byte("pinned"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "run", "--verbose")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 succeeded") || !strings.Contains(out, "cache_in") {
		t.Fatalf("unexpected run output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(env.fast, "movies", "Pinned.mkv")); err != nil {
		t.Fatalf("pinned item not cached: %v", err)
	}

	out, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Tracked items", "/data/movies/Pinned.mkv", "pinned", "idle"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, env, "audit")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out, "[OK] none") {
		t.Fatalf("unexpected audit output:\n%s", out)
	}
}

func TestAuditFixReportsUntracked(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(filepath.Join(env.fast, "tv"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.fast, "tv", "Stray.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "audit", "--fix")
	if err != nil {
		t.Fatalf("audit --fix: %v", err)
	}
	for _, want := range []string{"untracked_cache_file", "1 need manual review", "Remaining"} {
		if !strings.Contains(out, want) {
			t.Fatalf("audit output missing %q:\n%s", want, out)
		}
	}
}

func TestRunDryRunMovesNothing(t *testing.T) {
	env := setupCLITestEnv(t)
	pinned := filepath.Join(env.slow, "movies", "Pinned.mkv")
	if err := os.MkdirAll(filepath.Dir(pinned), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pinned, []byte("pinned"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "run", "--dry-run", "--verbose")
	if err != nil {
		t.Fatalf("run --dry-run: %v\n%s", err, out)
	}
	for _, want := range []string{"Dry run", "would cache 1 (6 B)", "restore 0", "/data/movies/Pinned.mkv"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dry run output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(env.fast, "movies", "Pinned.mkv")); !os.IsNotExist(err) {
		t.Fatalf("dry run cached the item: %v", err)
	}
}

func TestRestoreAll(t *testing.T) {
	env := setupCLITestEnv(t)
	pinned := filepath.Join(env.slow, "movies", "Pinned.mkv")
	if err := os.MkdirAll(filepath.Dir(pinned), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pinned, []byte("pinned"), 0o644); err != nil {
		t.Fatal(err)
	}
	if out, err := runCLI(t, env, "run"); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	if _, err := runCLI(t, env, "restore-all"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("restore-all without confirmation should refuse, got %v", err)
	}

	out, err := runCLI(t, env, "restore-all", "--dry-run")
	if err != nil {
		t.Fatalf("restore-all --dry-run: %v", err)
	}
	if !strings.Contains(out, "would restore 1") || !strings.Contains(out, "/data/movies/Pinned.mkv") {
		t.Fatalf("unexpected preview:\n%s", out)
	}

	out, err = runCLI(t, env, "restore-all", "--yes")
	if err != nil {
		t.Fatalf("restore-all --yes: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 succeeded") {
		t.Fatalf("unexpected restore output:\n%s", out)
	}
	if data, err := os.ReadFile(pinned); err != nil || string(data) != "pinned" {
		t.Fatalf("original not restored: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(env.fast, "movies", "Pinned.mkv")); !os.IsNotExist(err) {
		t.Fatalf("fast copy left behind: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	again := newRootCommand()
	again.SetOut(&out)
	again.SetArgs([]string{"config", "init", "--path", target})
	if err := again.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing-file error, got %v", err)
	}
}

func TestConfigValidateRejectsMissingMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[cache]\nmin_free = \"0\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "validate"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestUsageKind(t *testing.T) {
	tests := []struct {
		fraction float64
		want     statusKind
	}{
		{0.5, statusOK},
		{0.9, statusWarn},
		{0.99, statusError},
	}
	for _, tt := range tests {
		if got := usageKind(tt.fraction, 0.9, 0.98); got != tt.want {
			t.Fatalf("usageKind(%v) = %v, want %v", tt.fraction, got, tt.want)
		}
	}
}
