package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"tiercache/internal/fileutil"
	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/progress"
	"tiercache/internal/run"
)

const suffix = ".tiercached"

type tiers struct {
	fast string
	slow string
}

func newTiers(t *testing.T) tiers {
	t.Helper()
	base := t.TempDir()
	tr := tiers{fast: filepath.Join(base, "fast"), slow: filepath.Join(base, "slow")}
	for _, dir := range []string{tr.fast, tr.slow} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return tr
}

func (tr tiers) item(t *testing.T, rel, content string, subs ...string) media.Item {
	t.Helper()
	item := media.Item{
		Identity:    "/media/" + rel,
		LogicalPath: "/media/" + rel,
		FastPath:    filepath.Join(tr.fast, rel),
		SlowPath:    filepath.Join(tr.slow, rel),
		Size:        int64(len(content)),
	}
	writeFile(t, item.SlowPath, content)
	base := strings.TrimSuffix(rel, filepath.Ext(rel))
	for _, ext := range subs {
		sub := media.Subtitle{
			FastPath: filepath.Join(tr.fast, base+ext),
			SlowPath: filepath.Join(tr.slow, base+ext),
			Size:     int64(len("subtitle" + ext)),
		}
		writeFile(t, sub.SlowPath, "subtitle"+ext)
		item.Subtitles = append(item.Subtitles, sub)
	}
	return item
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newRun(t *testing.T, workers int) *run.Context {
	t.Helper()
	return run.New(context.Background(), run.KindCache, run.Options{Workers: workers, Logger: logging.NewNop()})
}

type stubGuard struct {
	active bool
	err    error
	calls  int
	mu     sync.Mutex
}

func (g *stubGuard) Active(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.active, g.err
}

func TestCacheInRestoreRoundTrip(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "tv/Show/Season 01/S01E01.mkv", "episode bytes", ".en.srt", ".ass")
	exec := NewExecutor(Options{BackupSuffix: suffix, Guard: &stubGuard{}, CleanupRoots: []string{tr.fast}})

	report := exec.Execute(newRun(t, 2), Plan{CacheIn(item, "on deck")})
	if report.Succeeded != 1 {
		t.Fatalf("cache-in report = %+v", report.Results)
	}
	res := report.Results[0]
	if res.Bytes != item.TotalSize() {
		t.Fatalf("Bytes = %d, want %d", res.Bytes, item.TotalSize())
	}
	for _, p := range pairsOf(item, item.SlowPath, item.FastPath) {
		if !exists(p.fast) {
			t.Fatalf("fast copy missing: %s", p.fast)
		}
		if exists(p.slow) {
			t.Fatalf("slow original should be renamed: %s", p.slow)
		}
		if !exists(p.slow + suffix) {
			t.Fatalf("backup missing: %s", p.slow+suffix)
		}
		if exists(p.fast + fileutil.PartialSuffix) {
			t.Fatalf("partial file left: %s", p.fast)
		}
	}

	report = exec.Execute(newRun(t, 2), Plan{Restore(res.Op.Item, "consumed")})
	if report.Succeeded != 1 {
		t.Fatalf("restore report = %+v", report.Results)
	}
	if report.Results[0].Bytes != 0 {
		t.Fatalf("identical restore should rename, not copy (bytes=%d)", report.Results[0].Bytes)
	}
	if got := readFile(t, item.SlowPath); got != "episode bytes" {
		t.Fatalf("restored content = %q", got)
	}
	for _, p := range pairsOf(item, item.SlowPath, item.FastPath) {
		if exists(p.fast) || exists(p.slow+suffix) || !exists(p.slow) {
			t.Fatalf("pair not restored cleanly: %+v", p)
		}
	}
	if exists(filepath.Join(tr.fast, "tv")) {
		t.Fatal("empty fast-tier directories should be removed")
	}
	if !exists(tr.fast) {
		t.Fatal("fast root must remain")
	}
}

func TestRestoreWritesBackModifiedFastCopy(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "movie.mkv", "original")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	if r := exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")}); r.Succeeded != 1 {
		t.Fatalf("cache-in failed: %+v", r.Results)
	}
	writeFile(t, item.FastPath, "modified on fast tier")

	report := exec.Execute(newRun(t, 1), Plan{EvictOut(item, "capacity")})
	if report.Succeeded != 1 {
		t.Fatalf("evict report = %+v", report.Results)
	}
	if got := readFile(t, item.SlowPath); got != "modified on fast tier" {
		t.Fatalf("slow content = %q", got)
	}
	if exists(item.SlowPath+suffix) || exists(item.FastPath) {
		t.Fatal("backup and fast copy should be gone")
	}
}

func TestRestoreSkipsActivePlayback(t *testing.T) {
	tests := []struct {
		name  string
		guard *stubGuard
	}{
		{"playing", &stubGuard{active: true}},
		{"guard unreachable", &stubGuard{err: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTiers(t)
			item := tr.item(t, "a.mkv", "content")
			exec := NewExecutor(Options{BackupSuffix: suffix, Guard: tt.guard})
			exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")})

			report := exec.Execute(newRun(t, 1), Plan{Restore(item, "consumed")})
			res := report.Results[0]
			if res.Status != StatusSkipped || res.Reason != ReasonActivePlayback || res.Failure != FailureNone {
				t.Fatalf("result = %+v", res)
			}
			if report.Failed != 0 || report.Critical != nil {
				t.Fatal("active playback must not count as failure")
			}
			if !exists(item.FastPath) || !exists(item.SlowPath+suffix) {
				t.Fatal("files must be untouched")
			}
			if tt.guard.calls != 1 {
				t.Fatalf("guard calls = %d", tt.guard.calls)
			}
		})
	}
}

func TestRestoreStaleMetadata(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content")
	writeFile(t, item.FastPath, "content")
	exec := NewExecutor(Options{BackupSuffix: suffix})

	res := exec.Execute(newRun(t, 1), Plan{Restore(item, "")}).Results[0]
	if res.Status != StatusSkipped || res.Reason != ReasonStaleMetadata {
		t.Fatalf("result = %+v", res)
	}
	if !exists(item.FastPath) {
		t.Fatal("fast copy must be kept when backup is absent")
	}
}

func TestRestoreFastMissingRenamesBackup(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")})
	if err := os.Remove(item.FastPath); err != nil {
		t.Fatal(err)
	}

	res := exec.Execute(newRun(t, 1), Plan{Restore(item, "")}).Results[0]
	if res.Status != StatusSucceeded {
		t.Fatalf("result = %+v", res)
	}
	if readFile(t, item.SlowPath) != "content" || exists(item.SlowPath+suffix) {
		t.Fatal("backup should be renamed back")
	}
}

func TestCacheInSkipsMissingSourceAndRecognisesCachedPair(t *testing.T) {
	tr := newTiers(t)
	missing := media.Item{Identity: "/m", FastPath: filepath.Join(tr.fast, "m.mkv"), SlowPath: filepath.Join(tr.slow, "m.mkv")}
	cached := tr.item(t, "c.mkv", "cached")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.Execute(newRun(t, 1), Plan{CacheIn(cached, "")})

	report := exec.Execute(newRun(t, 2), Plan{CacheIn(missing, ""), CacheIn(cached, "")})
	if r := report.Results[0]; r.Status != StatusSkipped || r.Reason != ReasonSourceMissing {
		t.Fatalf("missing source result = %+v", r)
	}
	if r := report.Results[1]; r.Status != StatusSucceeded || r.Reason != ReasonAlreadyCached {
		t.Fatalf("cached pair result = %+v", r)
	}
}

func TestCacheInDropsMissingSubtitles(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content", ".srt")
	item.Subtitles = append(item.Subtitles, media.Subtitle{
		FastPath: filepath.Join(tr.fast, "a.ass"),
		SlowPath: filepath.Join(tr.slow, "a.ass"),
	})
	exec := NewExecutor(Options{BackupSuffix: suffix})
	res := exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")}).Results[0]
	if res.Status != StatusSucceeded {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Op.Item.Subtitles) != 1 {
		t.Fatalf("subtitles kept = %+v", res.Op.Item.Subtitles)
	}
}

func TestSubtitleFailureRollsBackWholeItem(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content", ".srt")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.copy = func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error) {
		if strings.HasSuffix(src, ".srt") {
			return 0, errors.New("subtitle read error")
		}
		return fileutil.CopyFileVerified(ctx, src, dst, opts)
	}

	report := exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")})
	res := report.Results[0]
	if res.Status != StatusFailed || res.Failure != FailureItem {
		t.Fatalf("result = %+v", res)
	}
	if report.Critical != nil {
		t.Fatal("item failure must not be critical")
	}
	if exists(item.FastPath) {
		t.Fatal("main fast copy should be rolled back")
	}
	if !exists(item.SlowPath) || exists(item.SlowPath+suffix) {
		t.Fatal("slow original must be untouched")
	}
}

func TestCriticalFailureStopsDispatch(t *testing.T) {
	tr := newTiers(t)
	a := tr.item(t, "a.mkv", "aaa")
	b := tr.item(t, "b.mkv", "bbb")
	c := tr.item(t, "c.mkv", "ccc")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.copy = func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error) {
		if src == a.SlowPath {
			return 0, &os.PathError{Op: "write", Path: dst, Err: unix.ENOSPC}
		}
		return fileutil.CopyFileVerified(ctx, src, dst, opts)
	}

	report := exec.Execute(newRun(t, 1), Plan{CacheIn(a, ""), CacheIn(b, ""), Restore(c, "")})
	if !errors.Is(report.Critical, unix.ENOSPC) {
		t.Fatalf("Critical = %v", report.Critical)
	}
	if r := report.Results[0]; r.Status != StatusFailed || r.Failure != FailureCritical {
		t.Fatalf("first result = %+v", r)
	}
	for _, r := range report.Results[1:] {
		if r.Status != StatusSkipped || r.Reason != ReasonAborted {
			t.Fatalf("undispatched result = %+v", r)
		}
	}
	if exists(b.FastPath) {
		t.Fatal("no cache-in may run after a critical failure")
	}
	if report.Failed != 1 || report.Skipped != 2 {
		t.Fatalf("counts: failed=%d skipped=%d", report.Failed, report.Skipped)
	}
}

func TestCriticalFailureAbortsInFlightCopy(t *testing.T) {
	tr := newTiers(t)
	slow := tr.item(t, "slow.mkv", "long copy")
	bad := tr.item(t, "bad.mkv", "fails")
	started := make(chan struct{})
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.copy = func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error) {
		if src == slow.SlowPath {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		<-started
		return 0, &os.PathError{Op: "open", Path: dst, Err: unix.EROFS}
	}

	report := exec.Execute(newRun(t, 2), Plan{CacheIn(slow, ""), CacheIn(bad, "")})
	if r := report.Results[0]; r.Status != StatusSkipped || r.Reason != ReasonAborted {
		t.Fatalf("in-flight copy result = %+v", r)
	}
	if r := report.Results[1]; r.Failure != FailureCritical {
		t.Fatalf("failing result = %+v", r)
	}
	if !exists(slow.SlowPath) || exists(slow.SlowPath+suffix) {
		t.Fatal("aborted item must keep its original")
	}
}

func TestRestoreDrainsWhileCacheInFailsCritically(t *testing.T) {
	tr := newTiers(t)
	back := tr.item(t, "movies/Back.mkv", "original bytes")
	if err := os.Rename(back.SlowPath, back.SlowPath+suffix); err != nil {
		t.Fatal(err)
	}
	writeFile(t, back.FastPath, "edited on the fast tier")
	in := tr.item(t, "movies/In.mkv", "incoming")

	restoreCopying := make(chan struct{})
	cacheInFailed := make(chan struct{})
	exec := NewExecutor(Options{BackupSuffix: suffix})
	exec.copy = func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error) {
		switch src {
		case back.FastPath:
			close(restoreCopying)
			<-cacheInFailed
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return fileutil.CopyFileVerified(ctx, src, dst, opts)
		case in.SlowPath:
			<-restoreCopying
			defer close(cacheInFailed)
			return 0, &os.PathError{Op: "write", Path: dst, Err: unix.ENOSPC}
		}
		return 0, errors.New("unexpected copy of " + src)
	}

	report := exec.Execute(newRun(t, 2), Plan{Restore(back, "evicted"), CacheIn(in, "on deck")})
	if !errors.Is(report.Critical, unix.ENOSPC) {
		t.Fatalf("Critical = %v", report.Critical)
	}
	if r := report.Results[0]; r.Status != StatusSucceeded {
		t.Fatalf("restore result = %+v", r)
	}
	if r := report.Results[1]; r.Status != StatusFailed || r.Failure != FailureCritical {
		t.Fatalf("cache-in result = %+v", r)
	}
	if exists(back.SlowPath + suffix) {
		t.Fatal("restore must remove the backup")
	}
	if got := readFile(t, back.SlowPath); got != "edited on the fast tier" {
		t.Fatalf("slow original = %q", got)
	}
	if exists(back.FastPath) {
		t.Fatal("restore must remove the fast copy")
	}
	if !exists(in.SlowPath) || exists(in.FastPath) || exists(in.SlowPath+suffix) {
		t.Fatal("failed cache-in must leave its original untouched")
	}
}

type collectingSink struct {
	mu      sync.Mutex
	updates []progress.Status
}

func (c *collectingSink) Update(s progress.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, s)
}

func (c *collectingSink) Summary(progress.Summary) {}

func TestProgressSpansEveryFileOfAnOp(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "movies/Heat.mkv", "0123456789", ".en.srt")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec.now = func() time.Time {
		now := clock
		clock = clock.Add(5 * time.Second)
		return now
	}
	sink := &collectingSink{}
	rc := run.New(context.Background(), run.KindCache, run.Options{Progress: sink, Logger: logging.NewNop()})

	if report := exec.Execute(rc, Plan{CacheIn(item, "on deck")}); report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(sink.updates) != 2 {
		t.Fatalf("updates = %+v, want one per file", sink.updates)
	}
	first, last := sink.updates[0], sink.updates[1]
	if first.Total != 25 || last.Total != 25 {
		t.Fatalf("totals = %d, %d, want the op size 25 on both", first.Total, last.Total)
	}
	if first.Done != 10 || first.Rate != 2 || first.ETA != 8*time.Second {
		t.Fatalf("first update = %+v", first)
	}
	if last.Done != 25 || last.Percent() != 100 || last.ETA != 0 {
		t.Fatalf("last update = %+v", last)
	}
	if first.RunID != rc.ID || first.Op != string(OpCacheIn) || first.Item != item.Identity {
		t.Fatalf("first update labels = %+v", first)
	}
}

func TestConcurrentAccessSkipped(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content")
	exec := NewExecutor(Options{BackupSuffix: suffix})
	if !exec.locks.tryAcquire(item.Identity) {
		t.Fatal("setup lock")
	}

	res := exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")}).Results[0]
	var busy *ConcurrentAccessError
	if res.Status != StatusSkipped || !errors.As(res.Err, &busy) || busy.Identity != item.Identity {
		t.Fatalf("result = %+v", res)
	}
	exec.locks.release(item.Identity)
	if exec.Execute(newRun(t, 1), Plan{CacheIn(item, "")}).Succeeded != 1 {
		t.Fatal("op should succeed once lock is free")
	}
}

func TestCancellationBetweenOps(t *testing.T) {
	tr := newTiers(t)
	item := tr.item(t, "a.mkv", "content")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := run.New(ctx, run.KindCache, run.Options{Logger: logging.NewNop()})

	report := NewExecutor(Options{BackupSuffix: suffix}).Execute(rc, Plan{CacheIn(item, "")})
	if r := report.Results[0]; r.Status != StatusSkipped || r.Reason != ReasonCancelled {
		t.Fatalf("result = %+v", r)
	}
	if exists(item.FastPath) {
		t.Fatal("cancelled run must not start ops")
	}
}

func TestRecreateBackup(t *testing.T) {
	tr := newTiers(t)
	item := media.Item{
		Identity: "/media/a.mkv",
		FastPath: filepath.Join(tr.fast, "a.mkv"),
		SlowPath: filepath.Join(tr.slow, "a.mkv"),
		Size:     7,
	}
	writeFile(t, item.FastPath, "content")

	full := NewExecutor(Options{BackupSuffix: suffix, Statfs: func(string) (fileutil.Usage, error) {
		return fileutil.Usage{Total: 100, Free: 3}, nil
	}})
	if r := full.Execute(newRun(t, 1), Plan{RecreateBackup(item, "")}).Results[0]; r.Reason != ReasonNoArraySpace {
		t.Fatalf("full array result = %+v", r)
	}

	exec := NewExecutor(Options{BackupSuffix: suffix, Statfs: func(string) (fileutil.Usage, error) {
		return fileutil.Usage{Total: 100, Free: 100}, nil
	}})
	res := exec.Execute(newRun(t, 1), Plan{RecreateBackup(item, "")}).Results[0]
	if res.Status != StatusSucceeded {
		t.Fatalf("result = %+v", res)
	}
	if readFile(t, item.SlowPath+suffix) != "content" || !exists(item.FastPath) {
		t.Fatal("backup should be recreated and fast copy kept")
	}
}

func TestIsCritical(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"disk full", &os.PathError{Op: "write", Err: unix.ENOSPC}, true},
		{"permission", &os.PathError{Op: "open", Err: unix.EACCES}, true},
		{"stale handle", &os.LinkError{Op: "rename", Err: unix.ESTALE}, true},
		{"not found", &os.PathError{Op: "open", Err: unix.ENOENT}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCritical(tt.err); got != tt.want {
				t.Fatalf("IsCritical(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
