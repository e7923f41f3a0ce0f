package run

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"tiercache/internal/services"
)

func TestNewPopulatesContext(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rc := New(context.Background(), KindCache, Options{Now: now})
	if rc.ID == "" {
		t.Fatal("expected run ID")
	}
	if !rc.Now.Equal(now) {
		t.Fatalf("Now = %v", rc.Now)
	}
	if rc.Workers != 1 {
		t.Fatalf("Workers = %d, want 1 when unset", rc.Workers)
	}
	if rc.Progress == nil || rc.Logger == nil {
		t.Fatal("expected default sink and logger")
	}
	if id, ok := services.RunIDFromContext(rc.Ctx); !ok || id != rc.ID {
		t.Fatalf("run ID on context = %q, %v", id, ok)
	}
	if kind, _ := services.RunKindFromContext(rc.Ctx); kind != "cache" {
		t.Fatalf("run kind on context = %q", kind)
	}
	other := New(context.Background(), KindCache, Options{})
	if other.ID == rc.ID {
		t.Fatal("run IDs must be unique")
	}
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rc := New(ctx, KindAudit, Options{})
	if rc.Cancelled() {
		t.Fatal("fresh run should not be cancelled")
	}
	cancel()
	if !rc.Cancelled() {
		t.Fatal("expected cancelled")
	}
}

func TestKindMutating(t *testing.T) {
	if !KindCache.Mutating() || !KindAuditFix.Mutating() || !KindRestoreAll.Mutating() {
		t.Fatal("unexpected Mutating classification")
	}
	if KindAudit.Mutating() || KindDryRun.Mutating() {
		t.Fatal("unexpected Mutating classification")
	}
}

func TestLockerRejectsOverlapInProcess(t *testing.T) {
	locker := NewLocker(filepath.Join(t.TempDir(), "state", "tiercache.lock"))
	release, err := locker.Acquire(KindCache)
	if err != nil {
		t.Fatal(err)
	}

	_, err = locker.Acquire(KindAuditFix)
	var busy *AlreadyInProgressError
	if !errors.As(err, &busy) {
		t.Fatalf("expected AlreadyInProgressError, got %v", err)
	}
	if busy.CrossProcess || busy.Kind != KindAuditFix {
		t.Fatalf("unexpected error detail: %+v", busy)
	}

	release()
	release()
	again, err := locker.Acquire(KindAuditFix)
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	again()
}

func TestLockerRejectsOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.lock")
	other := flock.New(path)
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("setup lock: %v %v", ok, err)
	}
	defer other.Unlock()

	_, err = NewLocker(path).Acquire(KindCache)
	var busy *AlreadyInProgressError
	if !errors.As(err, &busy) || !busy.CrossProcess {
		t.Fatalf("expected cross-process rejection, got %v", err)
	}
}

func TestLockerHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiercache.lock")
	locker := NewLocker(path)
	if locker.Held() {
		t.Fatal("missing lock file reported as held")
	}
	release, err := locker.Acquire(KindCache)
	if err != nil {
		t.Fatal(err)
	}
	if !locker.Held() {
		t.Fatal("held lock not reported")
	}
	release()
	if locker.Held() {
		t.Fatal("released lock reported as held")
	}

	other := flock.New(path)
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatalf("setup lock: %v %v", ok, err)
	}
	defer other.Unlock()
	if !NewLocker(path).Held() {
		t.Fatal("lock held by another handle not reported")
	}
}
