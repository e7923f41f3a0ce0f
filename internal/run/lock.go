package run

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// AlreadyInProgressError is returned when another mutating run holds the lock.
type AlreadyInProgressError struct {
	Kind     Kind
	LockPath string
	// CrossProcess is true when another process holds the lock file.
	CrossProcess bool
}

func (e *AlreadyInProgressError) Error() string {
	if e.CrossProcess {
		return fmt.Sprintf("%s run rejected: another tiercache process holds %s", e.Kind, e.LockPath)
	}
	return fmt.Sprintf("%s run rejected: another run is already in progress", e.Kind)
}

// Locker serializes mutating runs within this process and across processes
// sharing the same state directory.
type Locker struct {
	path string

	mu   sync.Mutex
	held bool
	lock *flock.Flock
}

// NewLocker returns a locker backed by the lock file at path.
func NewLocker(path string) *Locker {
	return &Locker{path: path}
}

// Acquire takes the run lock for kind. The returned release func is safe to
// call more than once.
func (l *Locker) Acquire(kind Kind) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil, &AlreadyInProgressError{Kind: kind, LockPath: l.path}
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, &AlreadyInProgressError{Kind: kind, LockPath: l.path, CrossProcess: true}
	}
	l.held = true
	l.lock = fl

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			_ = l.lock.Unlock()
			l.lock = nil
			l.held = false
		})
	}, nil
}

// Path returns the lock file path.
func (l *Locker) Path() string { return l.path }

// Held reports whether a mutating run currently holds the lock, in this
// process or another one. It briefly takes and releases the file lock.
func (l *Locker) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return true
	}
	if _, err := os.Stat(l.path); err != nil {
		return false
	}
	fl := flock.New(l.path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		return err == nil
	}
	_ = fl.Unlock()
	return false
}
