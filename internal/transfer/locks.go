package transfer

import "sync"

type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

func (l *lockTable) tryAcquire(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[identity]; ok {
		return false
	}
	l.held[identity] = struct{}{}
	return true
}

func (l *lockTable) release(identity string) {
	l.mu.Lock()
	delete(l.held, identity)
	l.mu.Unlock()
}
