package gate

import "sync"

// LockTable is an in-process Locker: the set of currently held keys.
// A key absent from the set is unlocked. Safe for concurrent use.
type LockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]struct{})}
}

// TryLock acquires key if it is free.
func (l *LockTable) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Unlock frees key. Unlocking a free key is a no-op.
func (l *LockTable) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

// Held reports whether key is currently locked.
func (l *LockTable) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// Len returns the number of held keys.
func (l *LockTable) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
