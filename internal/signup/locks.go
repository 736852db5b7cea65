package signup

import "sync"

// lockTable hands out one mutex per mission id, created lazily on first
// use. Locks are never removed: a mission id is a small key and a deleted
// mission's lock going stale is harmless, while removing it under a racing
// waiter is not.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks the mission's mutex and returns the unlock func.
func (t *lockTable) acquire(missionID int64) func() {
	t.mu.Lock()
	l, ok := t.locks[missionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[missionID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
