package entityevent

import (
	"sync"
	"sync/atomic"
)

type lockEntry struct {
	sync.Mutex
	refs int
}

// Lock serialises work per key, e.g. the resumption of one event id. Entries only live while
// someone holds or waits for them.
type Lock struct {
	mutex   sync.Mutex
	entries map[string]*lockEntry
	waiting atomic.Int64
}

func NewLock() *Lock {
	return &Lock{
		entries: map[string]*lockEntry{},
	}
}

func (l *Lock) acquire(key string) *lockEntry {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, found := l.entries[key]
	if !found {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *Lock) release(key string, entry *lockEntry) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// Lock blocks until key is available. Every Lock must be paired with an Unlock.
func (l *Lock) Lock(key string) {
	entry := l.acquire(key)

	l.waiting.Add(1)
	entry.Lock()
	l.waiting.Add(-1)
}

// TryLock acquires key only when nobody holds it.
func (l *Lock) TryLock(key string) bool {
	entry := l.acquire(key)
	if !entry.TryLock() {
		l.release(key, entry)
		return false
	}
	return true
}

func (l *Lock) Unlock(key string) {
	l.mutex.Lock()
	entry, found := l.entries[key]
	l.mutex.Unlock()
	if !found {
		return
	}

	entry.Unlock()
	l.release(key, entry)
}

// WaitingCount is the approximate number of callers blocked in Lock.
func (l *Lock) WaitingCount() int {
	return int(l.waiting.Load())
}
