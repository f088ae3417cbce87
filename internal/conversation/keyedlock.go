package conversation

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLock serializes work per key. It backs the single-writer discipline:
// all state transitions for one channel run under its lock, so transitions
// stay ordered even when the platform delivers concurrently or out of order.
// Entries are reference counted and freed when the last holder releases.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewKeyedLock creates an empty lock table.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: map[string]*lockEntry{}}
}

// Lock acquires the lock for key and returns the release function.
func (k *KeyedLock) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len reports the number of keys currently tracked.
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
