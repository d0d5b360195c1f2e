package lock

import (
	"context"
	"sync"
)

// KeyedMutex is an in-process call.Locker with one mutex per key. Entries are
// dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	// a buffered channel of size one acts as a mutex that can be abandoned on ctx.Done
	token   chan struct{}
	waiters int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*keyedEntry{}}
}

func (keyedMutex *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	keyedMutex.mu.Lock()

	entry, ok := keyedMutex.entries[key]
	if !ok {
		entry = &keyedEntry{token: make(chan struct{}, 1)}
		keyedMutex.entries[key] = entry
	}

	entry.waiters++
	keyedMutex.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
	case <-ctx.Done():
		keyedMutex.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			keyedMutex.release(key, entry, true)
		})
	}, nil
}

func (keyedMutex *KeyedMutex) release(key string, entry *keyedEntry, held bool) {
	keyedMutex.mu.Lock()
	defer keyedMutex.mu.Unlock()

	if held {
		<-entry.token
	}

	entry.waiters--
	if entry.waiters == 0 {
		delete(keyedMutex.entries, key)
	}
}

// Len returns the number of keys currently tracked.
func (keyedMutex *KeyedMutex) Len() int {
	keyedMutex.mu.Lock()
	defer keyedMutex.mu.Unlock()

	return len(keyedMutex.entries)
}
