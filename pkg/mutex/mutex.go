package mutex

import (
	"context"
	"sync"
)

// RequestMutex hands out one lock per key so concurrent requests for the
// same resource are collapsed into a single upstream call.
type RequestMutex struct {
	mapMutex sync.Mutex
	entries  map[string]*keyEntry
}

// keyEntry is a one-slot semaphore plus the number of goroutines holding or
// waiting on it. The entry is dropped once nobody references it.
type keyEntry struct {
	sem  chan struct{}
	refs int
}

// New creates an empty RequestMutex.
func New() *RequestMutex {
	return &RequestMutex{entries: make(map[string]*keyEntry)}
}

func (rm *RequestMutex) acquire(key string) *keyEntry {
	rm.mapMutex.Lock()
	defer rm.mapMutex.Unlock()

	entry, ok := rm.entries[key]
	if !ok {
		entry = &keyEntry{sem: make(chan struct{}, 1)}
		rm.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (rm *RequestMutex) release(key string, entry *keyEntry) {
	rm.mapMutex.Lock()
	defer rm.mapMutex.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(rm.entries, key)
	}
}

// Lock blocks until the lock for key is held or ctx ends. The returned
// function releases the lock and must be called exactly once.
func (rm *RequestMutex) Lock(ctx context.Context, key string) (func(), error) {
	entry := rm.acquire(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		rm.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			rm.release(key, entry)
		})
	}, nil
}

// Size returns the number of keys currently locked or awaited.
func (rm *RequestMutex) Size() int {
	rm.mapMutex.Lock()
	defer rm.mapMutex.Unlock()
	return len(rm.entries)
}
