package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the byte-level cache contract shared by the memory and Redis backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CacheEntry is a stored payload and the time it was written
type CacheEntry struct {
	Value    []byte
	StoredAt time.Time
}

// Cache provides thread-safe in-process caching with TTL support.
// Entries are only returned while now - StoredAt < ttl.
type Cache struct {
	data     map[string]*CacheEntry
	mutex    sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache
type Option func(*Cache)

// WithNow overrides the time source
func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a new Cache. When cleanupInterval > 0 a background goroutine
// purges stale entries; otherwise they are only ignored on read.
func New(ttl, cleanupInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		data:   make(map[string]*CacheEntry),
		ttl:    ttl,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupInterval > 0 {
		go c.cleanup(cleanupInterval)
	}

	return c
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) fresh(entry *CacheEntry, now time.Time) bool {
	return now.Sub(entry.StoredAt) < c.ttl
}

// Get retrieves a value if it exists and hasn't expired
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.data[key]
	if !exists || !c.fresh(entry, c.now()) {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a value stamped with the current time
func (c *Cache) Set(_ context.Context, key string, value []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &CacheEntry{
		Value:    value,
		StoredAt: c.now(),
	}
	return nil
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, key)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*CacheEntry)
}

// Size returns the number of stored entries, stale ones included
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.data)
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RemoveExpired()
		case <-c.stopCh:
			return
		}
	}
}

// RemoveExpired purges every stale entry and returns how many were dropped
func (c *Cache) RemoveExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.data {
		if !c.fresh(entry, now) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Stop stops the cleanup goroutine
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
