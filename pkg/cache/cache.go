package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value     interface{}
	expiresAt time.Time
}

func (it *item) expired() bool {
	return time.Now().After(it.expiresAt)
}

// CacheWithFallback is a thread-safe in-memory TTL cache that falls back to
// a loader function on miss. Expired entries are swept by a background
// goroutine; Stop shuts it down.
type CacheWithFallback struct {
	mu         sync.RWMutex
	items      map[string]*item
	defaultTTL time.Duration
	stopSweep  chan struct{}
}

// NewCacheWithFallback creates a cache with the given default TTL.
func NewCacheWithFallback(defaultTTL time.Duration) *CacheWithFallback {
	c := &CacheWithFallback{
		items:      make(map[string]*item),
		defaultTTL: defaultTTL,
		stopSweep:  make(chan struct{}),
	}
	go c.sweep(defaultTTL / 2)
	return c
}

// GetOrSet returns the cached value for key, or calls fallback and caches its
// result for ttl (the default TTL when ttl <= 0). A fallback error is
// returned as-is and nothing is cached.
func (c *CacheWithFallback) GetOrSet(ctx context.Context, key string, fallback func(context.Context) (interface{}, error), ttl time.Duration) (interface{}, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if ok && !it.expired() {
		return it.value, nil
	}

	value, err := fallback(ctx)
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = &item{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate removes entries whose key starts with pattern; an empty pattern
// removes expired entries only.
func (c *CacheWithFallback) Invalidate(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, it := range c.items {
		if pattern == "" {
			if it.expired() {
				delete(c.items, key)
			}
			continue
		}
		if len(key) >= len(pattern) && key[:len(pattern)] == pattern {
			delete(c.items, key)
		}
	}
}

// Stop stops the background sweep goroutine.
func (c *CacheWithFallback) Stop() {
	close(c.stopSweep)
}

func (c *CacheWithFallback) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Invalidate("")
		case <-c.stopSweep:
			return
		}
	}
}
