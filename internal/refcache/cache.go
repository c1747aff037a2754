// Package refcache memoizes ref resolutions with separate lifetimes for
// found and not-found results, and coalesces concurrent lookups of the
// same key.
package refcache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultPositiveTTL = 60 * time.Second
	DefaultNegativeTTL = 10 * time.Second
)

// ResolveFunc produces the value for a key. A zero value means "not found"
// and is cached with the negative TTL.
type ResolveFunc[V comparable] func() (V, error)

type entry[V comparable] struct {
	value     V
	expiresAt time.Time
}

// Cache is safe for concurrent use. Errors are never cached.
type Cache[V comparable] struct {
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
	group   singleflight.Group
}

// Option configures a Cache
type Option[V comparable] func(*Cache[V])

// WithTTLs overrides the positive and negative lifetimes
func WithTTLs[V comparable](positive, negative time.Duration) Option[V] {
	return func(c *Cache[V]) {
		if positive > 0 {
			c.positiveTTL = positive
		}
		if negative > 0 {
			c.negativeTTL = negative
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock[V comparable](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// New creates an empty cache
func New[V comparable](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		positiveTTL: DefaultPositiveTTL,
		negativeTTL: DefaultNegativeTTL,
		now:         time.Now,
		entries:     make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrResolve returns the cached value for key while it is fresh.
// Otherwise it runs fn, sharing a single call among all concurrent callers
// for the same key. On error any stale entry is dropped and every waiter
// receives the error.
func (c *Cache[V]) GetOrResolve(key string, fn ResolveFunc[V]) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a caller that just finished may have stored a fresh entry
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fn()
		if err != nil {
			c.Invalidate(key)
			return v, err
		}

		c.store(key, v)
		return v, nil
	})

	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Peek returns a fresh cached value without resolving
func (c *Cache[V]) Peek(key string) (V, bool) {
	return c.lookup(key)
}

// Invalidate drops key
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet evicted
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) store(key string, v V) {
	var zero V
	ttl := c.positiveTTL
	if v == zero {
		ttl = c.negativeTTL
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
