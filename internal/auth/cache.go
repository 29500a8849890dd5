package auth

import (
	"sync"
	"time"

	"coordinator/pkg/clock"
)

// cacheEntry is one cached positive validation result.
type cacheEntry struct {
	principal Principal
	expiresAt time.Time
}

// positiveCache holds short-lived (<=5 min) positive validate() results.
// Negative results are never cached, so a revoked-then-retried token
// re-hits validateUncached immediately.
type positiveCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newPositiveCache(c clock.Clock, ttl time.Duration) *positiveCache {
	if ttl <= 0 || ttl > 5*time.Minute {
		ttl = 5 * time.Minute
	}
	return &positiveCache{clock: c, ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *positiveCache) get(token string) (Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[token]
	if !ok {
		return Principal{}, false
	}
	if c.clock.Now().After(e.expiresAt) {
		delete(c.entries, token)
		return Principal{}, false
	}
	return e.principal, true
}

func (c *positiveCache) put(token string, p Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = cacheEntry{principal: p, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *positiveCache) evict(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
}
