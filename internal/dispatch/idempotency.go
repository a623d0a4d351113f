package dispatch

import (
	"sync"
	"time"
)

type idemEntry struct {
	rideID string
	expiry time.Time
}

// idemCache maps Idempotency-Key headers to the ride they created.
type idemCache struct {
	mu        sync.Mutex
	byKey     map[string]idemEntry
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// Expired entries are swept at most this often, relative to ttl.
const idemSweepDivisor = 4

func newIdemCache(ttl time.Duration) *idemCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &idemCache{
		byKey: make(map[string]idemEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *idemCache) remember(key, rideID string) {
	if key == "" || rideID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl/idemSweepDivisor {
		for k, e := range c.byKey {
			if now.After(e.expiry) {
				delete(c.byKey, k)
			}
		}
		c.lastSweep = now
	}
	c.byKey[key] = idemEntry{rideID: rideID, expiry: now.Add(c.ttl)}
}

func (c *idemCache) lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byKey[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiry) {
		delete(c.byKey, key)
		return "", false
	}
	return entry.rideID, true
}
