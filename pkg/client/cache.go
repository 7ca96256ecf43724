package client

import (
	"sync"
	"time"

	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

type cacheEntry struct {
	proof     *proof.Inclusion
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// proofCache keeps inclusion proofs per checksum. A cached proof stays valid
// against the root at its own tree size; the TTL only bounds how stale the
// tree size it was taken at may be.
type proofCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newProofCache(ttl time.Duration) *proofCache {
	return &proofCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *proofCache) get(key string) (*proof.Inclusion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e.proof, true
}

// set stores p and drops any expired entries it finds on the way.
func (c *proofCache) set(key string, p *proof.Inclusion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = &cacheEntry{proof: p, expiresAt: now.Add(c.ttl)}
}
