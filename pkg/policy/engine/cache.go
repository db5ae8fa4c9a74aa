package engine

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"fedlearn-hq/arbiter/pkg/policy"
)

// decisionCache caches decisions keyed by (policy type, context hash,
// store version). Including the version in the key means a policy mutation
// can never serve a stale decision; the TTL additionally bounds reuse for
// identical inputs.
type decisionCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
}

type cacheKey struct {
	policyType  string
	contextHash uint64
	version     uint64
}

type cacheEntry struct {
	decision policy.Decision
	expires  time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
	}
}

func (c *decisionCache) get(key cacheKey) (*policy.Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	d := entry.decision
	return &d, true
}

func (c *decisionCache) put(key cacheKey, d *policy.Decision) {
	c.mu.Lock()
	// Opportunistic sweep keeps the map from growing without bound.
	if len(c.entries) > 4096 {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{decision: *d, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// hashContext produces a stable hash of the evaluation context.
// json.Marshal sorts map keys, so identical contexts hash identically.
func hashContext(evalCtx policy.Context) (uint64, error) {
	data, err := json.Marshal(evalCtx)
	if err != nil {
		return 0, fmt.Errorf("context not hashable: %w", err)
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64(), nil
}
