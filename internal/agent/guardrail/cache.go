package guardrail

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// decisionCache is a TTL cache that drops the oldest tenth when full.
// Concurrent inserts of the same key are harmless since decisions are idempotent.
type decisionCache struct {
	lru *expirable.LRU[string, Decision]
	max int
}

func newDecisionCache(size int, ttl time.Duration) *decisionCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &decisionCache{
		lru: expirable.NewLRU[string, Decision](size, nil, ttl),
		max: size,
	}
}

// Get does not refresh recency, so eviction follows insertion order.
func (c *decisionCache) Get(key string) (Decision, bool) {
	return c.lru.Peek(key)
}

func (c *decisionCache) Add(key string, d Decision) {
	if c.lru.Len() >= c.max {
		drop := c.max / 10
		if drop < 1 {
			drop = 1
		}
		for i := 0; i < drop; i++ {
			if _, _, ok := c.lru.RemoveOldest(); !ok {
				break
			}
		}
	}
	c.lru.Add(key, d)
}

func (c *decisionCache) Len() int {
	return c.lru.Len()
}
