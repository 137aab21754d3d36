package offers

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

// ResultCache remembers tool results for this process only. It only saves
// work; the offer record on the job is what prevents duplicate side effects.
type ResultCache struct {
	lru *expirable.LRU[string, ToolResult]
}

func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{lru: expirable.NewLRU[string, ToolResult](size, nil, ttl)}
}

func cacheKey(shop, callJobID, toolCallID string) string {
	return shop + "|" + callJobID + "|" + toolCallID
}

func (c *ResultCache) Get(shop, callJobID, toolCallID string) (ToolResult, bool) {
	return c.lru.Get(cacheKey(shop, callJobID, toolCallID))
}

func (c *ResultCache) Add(shop, callJobID, toolCallID string, res ToolResult) {
	c.lru.Add(cacheKey(shop, callJobID, toolCallID), res)
}

func (c *ResultCache) Len() int { return c.lru.Len() }
