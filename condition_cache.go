package abac

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Default sizing for the compiled-condition cache
const (
	DefaultConditionCacheCounters = 1 << 14
	DefaultConditionCacheMaxCost  = 1 << 12
	DefaultConditionCacheBuffer   = 64
)

// ConditionCache memoizes compiled condition trees keyed by the checksum of
// the raw tree, so an edited policy never reuses a stale compilation.
// A nil *ConditionCache compiles on every call.
type ConditionCache struct {
	cache *ristretto.Cache
}

func NewConditionCache(numCounters, maxCost, bufferItems int64) (*ConditionCache, error) {
	if numCounters <= 0 {
		numCounters = DefaultConditionCacheCounters
	}
	if maxCost <= 0 {
		maxCost = DefaultConditionCacheMaxCost
	}
	if bufferItems <= 0 {
		bufferItems = DefaultConditionCacheBuffer
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create condition cache: %w", err)
	}
	return &ConditionCache{cache: c}, nil
}

// Compile returns the compiled form of cond, from cache when possible
func (c *ConditionCache) Compile(cond Condition) *CompiledCondition {
	if c == nil {
		return cond.Compile()
	}
	key := cond.Checksum()
	if v, ok := c.cache.Get(key); ok {
		if compiled, ok := v.(*CompiledCondition); ok {
			return compiled
		}
	}
	compiled := cond.Compile()
	c.cache.Set(key, compiled, 1)
	return compiled
}

// Wait blocks until buffered writes are visible to Get
func (c *ConditionCache) Wait() {
	if c != nil {
		c.cache.Wait()
	}
}

func (c *ConditionCache) Clear() {
	if c != nil {
		c.cache.Clear()
	}
}

func (c *ConditionCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
