package pipeline

import (
	"container/list"
	"fmt"
	"sync"
)

// DefaultCacheCapacity is the number of hazard results kept by the result cache
const DefaultCacheCapacity = 50

// CacheStats contains result cache counters
type CacheStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry struct {
	key    Fingerprint
	result *HazardResult
}

// ResultCache is a bounded LRU map from frame fingerprint to hazard result.
// All operations are O(1) and serialized by a single mutex.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Fingerprint]*list.Element
	order    *list.List // front = most recently used
	stats    CacheStats
}

// NewResultCache creates a cache holding at most capacity results
func NewResultCache(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ResultCache{
		capacity: capacity,
		entries:  make(map[Fingerprint]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached result for key and marks it most recently used
func (c *ResultCache) Get(key Fingerprint) (*HazardResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*cacheEntry).result, true
}

// Put stores result under key. Overwriting marks the entry most recently used;
// inserting a new key at capacity evicts the least recently used entry first.
func (c *ResultCache) Put(key Fingerprint, result *HazardResult) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).result = result
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		c.stats.Evictions++
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, result: result})

	if c.order.Len() != len(c.entries) || c.order.Len() > c.capacity {
		panic(fmt.Sprintf("result cache corrupt: list=%d map=%d capacity=%d",
			c.order.Len(), len(c.entries), c.capacity))
	}
}

// Contains reports whether key is cached without touching recency
func (c *ResultCache) Contains(key Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached results
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a copy of the cache counters
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = c.order.Len()
	stats.Capacity = c.capacity
	return stats
}
