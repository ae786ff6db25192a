// Package cache provides the in-process caches used by the store.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a size and byte bounded LRU cache with TTL support.
type LRUCache struct {
	capacity   int
	maxBytes   int
	defaultTTL time.Duration
	mu         sync.Mutex

	bytes int
	cache map[string]*entry
	order *list.List // front is most recently used
}

type entry struct {
	key       string
	value     []byte
	meta      string
	expiresAt time.Time
	element   *list.Element
}

// NewLRUCache creates a new LRU cache holding at most capacity entries.
func NewLRUCache(capacity int, defaultTTL time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	return &LRUCache{
		capacity:   capacity,
		maxBytes:   64 << 20,
		defaultTTL: defaultTTL,
		cache:      make(map[string]*entry),
		order:      list.New(),
	}
}

// SetMaxBytes bounds the total size of cached values.
func (c *LRUCache) SetMaxBytes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = n
	c.evictOverBudget()
}

// Get retrieves a value and its metadata from the cache.
func (c *LRUCache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return nil, "", false
	}

	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		return nil, "", false
	}

	c.order.MoveToFront(e.element)
	return e.value, e.meta, true
}

// Set stores a value. Values larger than the byte budget are not cached.
func (c *LRUCache) Set(key string, value []byte, meta string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(value) > c.maxBytes {
		return
	}

	if e, ok := c.cache[key]; ok {
		c.bytes += len(value) - len(e.value)
		e.value = value
		e.meta = meta
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		c.evictOverBudget()
		return
	}

	for len(c.cache) >= c.capacity {
		c.evictOldest()
	}

	e := &entry{
		key:       key,
		value:     value,
		meta:      meta,
		expiresAt: time.Now().Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
	c.bytes += len(value)
	c.evictOverBudget()
}

// Remove deletes a single key.
func (c *LRUCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return false
	}
	c.removeEntry(e)
	return true
}

// Size returns the number of entries in the cache.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Bytes returns the total size of cached values.
func (c *LRUCache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Clear removes all entries from the cache.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*entry)
	c.order.Init()
	c.bytes = 0
}

// Must be called with lock held.
func (c *LRUCache) evictOverBudget() {
	for c.bytes > c.maxBytes && c.order.Len() > 0 {
		c.evictOldest()
	}
}

// Must be called with lock held.
func (c *LRUCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeEntry(oldest.Value.(*entry))
}

// Must be called with lock held.
func (c *LRUCache) removeEntry(e *entry) {
	c.order.Remove(e.element)
	delete(c.cache, e.key)
	c.bytes -= len(e.value)
}
