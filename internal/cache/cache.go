package cache

import "sync"

// Cache is a generic thread-safe LRU cache with a soft limit.
// When an insertion pushes it past the limit, the oldest quarter of the
// entries is dropped in one step.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*cacheEntry[K, V]
	lru       *List[K]
	softLimit int
}

type cacheEntry[K comparable, V any] struct {
	value V
	elem  *Element[K]
}

// New creates a cache with the given soft limit. 0 means unlimited.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*cacheEntry[K, V]),
		lru:       NewList[K](),
		softLimit: softLimit,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Set stores a value, trimming the cache if it grew past the soft limit.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// GetOrCreate returns the cached value or stores the result of create.
// create is called under lock and is never run twice for the same key.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.lru.MoveToFront(e.elem)
		return e.value, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.setLocked(key, v)
	return v, nil
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.lru.MoveToFront(e.elem)
		return
	}
	c.entries[key] = &cacheEntry[K, V]{value: value, elem: c.lru.PushFront(key)}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		target := max(c.softLimit*3/4, 1)
		for len(c.entries) > target {
			k, ok := c.lru.RemoveOldest()
			if !ok {
				break
			}
			delete(c.entries, k)
		}
	}
}

// Delete removes an entry. Returns true if it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.Remove(e.elem)
	delete(c.entries, key)
	return true
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*cacheEntry[K, V])
	c.lru.Clear()
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the total capacity.
	Capacity int
	// Hits is the number of cache hits (ShardedCache only).
	Hits uint64
	// Misses is the number of cache misses (ShardedCache only).
	Misses uint64
	// HitRate is the cache hit rate 0.0 to 1.0 (ShardedCache only).
	HitRate float64
	// Evictions is the number of evicted entries (ShardedCache only).
	Evictions uint64
}
