// Package cache provides the bounded in-process event cache keyed by id.
//
// Capacity is fixed at construction; when full, the oldest inserted entry is
// evicted (FIFO). The cache is an availability optimization only: the
// journal remains ground truth and misses fall back to a journal scan.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/devtrail/memindex/internal/event"
)

// Cache is a thread-safe fixed-capacity id-to-event map with FIFO eviction.
type Cache struct {
	mu       sync.RWMutex
	byID     map[string]*event.UnifiedEvent
	order    []string // insertion ring
	head     int64    // next write position in the ring
	count    int64
	capacity int64

	hitCount   atomic.Int64
	missCount  atomic.Int64
	evictCount atomic.Int64
}

// New creates a cache with the given capacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cache{
		byID:     make(map[string]*event.UnifiedEvent, capacity),
		order:    make([]string, capacity),
		capacity: int64(capacity),
	}
}

// Put inserts an event, evicting the oldest entry when full. Re-inserting an
// existing id replaces the value without consuming a slot.
func (c *Cache) Put(e *event.UnifiedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[e.ID]; exists {
		c.byID[e.ID] = e
		return
	}

	if c.count >= c.capacity {
		idx := c.head % c.capacity
		oldest := c.order[idx]
		delete(c.byID, oldest)
		c.count--
		c.evictCount.Add(1)
	}

	idx := c.head % c.capacity
	c.order[idx] = e.ID
	c.head++
	c.count++
	c.byID[e.ID] = e
}

// Get returns the cached event for an id.
func (c *Cache) Get(id string) (*event.UnifiedEvent, bool) {
	c.mu.RLock()
	e, ok := c.byID[id]
	c.mu.RUnlock()

	if ok {
		c.hitCount.Add(1)
	} else {
		c.missCount.Add(1)
	}
	return e, ok
}

// Len returns the current number of cached events.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.count)
}

// Cap returns the fixed capacity.
func (c *Cache) Cap() int {
	return int(c.capacity)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]*event.UnifiedEvent, c.capacity)
	c.head = 0
	c.count = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	count := c.count
	c.mu.RUnlock()

	return Stats{
		Capacity:  int(c.capacity),
		Count:     int(count),
		Hits:      c.hitCount.Load(),
		Misses:    c.missCount.Load(),
		Evictions: c.evictCount.Load(),
	}
}

// Stats holds cache statistics.
type Stats struct {
	Capacity  int
	Count     int
	Hits      int64
	Misses    int64
	Evictions int64
}
