// Package cache holds snapshots that have been harvested but not yet delivered.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/speculare-cloud/speculare-client/internal/agent"
)

// Cache is an ordered buffer of snapshots awaiting delivery.
// Insertion order is chronological and is preserved by every operation.
// The scheduler is the only writer; the mutex lets stats readers on other
// goroutines observe a consistent view.
type Cache struct {
	mu      sync.Mutex
	entries []agent.Snapshot

	totalAppended atomic.Int64
	totalCleared  atomic.Int64
	totalDrained  atomic.Int64
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Depth         int
	TotalAppended int64
	TotalCleared  int64
	TotalDrained  int64
}

// New creates a cache with room for capacity snapshots before it has to grow.
func New(capacity int) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{
		entries: make([]agent.Snapshot, 0, capacity),
	}
}

// Append adds a snapshot at the end of the cache.
func (c *Cache) Append(s agent.Snapshot) {
	c.mu.Lock()
	c.entries = append(c.entries, s)
	c.mu.Unlock()
	c.totalAppended.Add(1)
}

// Clear removes every entry. Clearing an empty cache is a no-op.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return
	}
	c.totalCleared.Add(int64(len(c.entries)))
	// Keep the backing array; the cache refills at the same rate.
	clear(c.entries)
	c.entries = c.entries[:0]
}

// DrainOldest removes the n oldest entries and returns how many were removed.
func (c *Cache) DrainOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || len(c.entries) == 0 {
		return 0
	}
	if n > len(c.entries) {
		n = len(c.entries)
	}

	remaining := copy(c.entries, c.entries[n:])
	clear(c.entries[remaining:])
	c.entries = c.entries[:remaining]
	c.totalDrained.Add(int64(n))
	return n
}

// Items returns a copy of the entries in insertion order.
func (c *Cache) Items() []agent.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]agent.Snapshot, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	depth := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Depth:         depth,
		TotalAppended: c.totalAppended.Load(),
		TotalCleared:  c.totalCleared.Load(),
		TotalDrained:  c.totalDrained.Load(),
	}
}
