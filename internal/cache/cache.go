// Package cache provides a bounded recency buffer of past verdicts.
//
// The cache holds the most recent N verdicts for the dashboard and the
// recent-verdicts API. It is written only by the dispatcher's success path
// and read by everyone else.
package cache

import (
	"sync"

	"github.com/ethersentinel/sentinel/internal/risk"
)

// DefaultCapacity is the verdict cache size when none is configured.
const DefaultCapacity = 100

// VerdictCache is a fixed-capacity ring of verdicts, most recent first.
// Insertion beyond capacity evicts the oldest entry.
type VerdictCache struct {
	mu       sync.RWMutex
	ring     []*risk.Verdict
	capacity int
	next     int // ring index of the next write
	size     int
}

// New creates a cache with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *VerdictCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &VerdictCache{
		ring:     make([]*risk.Verdict, capacity),
		capacity: capacity,
	}
}

// Record appends a verdict, evicting the oldest entry when full. O(1).
func (c *VerdictCache) Record(v *risk.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring[c.next] = v
	c.next = (c.next + 1) % c.capacity
	if c.size < c.capacity {
		c.size++
	}
}

// Recent returns up to n verdicts, most recent first.
func (c *VerdictCache) Recent(n int) []*risk.Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > c.size {
		n = c.size
	}
	if n <= 0 {
		return nil
	}

	result := make([]*risk.Verdict, 0, n)
	for i := 1; i <= n; i++ {
		idx := (c.next - i + c.capacity) % c.capacity
		result = append(result, c.ring[idx])
	}
	return result
}

// CountAbove returns how many cached verdicts have a score >= threshold.
func (c *VerdictCache) CountAbove(threshold float64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for i := 0; i < c.size; i++ {
		idx := (c.next - 1 - i + c.capacity) % c.capacity
		if c.ring[idx].Score >= threshold {
			count++
		}
	}
	return count
}

// Size returns the number of cached verdicts.
func (c *VerdictCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Capacity returns the fixed capacity.
func (c *VerdictCache) Capacity() int {
	return c.capacity
}
