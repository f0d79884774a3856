// Package cache implements the write-side point cache.
//
// Every ingested point lands here first, so queries always see it
// immediately, before (and independent of) the flush into a volume.
// Once a point is confirmed flushed, it is removed exactly once.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/carouseldb/carousel/internal/storage/types"
)

// Cache is a thread-safe buffer of points not yet confirmed flushed to
// a volume, held per series in ascending timestamp order.
type Cache struct {
	mu     sync.RWMutex
	series map[string][]types.Point
	count  int64

	// Statistics
	added   atomic.Int64
	removed atomic.Int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{series: make(map[string][]types.Point)}
}

// Add inserts a point. Points for one series normally arrive in
// timestamp order, so the append fast path dominates; a late write is
// placed at its sorted position.
func (c *Cache) Add(p types.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pts := c.series[p.Series]
	if n := len(pts); n > 0 && pts[n-1].Timestamp > p.Timestamp {
		i := sort.Search(n, func(i int) bool { return pts[i].Timestamp >= p.Timestamp })
		pts = append(pts, types.Point{})
		copy(pts[i+1:], pts[i:])
		pts[i] = p
	} else {
		pts = append(pts, p)
	}
	c.series[p.Series] = pts

	c.count++
	c.added.Add(1)
}

// Remove deletes the cached entry for (p.Series, p.Timestamp), if
// present. It is called once per point when the flush into a volume is
// confirmed; the entry leaves the cache exactly once.
// Returns false if no matching entry exists.
func (c *Cache) Remove(p types.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pts := c.series[p.Series]
	n := len(pts)
	if n == 0 {
		return false
	}

	i := sort.Search(n, func(i int) bool { return pts[i].Timestamp >= p.Timestamp })
	if i >= n || pts[i].Timestamp != p.Timestamp {
		return false
	}

	copy(pts[i:], pts[i+1:])
	pts = pts[:n-1]
	if len(pts) == 0 {
		delete(c.series, p.Series)
	} else {
		c.series[p.Series] = pts
	}

	c.count--
	c.removed.Add(1)
	return true
}

// Points returns a copy of the cached points for series within
// [min, max], ascending by timestamp.
func (c *Cache) Points(series string, min, max int64) []types.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pts := c.series[series]
	if len(pts) == 0 {
		return nil
	}

	lo := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp >= min })
	hi := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp > max })
	if lo >= hi {
		return nil
	}

	out := make([]types.Point, hi-lo)
	copy(out, pts[lo:hi])
	return out
}

// Len returns the number of cached points across all series.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.count)
}

// Stats holds cache statistics.
type Stats struct {
	Pending int
	Added   int64
	Removed int64
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	pending := int(c.count)
	c.mu.RUnlock()

	return Stats{
		Pending: pending,
		Added:   c.added.Load(),
		Removed: c.removed.Load(),
	}
}
