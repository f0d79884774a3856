package query

import (
	"context"

	"github.com/carouseldb/carousel/internal/storage/types"
)

// source is one pre-snapshotted contributor to a merge: the points of
// a single volume, or of the write cache, ascending by timestamp.
type source struct {
	pts       []types.Point
	pos       int
	fromCache bool
}

// Cursor is a lazy merge over the query's sources.
//
// The merge emits each timestamp exactly once. When the same
// (series, timestamp) exists both in the cache and in a volume, which
// happens for a point in the middle of being flushed, the volume's
// copy is authoritative and the cache's copy is suppressed. Direction changes
// only the emission order, never which points are included.
type Cursor struct {
	ctx    context.Context
	engine *Engine
	dir    types.Direction
	srcs   []source
	err    error
	done   bool
}

func newCursor(ctx context.Context, e *Engine, dir types.Direction, srcs []source) *Cursor {
	c := &Cursor{ctx: ctx, engine: e, dir: dir, srcs: srcs}
	if dir == types.Backward {
		for i := range c.srcs {
			c.srcs[i].pos = len(c.srcs[i].pts) - 1
		}
	}
	return c
}

// Direction returns the cursor's time direction.
func (c *Cursor) Direction() types.Direction { return c.dir }

// Next returns the next point in the requested direction. It returns
// false when the stream is exhausted or the context is cancelled;
// check Err to distinguish the two.
func (c *Cursor) Next() (types.Point, bool) {
	if c.done {
		return types.Point{}, false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		c.done = true
		return types.Point{}, false
	}

	best := -1
	for i := range c.srcs {
		s := &c.srcs[i]
		if !s.valid() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := &c.srcs[best]
		ts, bts := s.current().Timestamp, b.current().Timestamp
		switch {
		case c.dir == types.Forward && ts < bts,
			c.dir == types.Backward && ts > bts:
			best = i
		case ts == bts && b.fromCache && !s.fromCache:
			// Volume copy wins over the in-flight cache copy.
			best = i
		}
	}

	if best < 0 {
		c.done = true
		return types.Point{}, false
	}

	p := c.srcs[best].current()
	c.srcs[best].advance(c.dir)

	// Suppress cache entries duplicated by the emitted volume point.
	if !c.srcs[best].fromCache {
		for i := range c.srcs {
			s := &c.srcs[i]
			if s.fromCache && s.valid() && s.current().Timestamp == p.Timestamp {
				s.advance(c.dir)
			}
		}
	}

	c.engine.rows.Add(1)
	return p, true
}

// Err returns the first error encountered during iteration, if any.
func (c *Cursor) Err() error { return c.err }

func (s *source) valid() bool {
	return s.pos >= 0 && s.pos < len(s.pts)
}

func (s *source) current() types.Point {
	return s.pts[s.pos]
}

func (s *source) advance(dir types.Direction) {
	if dir == types.Backward {
		s.pos--
	} else {
		s.pos++
	}
}
