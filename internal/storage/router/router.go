// Package router implements the single ingestion entry point.
//
// Every accepted point is added to the write cache first, so readers
// see it immediately, and then flushed into the volume ring by a
// single worker. One worker keeps the per-series flush order identical
// to ingestion order.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/logging"
	"github.com/carouseldb/carousel/internal/storage/cache"
	"github.com/carouseldb/carousel/internal/storage/types"
	"github.com/carouseldb/carousel/internal/storage/volume"
)

// Router routes ingested points into the cache and the volume ring.
type Router struct {
	cache   *cache.Cache
	volumes *volume.Set

	// sendMu guards the queue against a close during Stop while an
	// Ingest is in flight.
	sendMu sync.RWMutex
	queue  chan types.Point

	running atomic.Bool
	halted  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
	log   *slog.Logger
}

// Stats holds ingestion statistics.
type Stats struct {
	Received    atomic.Int64
	Rejected    atomic.Int64
	Flushed     atomic.Int64
	FlushErrors atomic.Int64
}

// StatsSnapshot is a copyable view of Stats.
type StatsSnapshot struct {
	Received    int64
	Rejected    int64
	Flushed     int64
	FlushErrors int64
	Pending     int
}

// New creates a router in front of the given cache and volume ring.
func New(c *cache.Cache, vs *volume.Set, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cache:   c,
		volumes: vs,
		queue:   make(chan types.Point, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.Component("router"),
	}
}

// Start launches the flush worker.
func (r *Router) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	r.wg.Add(1)
	go r.flushWorker()
	return nil
}

// Stop drains the flush queue and stops the worker. Points already
// accepted are flushed before Stop returns.
func (r *Router) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	r.sendMu.Lock()
	close(r.queue)
	r.sendMu.Unlock()

	r.wg.Wait()
	r.cancel()
	return nil
}

// Ingest accepts one point. The point becomes visible to queries via
// the write cache before Ingest returns; the flush into a volume
// happens asynchronously. Malformed points are rejected and never
// enter the cache.
func (r *Router) Ingest(p types.Point) error {
	if !r.running.Load() {
		return errors.ErrNotRunning
	}
	if r.halted.Load() {
		return errors.ErrEngineHalted
	}

	if err := p.Validate(); err != nil {
		r.stats.Rejected.Add(1)
		return err
	}

	r.stats.Received.Add(1)
	r.cache.Add(p)

	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if !r.running.Load() {
		// Stopped between the check above and taking the lock; the
		// point stays in the cache and remains queryable.
		return errors.ErrNotRunning
	}

	select {
	case r.queue <- p:
		return nil
	case <-r.ctx.Done():
		// Flush worker is gone (fatal halt); the cache copy is kept.
		return errors.ErrEngineHalted
	}
}

// flushWorker forwards queued points into the volume ring in arrival
// order and confirms each flush by removing the cache copy.
func (r *Router) flushWorker() {
	defer r.wg.Done()

	for p := range r.queue {
		if r.halted.Load() {
			// Leave the point in the cache; it stays readable even
			// though it will never reach a volume.
			continue
		}

		_, err := r.volumes.Write(p)
		if err != nil {
			r.stats.FlushErrors.Add(1)
			if errors.IsFatal(err) {
				r.halted.Store(true)
				r.cancel()
				r.log.Error("fatal flush error, write path halted", "error", err)
				continue
			}
			r.log.Error("flush failed", "series", p.Series, "error", err)
			continue
		}

		r.cache.Remove(p)
		r.stats.Flushed.Add(1)
	}
}

// Halted reports whether the write path has stopped after a fatal
// invariant violation.
func (r *Router) Halted() bool {
	return r.halted.Load() || r.volumes.Halted()
}

// IsRunning returns whether the router accepts points.
func (r *Router) IsRunning() bool {
	return r.running.Load()
}

// Stats returns current ingestion statistics.
func (r *Router) Stats() StatsSnapshot {
	return StatsSnapshot{
		Received:    r.stats.Received.Load(),
		Rejected:    r.stats.Rejected.Load(),
		Flushed:     r.stats.Flushed.Load(),
		FlushErrors: r.stats.FlushErrors.Load(),
		Pending:     r.cache.Len(),
	}
}
