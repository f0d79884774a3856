package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/carouseldb/carousel/internal/config"
	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/storage/cache"
	"github.com/carouseldb/carousel/internal/storage/query"
	"github.com/carouseldb/carousel/internal/storage/router"
	"github.com/carouseldb/carousel/internal/storage/types"
	"github.com/carouseldb/carousel/internal/storage/volume"
	"github.com/carouseldb/carousel/internal/telemetry"
)

// Service is the main storage service orchestrating the write cache,
// the volume ring, the write router and the query engine.
type Service struct {
	config *config.Config

	// Components
	cache   *cache.Cache
	volumes *volume.Set
	router  *router.Router
	query   *query.Engine
	tracker *telemetry.Tracker

	// State
	running   atomic.Bool
	startTime time.Time

	decodeErrors atomic.Int64
}

// New creates a storage service from the given configuration.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	vs, err := volume.NewSet(volume.Options{
		Count:    cfg.Volumes.Count,
		Capacity: cfg.Volumes.Capacity,
		Dir:      cfg.VolumeDir(),
		DirectIO: cfg.Volumes.DirectIO,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create volume ring")
	}

	tracker, err := telemetry.NewTracker(cfg.Telemetry.PercentileAccuracy)
	if err != nil {
		vs.Close()
		return nil, errors.Wrap(err, "create latency tracker")
	}

	c := cache.New()

	return &Service{
		config:  cfg,
		cache:   c,
		volumes: vs,
		router:  router.New(c, vs, cfg.Ingest.FlushQueueSize),
		query:   query.New(c, vs),
		tracker: tracker,
	}, nil
}

// Start starts the write path.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	s.startTime = time.Now()

	if err := s.router.Start(); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "start router")
	}
	return nil
}

// Stop drains the write path and releases volume files.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	var errs *multierror.Error
	if err := s.router.Stop(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "stop router"))
	}
	if err := s.volumes.Close(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "close volumes"))
	}
	return errs.ErrorOrNil()
}

// Ingest accepts one point into the engine.
func (s *Service) Ingest(p types.Point) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}

	start := time.Now()
	if err := s.router.Ingest(p); err != nil {
		return err
	}
	s.tracker.ObserveWrite(time.Since(start))
	return nil
}

// Query builds a cursor over all live points matching the request.
func (s *Service) Query(ctx context.Context, req query.Request) (*query.Cursor, error) {
	start := time.Now()
	cur, err := s.query.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	s.tracker.ObserveQuery(time.Since(start))
	return cur, nil
}

// RecordDecodeError counts one malformed ingestion frame.
func (s *Service) RecordDecodeError() {
	s.decodeErrors.Add(1)
}

// DecodeErrors returns the number of malformed frames seen.
func (s *Service) DecodeErrors() int64 {
	return s.decodeErrors.Load()
}

// IngestStats returns write-path statistics.
func (s *Service) IngestStats() router.StatsSnapshot {
	return s.router.Stats()
}

// VolumeStats returns the most recent free-space snapshot.
func (s *Service) VolumeStats() *volume.Stats {
	return s.volumes.Stats()
}

// QueryStats returns query statistics.
func (s *Service) QueryStats() query.Stats {
	return s.query.Stats()
}

// CacheStats returns write-cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Latency returns current latency percentiles.
func (s *Service) Latency() telemetry.Latency {
	return s.tracker.Snapshot()
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Halted reports whether the write path stopped after a fatal
// invariant violation.
func (s *Service) Halted() bool {
	return s.router.Halted()
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// VolumeCount returns the number of volumes in the ring.
func (s *Service) VolumeCount() int {
	return s.config.Volumes.Count
}
