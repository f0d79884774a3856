package volume

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/logging"
	"github.com/carouseldb/carousel/internal/storage/types"
)

// Options configures a volume ring.
type Options struct {
	// Count is the number of volumes. Fixed for the life of the set.
	Count int

	// Capacity is the byte capacity of each volume.
	Capacity int64

	// Dir is where volume files are created. Empty means memory-only
	// volumes (used by tests).
	Dir string

	// DirectIO opens volume files with O_DIRECT.
	DirectIO bool
}

// WriteResult reports what a write did to the ring.
type WriteResult struct {
	// VolumeIndex is the volume that admitted the point.
	VolumeIndex int

	// Rotated is true if the write triggered a rotation first.
	Rotated bool

	// EvictedIndex is the volume whose contents were discarded by the
	// rotation, or -1 if the rotation target was empty (or no rotation
	// happened).
	EvictedIndex int
}

// VolumeStat is the externally visible state of one volume.
type VolumeStat struct {
	Index      int
	FreeSpace  int64
	Capacity   int64
	Generation uint64
}

// Stats is a point-in-time snapshot of the ring, published atomically
// after every completed write. Readers get the state after the most
// recently completed write without taking any lock.
type Stats struct {
	Volumes     []VolumeStat
	ActiveIndex int
	Rotations   int64
	Evictions   int64
}

// Set is an ordered, fixed-size ring of volumes with a single active
// write position.
//
// All writes and rotation decisions are serialized under one mutex, so
// only one rotation decision is ever in flight. Reads (Points, Stats)
// do not take the set lock.
type Set struct {
	mu      sync.Mutex
	volumes []*Volume
	active  int

	rotations int64
	evictions int64

	stats  atomic.Pointer[Stats]
	halted atomic.Bool

	log *slog.Logger
}

// NewSet creates a volume ring. Volumes are created once, at full free
// space, with volume 0 active.
func NewSet(opts Options) (*Set, error) {
	if opts.Count < 2 {
		return nil, fmt.Errorf("volume count must be at least 2, got %d", opts.Count)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("volume capacity must be positive, got %d", opts.Capacity)
	}

	s := &Set{log: logging.Component("volumes")}

	for i := 0; i < opts.Count; i++ {
		var (
			file *backingFile
			err  error
		)
		if opts.Dir != "" {
			path := filepath.Join(opts.Dir, fmt.Sprintf("volume_%d.vol", i))
			file, err = openBackingFile(path, opts.DirectIO)
			if err != nil {
				s.closeVolumes()
				return nil, fmt.Errorf("volume %d: %w", i, err)
			}
		}
		s.volumes = append(s.volumes, newVolume(i, opts.Capacity, file))
	}

	s.publish()
	return s, nil
}

// Write admits one point into the ring, rotating first if the active
// volume cannot hold it. Rotation is unconditional: if the target
// volume still holds data, that data is evicted. A point larger than a
// whole volume is an unrecoverable invariant violation; the set halts
// and refuses further writes.
func (s *Set) Write(p types.Point) (WriteResult, error) {
	if s.halted.Load() {
		return WriteResult{}, errors.ErrEngineHalted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := WriteResult{EvictedIndex: -1}

	size := p.EncodedSize()
	if size > s.volumes[s.active].Capacity() {
		s.halted.Store(true)
		s.log.Error("point larger than volume capacity, halting writes",
			"series", p.Series, "size", size)
		return WriteResult{}, errors.Wrapf(errors.ErrCapacityExceeded,
			"point of %d bytes", size)
	}

	if s.volumes[s.active].FreeSpace() < size {
		s.rotateLocked(&res)
	}

	if err := s.volumes[s.active].append(p); err != nil {
		return WriteResult{}, errors.Wrapf(err, "volume %d append", s.active)
	}
	res.VolumeIndex = s.active

	s.publish()
	return res, nil
}

// rotateLocked advances the active pointer one position around the
// ring, evicting the target volume's contents if it has any. A single
// step always yields a volume with full free space, so the retried
// write cannot overflow again.
func (s *Set) rotateLocked(res *WriteResult) {
	prev := s.active
	s.active = (s.active + 1) % len(s.volumes)
	s.rotations++
	res.Rotated = true

	target := s.volumes[s.active]
	if !target.Empty() {
		if err := target.reset(); err != nil {
			s.log.Error("volume eviction failed", "index", s.active, "error", err)
		}
		s.evictions++
		res.EvictedIndex = s.active
		s.log.Info("volume evicted",
			"index", s.active, "generation", target.Generation(), "previous_active", prev)
	} else {
		s.log.Info("rotated to empty volume", "index", s.active, "previous_active", prev)
	}
}

// publish swaps in a fresh stats snapshot. Called with the set lock
// held after every mutation.
func (s *Set) publish() {
	st := &Stats{
		Volumes:     make([]VolumeStat, len(s.volumes)),
		ActiveIndex: s.active,
		Rotations:   s.rotations,
		Evictions:   s.evictions,
	}
	for i, v := range s.volumes {
		st.Volumes[i] = VolumeStat{
			Index:      i,
			FreeSpace:  v.FreeSpace(),
			Capacity:   v.Capacity(),
			Generation: v.Generation(),
		}
	}
	s.stats.Store(st)
}

// Stats returns the most recently published snapshot. The returned
// value is immutable and safe to read concurrently with writes.
func (s *Set) Stats() *Stats {
	return s.stats.Load()
}

// Collect returns, for each volume that holds matching data, a copy of
// its points for series within [min, max] in ascending timestamp
// order. Each inner slice is consistent with respect to eviction: it
// reflects one volume either entirely before or entirely after any
// concurrent eviction.
func (s *Set) Collect(series string, min, max int64) [][]types.Point {
	var out [][]types.Point
	for _, v := range s.volumes {
		if pts := v.Points(series, min, max); len(pts) > 0 {
			out = append(out, pts)
		}
	}
	return out
}

// Len returns the total number of points currently held.
func (s *Set) Len() int {
	total := 0
	for _, v := range s.volumes {
		total += v.Len()
	}
	return total
}

// Halted reports whether the set has stopped accepting writes.
func (s *Set) Halted() bool {
	return s.halted.Load()
}

// Close releases the backing files.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeVolumes()
}

func (s *Set) closeVolumes() error {
	var errs *multierror.Error
	for _, v := range s.volumes {
		if err := v.close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("volume %d: %w", v.Index(), err))
		}
	}
	return errs.ErrorOrNil()
}
