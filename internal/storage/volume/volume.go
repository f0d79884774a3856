// Package volume implements the fixed-capacity storage regions of the
// carousel engine and the ring that rotates between them.
//
// A Volume is an append-only region with a free-space counter. The Set
// owns the active-volume pointer: when the active volume cannot admit a
// write, the pointer advances around the ring and the next volume's
// prior contents are discarded. Oldest data is sacrificed rather than
// writes being rejected.
package volume

import (
	"sort"
	"sync"

	"github.com/carouseldb/carousel/internal/storage/types"
)

// Volume is a fixed-capacity append-only storage region.
//
// Contents live in the backing file and, for the query path, in
// per-series slices ordered by timestamp. A volume's free space only
// decreases between evictions; eviction resets it to the full capacity
// and bumps the generation counter.
type Volume struct {
	mu sync.RWMutex

	index    int
	capacity int64
	free     int64
	gen      uint64
	count    int64

	// series key -> points in ascending timestamp order
	series map[string][]types.Point

	file *backingFile
}

func newVolume(index int, capacity int64, file *backingFile) *Volume {
	return &Volume{
		index:    index,
		capacity: capacity,
		free:     capacity,
		series:   make(map[string][]types.Point),
		file:     file,
	}
}

// append admits one point. The caller must have verified that the
// point fits; free space going negative is an accounting bug, not a
// runtime condition.
func (v *Volume) append(p types.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	encoded := encodePoint(nil, p)
	if v.file != nil {
		if err := v.file.write(encoded); err != nil {
			return err
		}
	}

	pts := v.series[p.Series]
	// Points for one series normally arrive in timestamp order; keep
	// the slice sorted even if a late write slips through.
	if n := len(pts); n > 0 && pts[n-1].Timestamp > p.Timestamp {
		i := sort.Search(n, func(i int) bool { return pts[i].Timestamp >= p.Timestamp })
		pts = append(pts, types.Point{})
		copy(pts[i+1:], pts[i:])
		pts[i] = p
	} else {
		pts = append(pts, p)
	}
	v.series[p.Series] = pts

	v.free -= int64(len(encoded))
	v.count++
	return nil
}

// reset discards the volume's contents: free space returns to the full
// capacity and the generation counter is incremented.
func (v *Volume) reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.series = make(map[string][]types.Point)
	v.free = v.capacity
	v.count = 0
	v.gen++

	if v.file != nil {
		return v.file.reset()
	}
	return nil
}

// Points returns a copy of the volume's points for series within
// [min, max], ascending by timestamp. The copy is taken under the
// volume lock, so a concurrent eviction either happened entirely
// before this call or is observed not at all.
func (v *Volume) Points(series string, min, max int64) []types.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()

	pts := v.series[series]
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

// Index returns the volume's position in the ring.
func (v *Volume) Index() int { return v.index }

// Capacity returns the fixed byte capacity.
func (v *Volume) Capacity() int64 { return v.capacity }

// FreeSpace returns the current free space in bytes.
func (v *Volume) FreeSpace() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.free
}

// Generation returns how many times the volume has been evicted and reused.
func (v *Volume) Generation() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gen
}

// Empty returns true if the volume holds no points.
func (v *Volume) Empty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count == 0
}

// Len returns the number of points held.
func (v *Volume) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return int(v.count)
}

func (v *Volume) close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.file != nil {
		return v.file.close()
	}
	return nil
}
