package volume

import (
	"sync"
	"testing"

	"github.com/carouseldb/carousel/internal/errors"
	"github.com/carouseldb/carousel/internal/storage/types"
)

const testSeries = "temp tag=test"

func testPoint(ts int64, value float64) types.Point {
	return types.Point{Series: testSeries, Timestamp: ts, Value: value}
}

// capacityFor returns a capacity that fits exactly n test points.
func capacityFor(n int) int64 {
	p := testPoint(0, 0)
	return p.EncodedSize() * int64(n)
}

func newTestSet(t *testing.T, count, pointsPerVolume int) *Set {
	t.Helper()
	s, err := NewSet(Options{Count: count, Capacity: capacityFor(pointsPerVolume)})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return s
}

func TestSet_New(t *testing.T) {
	s := newTestSet(t, 2, 10)

	st := s.Stats()
	if len(st.Volumes) != 2 {
		t.Fatalf("expected 2 volumes, got %d", len(st.Volumes))
	}
	if st.ActiveIndex != 0 {
		t.Errorf("expected volume 0 active, got %d", st.ActiveIndex)
	}
	for i, v := range st.Volumes {
		if v.FreeSpace != v.Capacity {
			t.Errorf("volume %d: expected full free space, got %d/%d", i, v.FreeSpace, v.Capacity)
		}
		if v.Generation != 0 {
			t.Errorf("volume %d: expected generation 0, got %d", i, v.Generation)
		}
	}
}

func TestSet_New_BadOptions(t *testing.T) {
	if _, err := NewSet(Options{Count: 1, Capacity: 1024}); err == nil {
		t.Error("expected error for single volume")
	}
	if _, err := NewSet(Options{Count: 2, Capacity: 0}); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestSet_FreeSpaceDecreases(t *testing.T) {
	s := newTestSet(t, 2, 10)

	prev := s.Stats().Volumes[0].FreeSpace
	for i := 0; i < 5; i++ {
		if _, err := s.Write(testPoint(int64(i), float64(i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		free := s.Stats().Volumes[0].FreeSpace
		if free >= prev {
			t.Errorf("write %d: free space did not decrease: %d -> %d", i, prev, free)
		}
		prev = free
	}

	// Volume 1 untouched so far.
	if st := s.Stats(); st.Volumes[1].FreeSpace != st.Volumes[1].Capacity {
		t.Error("volume 1 should still be full free")
	}
}

func TestSet_RotationOnOverflow(t *testing.T) {
	s := newTestSet(t, 2, 3)

	// Fill volume 0 exactly.
	for i := 0; i < 3; i++ {
		res, err := s.Write(testPoint(int64(i), 0))
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if res.Rotated {
			t.Errorf("write %d: unexpected rotation", i)
		}
		if res.VolumeIndex != 0 {
			t.Errorf("write %d: expected volume 0, got %d", i, res.VolumeIndex)
		}
	}

	if free := s.Stats().Volumes[0].FreeSpace; free != 0 {
		t.Fatalf("volume 0 should be exactly full, free=%d", free)
	}

	// Next write must rotate into volume 1; volume 1 was empty, so no
	// eviction happens.
	res, err := s.Write(testPoint(3, 0))
	if err != nil {
		t.Fatalf("overflow write: %v", err)
	}
	if !res.Rotated {
		t.Error("expected rotation")
	}
	if res.VolumeIndex != 1 {
		t.Errorf("expected write into volume 1, got %d", res.VolumeIndex)
	}
	if res.EvictedIndex != -1 {
		t.Errorf("expected no eviction, got %d", res.EvictedIndex)
	}

	st := s.Stats()
	if st.ActiveIndex != 1 {
		t.Errorf("expected active volume 1, got %d", st.ActiveIndex)
	}
	if st.Rotations != 1 {
		t.Errorf("expected 1 rotation, got %d", st.Rotations)
	}
	// Volume 0 keeps its contents until its own turn for eviction.
	if st.Volumes[0].FreeSpace != 0 {
		t.Error("volume 0 should retain its contents after rotation")
	}
}

func TestSet_EvictionOnWrapAround(t *testing.T) {
	s := newTestSet(t, 2, 2)

	// 4 points fill both volumes; the 5th wraps around and evicts
	// volume 0.
	for i := 0; i < 4; i++ {
		if _, err := s.Write(testPoint(int64(i), 0)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	res, err := s.Write(testPoint(4, 0))
	if err != nil {
		t.Fatalf("wrap-around write: %v", err)
	}
	if !res.Rotated || res.EvictedIndex != 0 {
		t.Fatalf("expected eviction of volume 0, got %+v", res)
	}

	st := s.Stats()
	if st.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", st.Evictions)
	}
	if st.Volumes[0].Generation != 1 {
		t.Errorf("expected generation 1 after eviction, got %d", st.Volumes[0].Generation)
	}
	// Evicted volume was reset to capacity, then one point written.
	want := capacityFor(2) - testPoint(0, 0).EncodedSize()
	if st.Volumes[0].FreeSpace != want {
		t.Errorf("expected free space %d after eviction+write, got %d", want, st.Volumes[0].FreeSpace)
	}

	// Points 0 and 1 died with volume 0's first generation.
	pts := s.Collect(testSeries, 0, 100)
	total := 0
	for _, chunk := range pts {
		total += len(chunk)
		for _, p := range chunk {
			if p.Timestamp < 2 {
				t.Errorf("evicted point %d still readable", p.Timestamp)
			}
		}
	}
	if total != 3 {
		t.Errorf("expected 3 surviving points, got %d", total)
	}
}

func TestSet_OversizedPointHalts(t *testing.T) {
	s, err := NewSet(Options{Count: 2, Capacity: 4096})
	if err != nil {
		t.Fatal(err)
	}

	big := types.Point{Series: string(make([]byte, 5000)), Timestamp: 1, Value: 1}
	_, err = s.Write(big)
	if !errors.Is(err, errors.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if !s.Halted() {
		t.Error("set should be halted")
	}

	// Every subsequent write is refused.
	_, err = s.Write(types.Point{Series: "temp", Timestamp: 2, Value: 1})
	if !errors.Is(err, errors.ErrEngineHalted) {
		t.Errorf("expected ErrEngineHalted, got %v", err)
	}
}

func TestSet_StatsSnapshotImmutable(t *testing.T) {
	s := newTestSet(t, 2, 10)

	before := s.Stats()
	free := before.Volumes[0].FreeSpace

	if _, err := s.Write(testPoint(1, 1)); err != nil {
		t.Fatal(err)
	}

	// The old snapshot must not change under a concurrent write.
	if before.Volumes[0].FreeSpace != free {
		t.Error("published snapshot was mutated by a later write")
	}
	if after := s.Stats(); after.Volumes[0].FreeSpace >= free {
		t.Error("new snapshot should reflect the write")
	}
}

func TestSet_ConcurrentStatsAndWrites(t *testing.T) {
	s := newTestSet(t, 2, 50)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Pollers read stats while the writer rotates through volumes.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := s.Stats()
				for _, v := range st.Volumes {
					if v.FreeSpace < 0 || v.FreeSpace > v.Capacity {
						t.Errorf("free space out of bounds: %d/%d", v.FreeSpace, v.Capacity)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		if _, err := s.Write(testPoint(int64(i), float64(i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSet_CollectAscending(t *testing.T) {
	s := newTestSet(t, 2, 100)

	for i := 0; i < 50; i++ {
		if _, err := s.Write(testPoint(int64(i), float64(i))); err != nil {
			t.Fatal(err)
		}
	}

	chunks := s.Collect(testSeries, 10, 19)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if len(chunks[0]) != 10 {
		t.Fatalf("expected 10 points, got %d", len(chunks[0]))
	}
	for i, p := range chunks[0] {
		if p.Timestamp != int64(10+i) {
			t.Errorf("position %d: got ts %d, want %d", i, p.Timestamp, 10+i)
		}
	}

	if chunks := s.Collect("other", 0, 100); chunks != nil {
		t.Errorf("expected no chunks for unknown series, got %d", len(chunks))
	}
}
