package cache

import (
	"sync"
	"testing"

	"github.com/carouseldb/carousel/internal/storage/types"
)

func pt(series string, ts int64) types.Point {
	return types.Point{Series: series, Timestamp: ts, Value: float64(ts)}
}

func TestCache_AddAndPoints(t *testing.T) {
	c := New()

	c.Add(pt("cpu", 10))
	c.Add(pt("cpu", 20))
	c.Add(pt("mem", 15))

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}

	pts := c.Points("cpu", 0, 100)
	if len(pts) != 2 {
		t.Fatalf("expected 2 cpu points, got %d", len(pts))
	}
	if pts[0].Timestamp != 10 || pts[1].Timestamp != 20 {
		t.Errorf("wrong points: %+v", pts)
	}

	if pts := c.Points("disk", 0, 100); pts != nil {
		t.Errorf("expected nil for unknown series, got %v", pts)
	}
}

func TestCache_LateWriteSorted(t *testing.T) {
	c := New()

	for _, ts := range []int64{30, 10, 20} {
		c.Add(pt("cpu", ts))
	}

	pts := c.Points("cpu", 0, 100)
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	for i, want := range []int64{10, 20, 30} {
		if pts[i].Timestamp != want {
			t.Errorf("position %d: got ts %d, want %d", i, pts[i].Timestamp, want)
		}
	}
}

func TestCache_RangeBounds(t *testing.T) {
	c := New()
	for ts := int64(0); ts < 100; ts += 10 {
		c.Add(pt("cpu", ts))
	}

	tests := []struct {
		name     string
		min, max int64
		want     int
	}{
		{"full", 0, 90, 10},
		{"inclusive", 20, 40, 3},
		{"between samples", 21, 29, 0},
		{"single", 50, 50, 1},
		{"outside", 200, 300, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(c.Points("cpu", tt.min, tt.max)); got != tt.want {
				t.Errorf("Points(%d, %d) = %d, want %d", tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestCache_RemoveExactlyOnce(t *testing.T) {
	c := New()
	c.Add(pt("cpu", 10))
	c.Add(pt("cpu", 20))

	if !c.Remove(pt("cpu", 10)) {
		t.Fatal("first Remove should succeed")
	}
	if c.Remove(pt("cpu", 10)) {
		t.Error("second Remove of the same point should fail")
	}
	if c.Remove(pt("cpu", 15)) {
		t.Error("Remove of absent timestamp should fail")
	}
	if c.Remove(pt("mem", 20)) {
		t.Error("Remove of absent series should fail")
	}

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	pts := c.Points("cpu", 0, 100)
	if len(pts) != 1 || pts[0].Timestamp != 20 {
		t.Errorf("wrong surviving point: %v", pts)
	}
}

func TestCache_RemoveLastPointDropsSeries(t *testing.T) {
	c := New()
	c.Add(pt("cpu", 10))

	if !c.Remove(pt("cpu", 10)) {
		t.Fatal("Remove failed")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}

	// A fresh add after the series was dropped must work.
	c.Add(pt("cpu", 30))
	if pts := c.Points("cpu", 0, 100); len(pts) != 1 {
		t.Errorf("expected 1 point after re-add, got %d", len(pts))
	}
}

func TestCache_Stats(t *testing.T) {
	c := New()
	for ts := int64(0); ts < 5; ts++ {
		c.Add(pt("cpu", ts))
	}
	c.Remove(pt("cpu", 0))
	c.Remove(pt("cpu", 1))

	st := c.Stats()
	if st.Added != 5 {
		t.Errorf("Added = %d, want 5", st.Added)
	}
	if st.Removed != 2 {
		t.Errorf("Removed = %d, want 2", st.Removed)
	}
	if st.Pending != 3 {
		t.Errorf("Pending = %d, want 3", st.Pending)
	}
}

func TestCache_ConcurrentAddRemove(t *testing.T) {
	c := New()

	const perSeries = 200
	series := []string{"cpu host=a", "cpu host=b", "mem host=a"}

	var wg sync.WaitGroup
	for _, s := range series {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			for ts := int64(0); ts < perSeries; ts++ {
				c.Add(pt(s, ts))
			}
			for ts := int64(0); ts < perSeries; ts++ {
				if !c.Remove(pt(s, ts)) {
					t.Errorf("%s: Remove(%d) failed", s, ts)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	if c.Len() != 0 {
		t.Errorf("Len = %d after add/remove of everything", c.Len())
	}
	st := c.Stats()
	if st.Added != st.Removed {
		t.Errorf("Added %d != Removed %d", st.Added, st.Removed)
	}
}
