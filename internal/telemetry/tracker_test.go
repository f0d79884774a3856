package telemetry

import (
	"testing"
	"time"
)

func TestTracker_Empty(t *testing.T) {
	tr, err := NewTracker(0.01)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	l := tr.Snapshot()
	if l != (Latency{}) {
		t.Errorf("empty tracker should report zero latencies, got %+v", l)
	}
}

func TestTracker_BadAccuracy(t *testing.T) {
	if _, err := NewTracker(0); err == nil {
		t.Error("expected error for zero accuracy")
	}
}

func TestTracker_Percentiles(t *testing.T) {
	tr, err := NewTracker(0.01)
	if err != nil {
		t.Fatal(err)
	}

	// 100 observations: 1ms..100ms.
	for i := 1; i <= 100; i++ {
		tr.ObserveWrite(time.Duration(i) * time.Millisecond)
	}
	tr.ObserveQuery(10 * time.Millisecond)

	l := tr.Snapshot()
	// Within the sketch's relative accuracy p50 is near 50ms and p99
	// near 99ms; generous bounds keep this stable.
	if l.WriteP50 < 40 || l.WriteP50 > 60 {
		t.Errorf("WriteP50 = %v, want ~50", l.WriteP50)
	}
	if l.WriteP99 < 90 || l.WriteP99 > 110 {
		t.Errorf("WriteP99 = %v, want ~99", l.WriteP99)
	}
	if l.WriteP99 < l.WriteP50 {
		t.Error("p99 below p50")
	}
	if l.QueryP50 < 8 || l.QueryP50 > 12 {
		t.Errorf("QueryP50 = %v, want ~10", l.QueryP50)
	}
}
