// Package telemetry tracks operation latencies and exposes engine
// counters to Prometheus.
package telemetry

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Tracker maintains streaming latency sketches for the write and query
// paths. Percentiles are approximate within the configured relative
// accuracy.
type Tracker struct {
	mu    sync.Mutex
	write *ddsketch.DDSketch
	query *ddsketch.DDSketch
}

// Latency is a snapshot of latency percentiles, in milliseconds.
// Zero values mean no observations yet.
type Latency struct {
	WriteP50 float64 `json:"write_p50_ms"`
	WriteP99 float64 `json:"write_p99_ms"`
	QueryP50 float64 `json:"query_p50_ms"`
	QueryP99 float64 `json:"query_p99_ms"`
}

// NewTracker creates a tracker with the given DDSketch relative
// accuracy (0.01 = 1% error).
func NewTracker(accuracy float64) (*Tracker, error) {
	w, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, err
	}
	q, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, err
	}
	return &Tracker{write: w, query: q}, nil
}

// ObserveWrite records one write-path latency.
func (t *Tracker) ObserveWrite(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.write.Add(float64(d) / float64(time.Millisecond))
}

// ObserveQuery records one query latency.
func (t *Tracker) ObserveQuery(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.query.Add(float64(d) / float64(time.Millisecond))
}

// Snapshot returns current latency percentiles.
func (t *Tracker) Snapshot() Latency {
	t.mu.Lock()
	defer t.mu.Unlock()

	var l Latency
	if t.write.GetCount() > 0 {
		if v, err := t.write.GetValueAtQuantile(0.5); err == nil {
			l.WriteP50 = v
		}
		if v, err := t.write.GetValueAtQuantile(0.99); err == nil {
			l.WriteP99 = v
		}
	}
	if t.query.GetCount() > 0 {
		if v, err := t.query.GetValueAtQuantile(0.5); err == nil {
			l.QueryP50 = v
		}
		if v, err := t.query.GetValueAtQuantile(0.99); err == nil {
			l.QueryP99 = v
		}
	}
	return l
}
