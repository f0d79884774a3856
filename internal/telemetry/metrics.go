package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carouseldb/carousel/internal/storage/query"
	"github.com/carouseldb/carousel/internal/storage/router"
	"github.com/carouseldb/carousel/internal/storage/volume"
)

// Source exposes the engine counters the Prometheus collectors read.
// All methods must be safe to call concurrently with writes.
type Source interface {
	IngestStats() router.StatsSnapshot
	VolumeStats() *volume.Stats
	QueryStats() query.Stats
	DecodeErrors() int64
}

// Register installs carousel collectors on the given registerer. The
// collectors pull from src at scrape time, so no counter is ever
// incremented twice. One free-space gauge is registered per volume;
// the volume count is fixed at database creation.
func Register(reg prometheus.Registerer, src Source, volumeCount int) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_points_received_total",
			Help: "Points accepted by the write router.",
		}, func() float64 { return float64(src.IngestStats().Received) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_points_rejected_total",
			Help: "Points rejected before entering the write cache.",
		}, func() float64 { return float64(src.IngestStats().Rejected) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_points_flushed_total",
			Help: "Points confirmed flushed into a volume.",
		}, func() float64 { return float64(src.IngestStats().Flushed) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_decode_errors_total",
			Help: "Malformed ingestion frames.",
		}, func() float64 { return float64(src.DecodeErrors()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_rotations_total",
			Help: "Volume rotations.",
		}, func() float64 { return float64(src.VolumeStats().Rotations) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_evictions_total",
			Help: "Volume evictions.",
		}, func() float64 { return float64(src.VolumeStats().Evictions) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_queries_total",
			Help: "Queries executed.",
		}, func() float64 { return float64(src.QueryStats().Queries) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "carousel_query_rows_total",
			Help: "Rows returned by queries.",
		}, func() float64 { return float64(src.QueryStats().Rows) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "carousel_cache_pending_points",
			Help: "Points in the write cache awaiting flush confirmation.",
		}, func() float64 { return float64(src.IngestStats().Pending) }),
	)

	for i := 0; i < volumeCount; i++ {
		idx := i
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "carousel_volume_free_bytes",
			Help:        "Free space per volume.",
			ConstLabels: prometheus.Labels{"volume": fmt.Sprintf("%d", idx)},
		}, func() float64 {
			st := src.VolumeStats()
			if idx < len(st.Volumes) {
				return float64(st.Volumes[idx].FreeSpace)
			}
			return 0
		}))
	}
}
