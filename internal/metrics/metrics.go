// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Placement metrics.
var (
	PlacerReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vstorage_placer_reservations_total",
		Help: "Total write slot reservations by outcome.",
	}, []string{"outcome"})

	PlacerActiveSlots = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vstorage_placer_active_slots",
		Help: "Currently outstanding (uncommitted) write slots per volume.",
	}, []string{"volume_id"})
)

// Block engine metrics.
var (
	BlockOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vstorage_block_ops_total",
		Help: "Block operations by type and outcome.",
	}, []string{"op", "outcome"})

	BlockOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vstorage_block_op_duration_seconds",
		Help:    "Latency of block operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// GC metrics.
var (
	GCCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "vstorage_gc_cycle_duration_seconds",
		Help: "Duration of each garbage collection cycle.",
	})

	GCBlocksPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vstorage_gc_blocks_purged_total",
		Help: "Total blocks purged by garbage collection.",
	})
)

// Validator metrics.
var (
	ValidatorCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "vstorage_validator_cycle_duration_seconds",
		Help: "Duration of each integrity validation cycle.",
	})

	ValidatorMismatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vstorage_validator_mismatches_total",
		Help: "Total CRC mismatches found by the background validator.",
	})
)

// Storage aggregate metrics. They are registered for export; StatusCollector
// does not set them, and no other code in this repository does either.
var (
	MetaDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vstorage_meta_db_size_bytes",
		Help: "On-disk size of the metadata database.",
	})

	BucketAvailBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vstorage_bucket_avail_bytes",
		Help: "Available capacity per bucket.",
	}, []string{"bucket_id"})

	BucketGCBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vstorage_bucket_gc_pending_bytes",
		Help: "Bytes pending reclamation per bucket.",
	}, []string{"bucket_id"})
)

func init() {
	prometheus.MustRegister(
		PlacerReservationsTotal,
		PlacerActiveSlots,
		BlockOpsTotal,
		BlockOpDuration,
		GCCycleDuration,
		GCBlocksPurgedTotal,
		ValidatorCycleDuration,
		ValidatorMismatchesTotal,
		MetaDBSizeBytes,
		BucketAvailBytes,
		BucketGCBytes,
	)
}

// Handler returns the HTTP handler serving Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures and records an operation's duration.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
