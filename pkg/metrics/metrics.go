package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Batching writer metrics
	UpdatesEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_updates_enqueued_total",
			Help: "Total number of updates enqueued to the batching writer",
		},
	)

	UpdatesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_updates_flushed_total",
			Help: "Total number of update records written to the log",
		},
	)

	UpdatesCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_updates_coalesced_total",
			Help: "Total number of updates absorbed by merge (enqueued minus flushed)",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_flushes_total",
			Help: "Total number of batch flushes by reason",
		},
		[]string{"reason"},
	)

	FlushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_flush_errors_total",
			Help: "Total number of failed batch flushes",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotation_batch_size_updates",
			Help:    "Number of updates per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	BatchBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotation_batch_size_bytes",
			Help:    "Bytes written per flushed batch after coalescing",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)

	// Service operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_operations_total",
			Help: "Total number of service operations by action and status",
		},
		[]string{"action", "status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_operation_duration_seconds",
			Help:    "Service operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Compaction metrics
	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_compactions_total",
			Help: "Total number of compaction runs by outcome",
		},
		[]string{"outcome"},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotation_compaction_duration_seconds",
			Help:    "Time taken for a compaction run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactedUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_compacted_updates_total",
			Help: "Total number of update records folded into snapshots",
		},
	)

	// Store metrics
	PoolOpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "annotation_pool_open_connections",
			Help: "Open connections in the database pool",
		},
	)

	PoolIdleConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "annotation_pool_idle_connections",
			Help: "Idle connections in the database pool",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(UpdatesEnqueued)
	prometheus.MustRegister(UpdatesFlushed)
	prometheus.MustRegister(UpdatesCoalesced)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushErrors)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchBytes)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(CompactionsTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactedUpdates)
	prometheus.MustRegister(PoolOpenConnections)
	prometheus.MustRegister(PoolIdleConnections)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
