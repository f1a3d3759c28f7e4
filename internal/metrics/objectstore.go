package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to remote tier operations.
// It satisfies objectstore.MetricsRecorder.
type ObjectStoreMetrics struct {
	// Labels: operation (upload, download, batch_delete), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec

	// Labels: direction (read, write)
	BytesTotal *prometheus.CounterVec

	// Labels: result (deleted, failed)
	DeletedKeysTotal *prometheus.CounterVec
}

const (
	OpUpload      = "upload"
	OpDownload    = "download"
	OpBatchDelete = "batch_delete"
)

const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// DefaultObjectStoreLatencyBuckets covers tens of milliseconds up to a minute.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewObjectStoreMetrics creates and registers object store metrics with the
// default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewObjectStoreMetricsWithRegistry registers object store metrics with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(reg))
}

func newObjectStoreMetrics(f promauto.Factory) *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultObjectStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		BytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "bytes_total",
				Help:      "Total bytes transferred by direction (read/write).",
			},
			[]string{"direction"},
		),
		DeletedKeysTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "objectstore",
				Name:      "batch_delete_keys_total",
				Help:      "Keys submitted to batch delete, by result (deleted/failed).",
			},
			[]string{"result"},
		),
	}
}

func (m *ObjectStoreMetrics) recordOperation(op string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}

func (m *ObjectStoreMetrics) RecordUpload(durationSeconds float64, success bool, bytes int64) {
	m.recordOperation(OpUpload, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesTotal.WithLabelValues(DirectionWrite).Add(float64(bytes))
	}
}

func (m *ObjectStoreMetrics) RecordDownload(durationSeconds float64, success bool, bytes int64) {
	m.recordOperation(OpDownload, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesTotal.WithLabelValues(DirectionRead).Add(float64(bytes))
	}
}

func (m *ObjectStoreMetrics) RecordBatchDelete(durationSeconds float64, success bool, deleted, failed int) {
	m.recordOperation(OpBatchDelete, durationSeconds, success)
	m.DeletedKeysTotal.WithLabelValues("deleted").Add(float64(deleted))
	m.DeletedKeysTotal.WithLabelValues("failed").Add(float64(failed))
}
