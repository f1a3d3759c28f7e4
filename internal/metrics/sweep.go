package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job label values.
const (
	JobUpload   = "upload"
	JobLocalGC  = "local_gc"
	JobRemoteGC = "remote_gc"
)

// Outcome label values for a sweep run.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// SweepMetrics holds metrics for the periodic lifecycle jobs.
type SweepMetrics struct {
	// Labels: job, outcome (ok, skipped, error)
	RunsTotal *prometheus.CounterVec

	// Labels: job
	RunDuration *prometheus.HistogramVec

	// Labels: job, disposition (checked, removed, uploaded, deleted, failed)
	KeysTotal *prometheus.CounterVec

	// Labels: list (checklist, external_checklist, upload_checklist)
	Backlog *prometheus.GaugeVec
}

// NewSweepMetrics creates and registers sweep metrics with the default registry.
func NewSweepMetrics() *SweepMetrics {
	return newSweepMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewSweepMetricsWithRegistry registers sweep metrics with reg.
func NewSweepMetricsWithRegistry(reg prometheus.Registerer) *SweepMetrics {
	return newSweepMetrics(promauto.With(reg))
}

func newSweepMetrics(f promauto.Factory) *SweepMetrics {
	return &SweepMetrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "runs_total",
				Help:      "Sweep passes by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "run_duration_seconds",
				Help:      "Wall time of one sweep pass.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"job"},
		),
		KeysTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "keys_total",
				Help:      "Keys handled by sweeps, by job and disposition.",
			},
			[]string{"job", "disposition"},
		),
		Backlog: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "checklist",
				Name:      "backlog",
				Help:      "Markers currently waiting in each checklist.",
			},
			[]string{"list"},
		),
	}
}

// Counts is the per-pass tally a sweep reports.
type Counts struct {
	Checked  int
	Removed  int
	Uploaded int
	Deleted  int
	Failed   int
}

// RecordRun records one finished pass.
func (m *SweepMetrics) RecordRun(job, outcome string, d time.Duration, c Counts) {
	m.RunsTotal.WithLabelValues(job, outcome).Inc()
	m.RunDuration.WithLabelValues(job).Observe(d.Seconds())
	add := func(disposition string, n int) {
		if n > 0 {
			m.KeysTotal.WithLabelValues(job, disposition).Add(float64(n))
		}
	}
	add("checked", c.Checked)
	add("removed", c.Removed)
	add("uploaded", c.Uploaded)
	add("deleted", c.Deleted)
	add("failed", c.Failed)
}

// SetBacklog sets the marker count of one checklist.
func (m *SweepMetrics) SetBacklog(list string, n int) {
	m.Backlog.WithLabelValues(list).Set(float64(n))
}
