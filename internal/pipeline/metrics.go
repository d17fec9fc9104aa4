package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	attemptsTotal   *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	uploadsTotal    *prometheus.CounterVec
	outputBytes     *prometheus.HistogramVec
	previewsRevoked prometheus.Counter
	activeSessions  prometheus.Gauge
}

// newMetrics builds the pipeline collectors and registers them when reg is set.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_compress_attempts_total",
			Help: "Encode attempts performed by the size-budget search, by phase.",
		}, []string{"phase"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_pipeline_outcomes_total",
			Help: "Finished pipeline invocations by bucket and outcome.",
		}, []string{"bucket", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_uploads_total",
			Help: "Content store writes by kind (upload or replace) and outcome.",
		}, []string{"kind", "outcome"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_output_bytes",
			Help:    "Size of committed outputs by bucket.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
		}, []string{"bucket"}),
		previewsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_previews_revoked_total",
			Help: "Previews revoked explicitly or by eviction.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropflow_active_sessions",
			Help: "Interactive crop sessions currently held.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.attemptsTotal,
			m.outcomesTotal,
			m.stageDuration,
			m.uploadsTotal,
			m.outputBytes,
			m.previewsRevoked,
			m.activeSessions,
		)
	}
	return m
}
