package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropflow_worker_jobs_total",
			Help: "Import jobs by bucket and final status.",
		}, []string{"bucket", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cropflow_worker_job_duration_seconds",
			Help:    "Wall time of each import job, staging fetch included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bucket", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropflow_worker_active_jobs",
			Help: "Import jobs currently holding a processing slot.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_pixels_processed_total",
			Help: "Source pixels decoded by successful imports.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_bytes_saved_total",
			Help: "Source bytes minus stored bytes across successful imports.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropflow_usage_compute_time_ms_total",
			Help: "Pipeline compute time in milliseconds across successful imports.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
