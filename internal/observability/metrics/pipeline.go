package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

// PipelineMetrics observes worker-pool progress plus the upload and index
// stages. It carries a private registry so parallel tests never collide on
// the default one.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
	uploadsTotal  *prometheus.CounterVec
	indexesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scilib",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total processed documents by resulting status.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scilib",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Per-document processing duration in seconds by resulting status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scilib",
			Subsystem: "pipeline",
			Name:      "jobs_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scilib",
			Subsystem: "archive",
			Name:      "uploads_total",
			Help:      "Total archive uploads by outcome.",
		},
		[]string{"service", "outcome"},
	)
	indexesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scilib",
			Subsystem: "archive",
			Name:      "index_rebuilds_total",
			Help:      "Total folder index rebuilds by outcome.",
		},
		[]string{"service", "outcome"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scilib",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "End-to-end batch duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, uploadsTotal, indexesTotal, batchDuration)

	return &PipelineMetrics{
		registry:      registry,
		service:       service,
		jobsTotal:     jobsTotal,
		jobDuration:   jobDuration,
		jobsInFlight:  jobsInFlight,
		uploadsTotal:  uploadsTotal,
		indexesTotal:  indexesTotal,
		batchDuration: batchDuration,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) JobStarted() {
	m.jobsInFlight.Inc()
}

func (m *PipelineMetrics) JobFinished(status domain.Status, elapsed time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.jobDuration.WithLabelValues(m.service, string(status)).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) RecordUpload(err error) {
	m.uploadsTotal.WithLabelValues(m.service, outcome(err)).Inc()
}

func (m *PipelineMetrics) RecordIndexRebuild(err error) {
	m.indexesTotal.WithLabelValues(m.service, outcome(err)).Inc()
}

func (m *PipelineMetrics) ObserveBatchDuration(elapsed time.Duration) {
	m.batchDuration.WithLabelValues(m.service).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
