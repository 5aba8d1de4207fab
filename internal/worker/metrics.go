package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	pipelineOutputsTotal *prometheus.CounterVec
	taskErrors           *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "imagery", Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "imagery", Name: name, Help: help}, labels)
	}

	m := &metrics{
		registry:  prometheus.NewRegistry(),
		jobsTotal: counterVec("worker_jobs_total", "Worker jobs by source type, image driver and final status.", "source_type", "driver", "status"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagery",
			Name:      "worker_job_duration_seconds",
			Help:      "Processing time per job, from semaphore acquisition to webhook.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagery",
			Name:      "worker_active_jobs",
			Help:      "Jobs currently holding a processing slot.",
		}),
		pipelineOutputsTotal: counterVec("worker_pipeline_outputs_total", "Outputs written, by output format.", "format"),
		taskErrors:           counterVec("worker_task_errors_total", "Failed task attempts; final is true once retries are exhausted.", "type", "final"),
		webhookFailures:      counterVec("worker_webhook_failures_total", "Webhook deliveries that failed after all attempts.", "event"),
		pixelsProcessedTotal: counter("usage_pixels_processed_total", "Output pixels across successful jobs."),
		bytesSavedTotal:      counter("usage_bytes_saved_total", "Source bytes minus output bytes across successful jobs, floored at zero per job."),
		computeTimeMSTotal:   counter("usage_compute_time_ms_total", "Compute milliseconds across successful jobs."),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pipelineOutputsTotal,
		m.taskErrors,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
