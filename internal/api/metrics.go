package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var requestLabels = []string{"method", "route", "status"}

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	rateLimitErrors   prometheus.Counter
	jobsCreated       *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	inspectBytes      *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, requestLabels),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, requestLabels),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests answered with 429.",
		}, []string{"route"}),
		rateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "rate_limit_errors_total",
			Help:      "Limiter backend failures; the request is let through.",
		}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "jobs_created_total",
			Help:      "Jobs created, by source type.",
		}, []string{"source_type"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagery",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs handed to the processing queue.",
		}, []string{"queue"}),
		inspectBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagery",
			Subsystem: "api",
			Name:      "inspect_body_bytes",
			Help:      "Size of bodies posted to the inspect endpoint, by detected format.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 9),
		}, []string{"format"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.rateLimitErrors,
		m.jobsCreated,
		m.queueEnqueued,
		m.inspectBytes,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  routeLabel(r.URL.Path),
			"status": strconv.Itoa(recorder.status),
		}
		m.requestTotal.With(labels).Inc()
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses request paths onto the registered route patterns so
// job ids never become label values.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/jobs/"); ok && rest != "" {
		if strings.HasSuffix(rest, "/start") {
			return "/v1/jobs/{id}/start"
		}
		return "/v1/jobs/{id}"
	}
	switch path {
	case "/v1/jobs", "/v1/inspect", "/v1/plan", "/v1/usage", "/v1/drivers", "/healthz", "/metrics":
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
