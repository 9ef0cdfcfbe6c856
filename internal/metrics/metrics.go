// Package metrics exposes Prometheus instrumentation for the API and worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DocumentsUploadedTotal prometheus.Counter
	UploadBytes            prometheus.Histogram

	JobsEnqueuedTotal *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicdocs_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicdocs_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DocumentsUploadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clinicdocs_documents_uploaded_total",
				Help: "Total number of uploaded documents",
			},
		),
		UploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clinicdocs_upload_size_bytes",
				Help:    "Uploaded document size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicdocs_jobs_enqueued_total",
				Help: "Total number of queued background jobs",
			},
			[]string{"type", "status"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicdocs_jobs_total",
				Help: "Total number of executed background jobs",
			},
			[]string{"type", "result"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicdocs_job_duration_seconds",
				Help:    "Background job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DocumentsUploadedTotal,
		m.UploadBytes,
		m.JobsEnqueuedTotal,
		m.JobsTotal,
		m.JobDuration,
	)

	return m
}

// ObserveUpload records one stored upload. Safe on a nil receiver.
func (m *Metrics) ObserveUpload(size int64) {
	if m == nil {
		return
	}
	m.DocumentsUploadedTotal.Inc()
	m.UploadBytes.Observe(float64(size))
}

// ObserveEnqueue records a queue attempt. Safe on a nil receiver.
func (m *Metrics) ObserveEnqueue(taskType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobsEnqueuedTotal.WithLabelValues(taskType, status).Inc()
}

// ObserveJob records a finished job run. Safe on a nil receiver.
func (m *Metrics) ObserveJob(taskType, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(taskType, result).Inc()
	m.JobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests. Routes are labelled with the chi route
// pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
