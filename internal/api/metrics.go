package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	jobsCreated       *prometheus.CounterVec
	probeTotal        *prometheus.CounterVec
	probedPixels      prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_api_requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rapiddecoder_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_api_rate_limit_rejections_total",
			Help: "API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_queue_jobs_enqueued_total",
			Help: "Render jobs enqueued.",
		}, []string{"queue"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_api_jobs_created_total",
			Help: "Render jobs created, by source type.",
		}, []string{"source_type"}),
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_api_probes_total",
			Help: "Source header probes, by outcome.",
		}, []string{"outcome"}),
		probedPixels: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapiddecoder_api_probed_source_megapixels",
			Help:    "Full source size reported by successful probes.",
			Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 12, 24, 50, 100},
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.jobsCreated,
		m.probeTotal,
		m.probedPixels,
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
		next.ServeHTTP(recorder, r.WithContext(withStatusRecorder(r.Context(), recorder)))

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded by collapsing job IDs.
func routeLabel(r *http.Request) string {
	switch p := r.URL.Path; {
	case p == "/v1/jobs":
		return "/v1/jobs"
	case strings.HasPrefix(p, "/v1/jobs/") && strings.HasSuffix(p, "/start"):
		return "/v1/jobs/{id}/start"
	case p == "/v1/probe", p == "/healthz", p == "/metrics":
		return p
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

type statusRecorderKey struct{}

func withStatusRecorder(ctx context.Context, rec *statusRecorder) context.Context {
	return context.WithValue(ctx, statusRecorderKey{}, rec)
}

// responseStatus reads the status written so far by handlers below
// withHTTPMetrics. Zero means unknown.
func responseStatus(ctx context.Context) int {
	if rec, ok := ctx.Value(statusRecorderKey{}).(*statusRecorder); ok {
		return rec.status
	}
	return 0
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
