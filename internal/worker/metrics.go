package worker

import (
	"image"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	pipelineOutputsTotal prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter

	decodeSampleSize prometheus.Histogram
	decodeLockWait   prometheus.Histogram
	decodeDuration   *prometheus.HistogramVec
	resizeDuration   prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rapiddecoder_worker_jobs_total",
			Help: "Render jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rapiddecoder_worker_job_duration_seconds",
			Help:    "End-to-end duration of each render job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rapiddecoder_worker_active_jobs",
			Help: "Render jobs currently holding a worker slot.",
		}),
		pipelineOutputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rapiddecoder_worker_pipeline_outputs_total",
			Help: "Outputs emitted by successful jobs.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rapiddecoder_usage_pixels_processed_total",
			Help: "Output pixels across successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rapiddecoder_usage_bytes_saved_total",
			Help: "Source bytes minus output bytes across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rapiddecoder_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
		decodeSampleSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapiddecoder_decode_sample_size",
			Help:    "Power-of-two sample size chosen per scaled decode.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		decodeLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapiddecoder_decode_lock_wait_seconds",
			Help:    "Time spent waiting for a source's decode lock.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rapiddecoder_decode_duration_seconds",
			Help:    "Raw decode time with the source lock held.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		resizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapiddecoder_resize_duration_seconds",
			Help:    "Final exact resize time, outside the source lock.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pipelineOutputsTotal,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
		m.decodeSampleSize,
		m.decodeLockWait,
		m.decodeDuration,
		m.resizeDuration,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// decoderTrace feeds decode hooks into the histograms and counts decoded
// pixels into pixels. Steps of one job decode concurrently, so hooks only
// touch concurrency-safe state.
func (m *metrics) decoderTrace(pixels *atomic.Int64) *decoder.Trace {
	return &decoder.Trace{
		SampleSize: func(sample int) {
			m.decodeSampleSize.Observe(float64(sample))
		},
		LockAcquired: func(wait time.Duration) {
			m.decodeLockWait.Observe(wait.Seconds())
		},
		Decoded: func(size image.Point, took time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.decodeDuration.WithLabelValues(outcome).Observe(took.Seconds())
			if err == nil && pixels != nil {
				pixels.Add(int64(size.X) * int64(size.Y))
			}
		},
		Resized: func(_, _ image.Point, took time.Duration) {
			m.resizeDuration.Observe(took.Seconds())
		},
	}
}
