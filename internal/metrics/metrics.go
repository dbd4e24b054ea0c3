// Package metrics exposes Prometheus collectors for the novelgraph service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chunksAppendedTotal        *prometheus.CounterVec
	streamConnections          prometheus.Gauge
	streamReplayedChunksTotal  prometheus.Counter
	streamLiveChunksTotal      prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		chunksAppendedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelgraph_chunks_appended_total",
				Help: "Total progress chunks durably appended, labeled by chunk type.",
			},
			[]string{"type"},
		)
		streamConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "novelgraph_stream_connections",
				Help: "Currently open progress stream connections.",
			},
		)
		streamReplayedChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "novelgraph_stream_replayed_chunks_total",
				Help: "Chunks delivered from the log during replay.",
			},
		)
		streamLiveChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "novelgraph_stream_live_chunks_total",
				Help: "Chunks delivered live after the replay handoff.",
			},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novelgraph_jobs_total",
				Help: "Extraction jobs observed, labeled by terminal status.",
			},
			[]string{"status"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChunkAppended records one durable append of the given chunk type.
func ObserveChunkAppended(chunkType string) {
	if chunksAppendedTotal != nil {
		chunksAppendedTotal.WithLabelValues(chunkType).Inc()
	}
}

// StreamOpened and StreamClosed track the open-connection gauge.
func StreamOpened() {
	if streamConnections != nil {
		streamConnections.Inc()
	}
}

// StreamClosed decrements the open-connection gauge.
func StreamClosed() {
	if streamConnections != nil {
		streamConnections.Dec()
	}
}

// ObserveReplayedChunks counts n chunks delivered during replay.
func ObserveReplayedChunks(n int) {
	if streamReplayedChunksTotal != nil {
		streamReplayedChunksTotal.Add(float64(n))
	}
}

// ObserveLiveChunk counts one chunk delivered from live fan-out.
func ObserveLiveChunk() {
	if streamLiveChunksTotal != nil {
		streamLiveChunksTotal.Inc()
	}
}

// ObserveJob records one job reaching a terminal status.
func ObserveJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// Middleware records HTTP request metrics for every route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		}
		if httpRequestDurationSeconds != nil {
			httpRequestDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes so streaming responses keep working behind the
// middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
