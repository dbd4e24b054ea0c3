// Package api exposes the HTTP interface for the novelgraph service.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/narrately/novelgraph/internal/chunklog"
	"github.com/narrately/novelgraph/internal/config"
	"github.com/narrately/novelgraph/internal/dispatcher"
	"github.com/narrately/novelgraph/internal/metrics"
	"github.com/narrately/novelgraph/internal/novel"
	"github.com/narrately/novelgraph/internal/ratelimit"
	"github.com/narrately/novelgraph/internal/stream"
)

// Server wires HTTP handlers to the dispatcher, stores, and the stream
// distribution subsystem.
type Server struct {
	router     chi.Router
	jobStore   novel.JobStore
	blobStore  novel.BlobStore
	dispatcher *dispatcher.Dispatcher
	chunkLog   chunklog.Log
	bus        *stream.Bus
	registry   *stream.Registry
	hasher     novel.Hasher
	idGen      novel.IDGenerator
	clock      novel.Clock
	uploads    *ratelimit.Limiter
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore novel.JobStore,
	blobStore novel.BlobStore,
	dispatcher *dispatcher.Dispatcher,
	chunkLog chunklog.Log,
	bus *stream.Bus,
	registry *stream.Registry,
	hasher novel.Hasher,
	idGen novel.IDGenerator,
	clock novel.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		blobStore:  blobStore,
		dispatcher: dispatcher,
		chunkLog:   chunkLog,
		bus:        bus,
		registry:   registry,
		hasher:     hasher,
		idGen:      idGen,
		clock:      clock,
		uploads:    ratelimit.New(ratelimit.Config{RPS: cfg.Server.UploadRPS, Burst: cfg.Server.UploadBurst}),
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The stream route stays outside the timeout group:
		// http.TimeoutHandler buffers writes and would break SSE delivery.
		r.Get("/jobs/{job_id}/events", s.streamJobEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			r.With(s.uploadLimitMiddleware).Post("/novels", s.uploadNovel)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// uploadLimitMiddleware throttles manuscript uploads per client address.
func (s *Server) uploadLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.uploads.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes so the SSE handler works behind the logging
// middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
