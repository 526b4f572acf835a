// Package health implements the agent's HTTP health/metrics surface
// (SPEC_FULL.md §4.13), built on go-chi/chi/v5 the way dittofs's
// pkg/controlplane/api.NewRouter wires request-id/recover/timeout
// middleware and a /health route group.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrangeas/fieldlog-agent/internal/metrics"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// Status is the coarse process status reported by /health.
type Status int

const (
	StatusRunning Status = iota
	StatusDraining
	StatusFaulted
)

// ComponentDetail is one component's entry in the /health/detail body.
type ComponentDetail struct {
	Name             string    `json:"name"`
	ConnectionState  string    `json:"connectionState"`
	LastUploadAt     time.Time `json:"lastUploadAt,omitempty"`
	QueueDepth       int       `json:"queueDepth"`
	BytesPerSecond   float64   `json:"bytesPerSecond"`
	FlushesByTrigger map[string]int64 `json:"flushesByTrigger"`
}

// Reporter is the narrow slice of supervisor state the health server reads.
// Implemented by the Supervisor; kept as an interface so the server can be
// tested without a live pipeline.
type Reporter interface {
	Status() Status
	Detail() []ComponentDetail
}

// Server is the agent's HTTP health/metrics endpoint, per spec.md §6.
type Server struct {
	reporter Reporter
	metrics  *metrics.Collector
	logger   telemetry.Logger
	httpSrv  *http.Server
}

// New constructs a health Server bound to addr, backed by reporter for
// status/detail and metrics for the /metrics route.
func New(addr string, reporter Reporter, m *metrics.Collector, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.Noop{}
	}
	s := &Server{reporter: reporter, metrics: m, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/health/detail", s.handleHealthDetail)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server stops
// and returns http.ErrServerClosed on a clean Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	switch s.reporter.Status() {
	case StatusFaulted:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.reporter.Detail()); err != nil {
		s.logger.Error("health detail encode failed", map[string]any{"error": err.Error()})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("health request completed", map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}
