// Package httpapi exposes the orchestrator over HTTP: synchronous ask and
// orchestrate endpoints, their asynchronous start/status counterparts, and
// the conversation memory endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lbreton/conduit/internal/config"
	"github.com/lbreton/conduit/internal/jobs"
	"github.com/lbreton/conduit/internal/memory"
	"github.com/lbreton/conduit/internal/metrics"
)

// Server wires the handlers to their backing services.
type Server struct {
	cfg     config.Config
	runner  *jobs.Runner
	queue   *jobs.Queue
	jobs    *jobs.Store
	memory  *memory.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(
	cfg config.Config,
	runner *jobs.Runner,
	queue *jobs.Queue,
	jobStore *jobs.Store,
	mem *memory.Store,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:     cfg,
		runner:  runner,
		queue:   queue,
		jobs:    jobStore,
		memory:  mem,
		metrics: m,
		log:     log,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.handlePing)

		r.Post("/ask", s.handleAsk)
		r.Post("/orchestrate", s.handleOrchestrate)

		r.Post("/ask/start", s.startHandler(jobs.KindAsk))
		r.Post("/orchestrate/start", s.startHandler(jobs.KindOrchestrate))
		r.Get("/ask/status", s.handleStatus)
		r.Get("/orchestrate/status", s.handleStatus)

		r.Get("/mcp-memories", s.handleMemories)
		r.Get("/mcp-memory", s.handleMemory)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{},
	))
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
