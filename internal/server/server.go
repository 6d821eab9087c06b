// Package server is the chunkcache admin HTTP API.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/chunkcache"
)

// ConfigLoader returns the configuration to apply on POST /config/reload.
type ConfigLoader func() (chunkcache.Config, error)

// Options configures a Server.
type Options struct {
	Version string
	Logger  *slog.Logger
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Reload backs POST /config/reload. Nil disables the endpoint.
	Reload ConfigLoader
}

// Server is the admin HTTP server for one cache.
type Server struct {
	cache   *chunkcache.Cache
	router  chi.Router
	opts    Options
	logger  *slog.Logger
	started time.Time
}

// New creates a Server for c.
func New(c *chunkcache.Cache, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cache:   c,
		opts:    opts,
		logger:  opts.Logger,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/chunks/{world}/{x}/{z}", s.handleInspect)
	r.Delete("/chunks/{world}/{x}/{z}", s.handleUnload)
	r.Post("/passes/{kind}", s.handlePass)
	r.Post("/config/reload", s.handleReload)

	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.opts.Version,
		"uptime":         time.Since(s.started).Seconds(),
		"pressure_level": s.cache.Stats().PressureLevel,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
