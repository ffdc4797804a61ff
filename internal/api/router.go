package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthTimeout bounds the InfluxDB ping made by the health endpoint.
const healthTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	if s.wsCfg.Path != "" {
		r.Get(s.wsCfg.Path, s.handleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/query", func(r chi.Router) {
			r.Post("/", s.handleQuery)
			r.Post("/raw", s.handleQueryRaw)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Use(s.requireSnapshots)
			r.Get("/", s.handleListSnapshots)
			r.Post("/", s.handleCreateSnapshot)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSnapshot)
				r.Delete("/", s.handleDeleteSnapshot)
				r.Get("/tables", s.handleSnapshotTables)
			})
		})
	})

	return r
}

// handleHealth reports the server status and whether InfluxDB answers /ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	influx := "ok"
	if err := s.query.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		influx = err.Error()
	}

	body := map[string]any{
		"status":   "ok",
		"version":  s.version,
		"influxdb": influx,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
