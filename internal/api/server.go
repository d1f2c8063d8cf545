// Package api provides the HTTP intake surface for the build server:
// deploy submission (both wire formats), image refresh, and queue status.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sim-publish/buildserver/internal/history"
	"github.com/sim-publish/buildserver/internal/pipeline"
	"github.com/sim-publish/buildserver/internal/queue"
	"github.com/sim-publish/buildserver/internal/worker"
)

// Server is the build server HTTP API.
type Server struct {
	authCode       string
	store          *queue.Store
	history        *history.DB // nil disables the recent-deploys section
	workers        *worker.Queue
	runner         *pipeline.Runner
	metricsEnabled bool
}

// NewServer creates the API server over its collaborators.
func NewServer(authCode string, store *queue.Store, hist *history.DB, workers *worker.Queue, runner *pipeline.Runner) *Server {
	return &Server{
		authCode: authCode,
		store:    store,
		history:  hist,
		workers:  workers,
		runner:   runner,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/deploy-html-simulation", s.handleDeployGet)
	r.Post("/deploy-html-simulation", s.handleDeployPost)
	r.Post("/deploy-images", s.handleDeployImages)
	r.Get("/deploy-status", s.handleStatus)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleStatus renders the queue document plus recent history. Read-only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := s.store.Load()

	var recent []history.Record
	if s.history != nil {
		var err error
		recent, err = s.history.Recent(20)
		if err != nil {
			recent = nil
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":       doc.Queue,
		"currentTask": doc.CurrentTask,
		"recent":      recent,
		"time":        time.Now().UTC().Format(time.RFC1123),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text response.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg + "\n"))
}
