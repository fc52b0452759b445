// Package server exposes an HTTP trigger so an external scheduler can start runs.
package server

import (
	"arxiv-notifier/metrics"
	"arxiv-notifier/poll"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Poller runs one check.
type Poller interface {
	Run(ctx context.Context) (*poll.Result, error)
}

// Server handles HTTP requests.
type Server struct {
	router chi.Router
	poller Poller
	logger *slog.Logger

	// runMu keeps at most one run in flight in this process.
	runMu sync.Mutex
}

// New creates a new HTTP server handler.
func New(poller Poller, logger *slog.Logger) *Server {
	s := &Server{
		poller: poller,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/pollz", s.handlePoll)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // a run can take a fetch timeout plus an SMTP timeout
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !s.runMu.TryLock() {
		s.logger.Warn("Poll endpoint triggered while a run is in progress")
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
		return
	}
	defer s.runMu.Unlock()

	s.logger.Info("Poll endpoint triggered")

	res, err := s.poller.Run(r.Context())
	if err != nil {
		s.logger.Error("Poll check failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failed", "error": err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
