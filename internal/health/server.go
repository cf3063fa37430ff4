// Package health exposes the liveness, readiness, and metrics surface
// used by orchestrator probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is the JSON payload served at /metrics.
type Metrics struct {
	Mode               string `json:"mode"`
	ProgramID          string `json:"programId"`
	BatchSize          int    `json:"batchSize"`
	Concurrency        int    `json:"concurrency"`
	RetryAttempts      int    `json:"retryAttempts"`
	TargetTransactions int64  `json:"targetTransactions"`
}

// Server is the admin HTTP surface.
type Server struct {
	server *http.Server
	log    zerolog.Logger

	ready atomic.Bool

	mu      sync.RWMutex
	metrics Metrics
}

// NewServer builds the server with its routes mounted.
func NewServer(port int, initial Metrics, log zerolog.Logger) *Server {
	s := &Server{log: log, metrics: initial}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Handle("/metrics/prometheus", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("health server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("health server error")
		}
	}()
}

// SetReady flips the readiness gate.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetMode updates the reported producer mode.
func (s *Server) SetMode(mode string) {
	s.mu.Lock()
	s.metrics.Mode = mode
	s.mu.Unlock()
}

// Shutdown drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
