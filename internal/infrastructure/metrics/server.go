// Package metrics exposes the Prometheus scrape endpoint and health probes.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"options_engine/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles Prometheus metrics export and the health endpoint.
type Server struct {
	port   int
	health core.IHealthMonitor
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates a new metrics server. health may be nil, in which case
// /healthz always reports ok.
func NewServer(port int, health core.IHealthMonitor, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting Prometheus metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
		return
	}

	status := s.health.GetStatus()
	if s.health.IsHealthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
