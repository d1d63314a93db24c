// Package health exposes liveness, readiness and metrics endpoints for the
// relay daemon.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	checks map[string]Check
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(port int, checks map[string]Check) *Server {
	mux := http.NewServeMux()
	s := &Server{
		checks: checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/healthz", s.handleLive)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			report[name] = err.Error()
			ready = false
		} else {
			report[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
