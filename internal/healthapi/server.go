// Package healthapi adapts the teacher's observability.Server
// (internal/observability/observability.go) health/ready/live + metrics
// HTTP surface verbatim in shape, unchanged in endpoint set.
package healthapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts /healthz, /readyz, /livez and /metrics on one listener.
type Server struct {
	addr   string
	logger *slog.Logger
	srv    *http.Server

	mu        sync.RWMutex
	healthy   bool
	ready     bool
	startTime time.Time
}

// New returns a Server bound to addr (e.g. "127.0.0.1:9109").
func New(addr string, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		logger:    logger.With("component", "healthapi"),
		healthy:   true,
		ready:     false,
		startTime: time.Now(),
	}
}

// Start launches the HTTP server in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)

	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.logger.Info("health/metrics server started", "address", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health/metrics server error", "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthy := s.healthy
	s.mu.RUnlock()
	if healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status": "healthy"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status": "unhealthy"}`)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if ready {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status": "ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status": "not ready"}`)
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status": "alive", "uptime_seconds": %.0f}`+"\n", uptime)
}

// SetHealthy sets the health status.
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// SetReady sets the readiness status.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
