package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"fedlearn-hq/arbiter/pkg/compliance"
	"fedlearn-hq/arbiter/pkg/config"
	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/events/archive"
	"fedlearn-hq/arbiter/pkg/policy/engine"
	"fedlearn-hq/arbiter/pkg/policy/store"
	"fedlearn-hq/arbiter/pkg/telemetry/health"
	"fedlearn-hq/arbiter/pkg/telemetry/metrics"
	"fedlearn-hq/arbiter/pkg/trust"
)

// Deps are the subsystems the API surfaces.
type Deps struct {
	Store     *store.Store
	Evaluator *engine.Evaluator
	Tracker   *trust.Tracker
	Reporter  *compliance.Reporter
	Buffer    *events.Buffer
	Archive   *archive.Archive // nil when the archive is disabled
	Checker   *health.Checker
	Registry  *prometheus.Registry // nil when metrics are disabled
}

// Server is the policy service HTTP server.
type Server struct {
	config       *config.ServerConfig
	metricsCfg   *config.MetricsConfig
	deps         Deps
	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates the server. Start must be called to begin serving.
func New(cfg *config.ServerConfig, metricsCfg *config.MetricsConfig, deps Deps) *Server {
	return &Server{
		config:       cfg,
		metricsCfg:   metricsCfg,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until shutdown, which is
// triggered by context cancellation, SIGINT/SIGTERM, or Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting policy service", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	}
}

// Stop requests a graceful shutdown from another goroutine.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

// Shutdown gracefully shuts down the server within the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	slog.Info("policy service stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler builds the routed handler with the middleware chain applied.
// Exposed for httptest-based tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", health.LivenessHandler())
	mux.Handle("GET /health/live", health.LivenessHandler())
	mux.Handle("GET /health/ready", health.ReadinessHandler(s.deps.Checker))
	mux.Handle("GET /ready", health.ReadinessHandler(s.deps.Checker))

	if s.deps.Registry != nil && s.metricsCfg != nil && s.metricsCfg.Enabled {
		mux.Handle("GET "+s.metricsCfg.Path, metrics.Handler(s.deps.Registry))
	}

	// Versioned routes, plus the short forms edge tooling uses.
	mux.HandleFunc("POST /check", s.handleCheck)
	mux.HandleFunc("POST /api/v1/check", s.handleCheck)

	mux.HandleFunc("GET /api/v1/policies", s.handleListPolicies)
	mux.HandleFunc("POST /api/v1/policies", s.handleCreatePolicy)
	mux.HandleFunc("POST /api/v1/policies/load", s.handleLoadPolicies)
	mux.HandleFunc("GET /api/v1/policies/{id}", s.handleGetPolicy)
	mux.HandleFunc("PUT /api/v1/policies/{id}", s.handleUpdatePolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", s.handleDeletePolicy)
	mux.HandleFunc("POST /api/v1/policies/{id}/enable", s.handleEnablePolicy)
	mux.HandleFunc("POST /api/v1/policies/{id}/disable", s.handleDisablePolicy)

	mux.HandleFunc("GET /trust/scores", s.handleListTrust)
	mux.HandleFunc("POST /trust/scores/{subject}", s.handleUpdateTrust)
	mux.HandleFunc("GET /api/v1/trust", s.handleListTrust)
	mux.HandleFunc("GET /api/v1/trust/{subject}", s.handleGetTrust)
	mux.HandleFunc("POST /api/v1/trust/{subject}", s.handleUpdateTrust)
	mux.HandleFunc("DELETE /api/v1/trust/{subject}", s.handleResetTrust)

	mux.HandleFunc("GET /events", s.handleQueryEvents)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	mux.HandleFunc("GET /api/v1/events", s.handleQueryEvents)
	mux.HandleFunc("POST /api/v1/events/batch", s.handleEventBatch)
	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)

	mux.HandleFunc("GET /compliance/status", s.handleComplianceStatus)
	mux.HandleFunc("GET /compliance/violations", s.handleViolations)
	mux.HandleFunc("GET /api/v1/compliance/status", s.handleComplianceStatus)
	mux.HandleFunc("GET /api/v1/compliance/violations", s.handleViolations)

	var handler http.Handler = mux
	handler = requestIDMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	return handler
}
