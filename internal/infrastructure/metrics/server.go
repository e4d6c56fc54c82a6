// Package metrics serves Prometheus metrics, health and tenant status over HTTP
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bandtrader/internal/core"
	"bandtrader/internal/engine"
	"bandtrader/internal/infrastructure/health"
	"bandtrader/internal/trading/orchestrator"
	"bandtrader/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TenantSource exposes the tenant registry and live engine status
type TenantSource interface {
	Registry() *orchestrator.Registry
	EngineStatus(accountID string) (engine.Status, bool)
}

// Server handles Prometheus metrics export and the status endpoints
type Server struct {
	port    int
	logger  core.ILogger
	health  *health.HealthManager
	tenants TenantSource
	srv     *http.Server
}

// TenantStatus is one row of the /tenants response
type TenantStatus struct {
	orchestrator.RegistryEntry
	CircuitBreakerOpen bool           `json:"circuit_breaker_open"`
	Engine             *engine.Status `json:"engine,omitempty"`
}

// NewServer creates a new metrics server
func NewServer(port int, hm *health.HealthManager, tenants TenantSource, logger core.ILogger) *Server {
	return &Server{
		port:    port,
		logger:  logger.WithField("component", "metrics_server"),
		health:  hm,
		tenants: tenants,
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tenants", s.handleTenants)
	return mux
}

// Run serves until ctx is cancelled, then shuts the listener down
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":          "ok",
		"time":            time.Now(),
		"tenants_running": telemetry.GetGlobalMetrics().GetTenantsRunning(),
	}
	code := http.StatusOK
	if s.health != nil {
		components := s.health.GetStatus(r.Context())
		body["components"] = components
		for _, c := range components {
			if !c.Healthy {
				body["status"] = "unhealthy"
				code = http.StatusServiceUnavailable
				break
			}
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	if s.tenants == nil {
		writeJSON(w, http.StatusOK, []TenantStatus{})
		return
	}
	metrics := telemetry.GetGlobalMetrics()
	entries := s.tenants.Registry().List()
	out := make([]TenantStatus, 0, len(entries))
	for _, e := range entries {
		ts := TenantStatus{
			RegistryEntry:      e,
			CircuitBreakerOpen: metrics.IsCircuitBreakerOpen(e.AccountID),
		}
		if st, ok := s.tenants.EngineStatus(e.AccountID); ok {
			ts.Engine = &st
		}
		out = append(out, ts)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
