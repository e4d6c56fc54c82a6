// Package health aggregates component health for the status endpoint
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"bandtrader/internal/core"
)

// Check reports a component's health; a nil error means healthy
type Check func(ctx context.Context) error

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger  core.ILogger
	timeout time.Duration
	mu      sync.RWMutex
	checks  map[string]Check
}

// ComponentStatus is the result of one check
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		timeout: 2 * time.Second,
		checks:  make(map[string]Check),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check Check) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus runs every check and returns the results sorted by component name
func (hm *HealthManager) GetStatus(ctx context.Context) []ComponentStatus {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	checks := make(map[string]Check, len(hm.checks))
	for name, c := range hm.checks {
		names = append(names, name)
		checks[name] = c
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	out := make([]ComponentStatus, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, hm.timeout)
		err := checks[name](cctx)
		cancel()

		st := ComponentStatus{Name: name, Healthy: err == nil}
		if err != nil {
			st.Error = err.Error()
			if hm.logger != nil {
				hm.logger.Warn("Health check failed", "check", name, "error", err)
			}
		}
		out = append(out, st)
	}
	return out
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	for _, st := range hm.GetStatus(ctx) {
		if !st.Healthy {
			return false
		}
	}
	return true
}
