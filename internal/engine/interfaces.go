package engine

import (
	"context"

	"bandtrader/internal/core"
)

// Status is a point-in-time view of a tenant engine, safe to hand to other goroutines
type Status struct {
	AccountID string
	Phase     string
	Cycles    int64
	Counters  core.SessionCounters
	Positions map[string]core.SymbolState
}

// Engine runs one tenant's trading session.
type Engine interface {
	// Run blocks until the session closes or ctx is cancelled
	Run(ctx context.Context) error
	AccountID() string
	Status() Status
}

// EngineFactory creates an engine instance for a tenant
type EngineFactory interface {
	CreateEngine(spec core.TenantSpec) (Engine, error)
}
