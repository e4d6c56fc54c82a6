package risk

import (
	"context"
	"sync"

	"bandtrader/internal/core"
	"bandtrader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

func (s CircuitState) String() string {
	if s == CircuitOpen {
		return "open"
	}
	return "closed"
}

// IndexSource reports the benchmark index change for the day
type IndexSource interface {
	IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error)
}

// TripFunc is notified when the guard opens after being closed
type TripFunc func(change decimal.Decimal, err error)

type GuardConfig struct {
	AccountID string
	// FloorPercent is the index day change at or below which new buys stop, e.g. -4
	FloorPercent decimal.Decimal
}

// IndexGuard halts new buys for a cycle when the benchmark index is at or
// below the floor. It is evaluated at most once per cycle and only on demand.
// A failed index query counts as a trip.
type IndexGuard struct {
	mu        sync.Mutex
	source    IndexSource
	config    GuardConfig
	logger    core.ILogger
	onTrip    TripFunc
	state     CircuitState
	evaluated bool
	change    decimal.Decimal
}

func NewIndexGuard(source IndexSource, config GuardConfig, logger core.ILogger) *IndexGuard {
	return &IndexGuard{
		source: source,
		config: config,
		logger: logger.WithFields(map[string]interface{}{"component": "index_guard", "account": config.AccountID}),
		state:  CircuitClosed,
	}
}

// OnTrip registers a callback for closed to open transitions
func (g *IndexGuard) OnTrip(fn TripFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTrip = fn
}

// BeginCycle forgets the previous evaluation. The guard is not sticky.
func (g *IndexGuard) BeginCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evaluated = false
}

// BuysHalted queries the index on the first call of a cycle and caches the verdict
func (g *IndexGuard) BuysHalted(ctx context.Context) bool {
	g.mu.Lock()
	if g.evaluated {
		defer g.mu.Unlock()
		return g.state == CircuitOpen
	}
	g.evaluated = true

	prev := g.state
	change, err := g.source.IndexDayChangePercent(ctx)
	switch {
	case err != nil:
		g.state = CircuitOpen
		g.logger.Warn("Index query failed, suppressing buys this cycle", "error", err)
	case change.LessThanOrEqual(g.config.FloorPercent):
		g.state = CircuitOpen
		g.change = change
		g.logger.Warn("Index at or below floor, suppressing buys this cycle",
			"change_pct", change.StringFixed(2), "floor_pct", g.config.FloorPercent.String())
	default:
		g.state = CircuitClosed
		g.change = change
		if prev == CircuitOpen {
			g.logger.Info("Index recovered, buys resumed", "change_pct", change.StringFixed(2))
		}
	}

	halted := g.state == CircuitOpen
	tripped := prev == CircuitClosed && halted
	onTrip := g.onTrip
	g.mu.Unlock()

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(g.config.AccountID, halted)
	if tripped && onTrip != nil {
		onTrip(change, err)
	}
	return halted
}

// State returns the verdict of the last evaluation
func (g *IndexGuard) State() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastChange returns the index change seen by the last successful query
func (g *IndexGuard) LastChange() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.change
}
