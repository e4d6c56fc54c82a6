// Package core defines the core interfaces for the band trading system
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IBroker defines the brokerage operations the engine depends on.
// Implementations must be safe for concurrent use by several tenants.
type IBroker interface {
	// Identity
	Name() string

	// Order operations
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*OrderStatusReport, error)

	// Market data
	LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error)
	IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error)
}

// IOrderExecutor wraps a broker with pacing, per-call timeouts and retries.
// The engine and reconciler talk to the broker only through it.
type IOrderExecutor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*OrderStatusReport, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error)
}

// IStateStore persists per-symbol state and session summaries
type IStateStore interface {
	// LoadSymbolState returns nil, nil when the symbol has no stored state.
	LoadSymbolState(ctx context.Context, accountID, symbol string) (*SymbolState, error)
	SaveSymbolState(ctx context.Context, accountID string, state *SymbolState) error

	AppendSessionSummary(ctx context.Context, summary *SessionSummary) error
	ListSessionSummaries(ctx context.Context, accountID string) ([]*SessionSummary, error)

	// ListTrackedSymbols returns symbols in the order they were first tracked.
	ListTrackedSymbols(ctx context.Context, accountID string) ([]string, error)
	TrackSymbol(ctx context.Context, accountID, symbol string) error
}

// ITokenStore keeps the broker access token of each account
type ITokenStore interface {
	LoadAccessToken(ctx context.Context, accountID string) (string, error)
	SaveAccessToken(ctx context.Context, accountID, token string) error
}

// ISessionProvider hands out an already-valid bearer token for an account
type ISessionProvider interface {
	CurrentBearerToken(ctx context.Context, accountID string) (string, error)
}

// IStatePersister saves symbol state, absorbing transient store failures
type IStatePersister interface {
	Persist(ctx context.Context, accountID string, state *SymbolState) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
