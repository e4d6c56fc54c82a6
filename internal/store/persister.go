package store

import (
	"context"
	"errors"
	"time"

	"bandtrader/internal/core"
	"bandtrader/pkg/retry"
)

// Persister saves symbol state with a bounded fixed-delay retry
type Persister struct {
	store  core.IStateStore
	policy retry.RetryPolicy
	logger core.ILogger
}

// NewPersister creates a persister that tries attempts times, delay apart
func NewPersister(store core.IStateStore, attempts int, delay time.Duration, logger core.ILogger) *Persister {
	return &Persister{
		store:  store,
		policy: retry.Fixed(attempts, delay),
		logger: logger.WithField("component", "persister"),
	}
}

// Persist writes a snapshot of state. The caller keeps ownership of state.
func (p *Persister) Persist(ctx context.Context, accountID string, state *core.SymbolState) error {
	snapshot := state.Clone()
	err := retry.Do(ctx, p.policy, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}, func(ctx context.Context) error {
		return p.store.SaveSymbolState(ctx, accountID, snapshot)
	})
	if err != nil {
		p.logger.Error("Failed to persist symbol state",
			"account", accountID, "symbol", state.Symbol, "lots", state.Lots,
			"base", state.BasePrice.String(), "error", err)
	}
	return err
}
