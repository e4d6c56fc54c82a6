// Package backtest replays a price tape through a band engine on a simulated clock
package backtest

import (
	"context"
	"fmt"
	"time"

	"bandtrader/internal/core"
	"bandtrader/internal/engine/band"
	"bandtrader/internal/engine/session"
	"bandtrader/internal/store"
	"bandtrader/pkg/retry"
)

// Result is what a replayed session produced
type Result struct {
	Summary   *core.SessionSummary
	Cycles    int64
	Orders    int
	Positions map[string]core.SymbolState
}

type BacktestRunner struct {
	cfg    band.FactoryConfig
	logger core.ILogger
}

// NewBacktestRunner uses cfg for strategy limits and the session calendar.
// Pacing and retry delays are replaced so a replay runs at full speed.
func NewBacktestRunner(cfg band.FactoryConfig, logger core.ILogger) *BacktestRunner {
	cfg.Executor.RatePerSecond = 1e6
	cfg.Executor.Burst = 1000
	cfg.Executor.Retry = retry.Fixed(1, 0)
	cfg.PersistDelay = 0
	return &BacktestRunner{cfg: cfg, logger: logger.WithField("component", "backtest")}
}

// Run replays tape as one session on day, starting at the session open.
// The session is shortened to exactly one cycle per tape step.
func (r *BacktestRunner) Run(ctx context.Context, spec core.TenantSpec, tape Tape, day time.Time) (*Result, error) {
	if err := tape.Validate(); err != nil {
		return nil, err
	}
	for _, e := range spec.Basket {
		if _, ok := tape.Prices[e.Symbol]; !ok {
			return nil, fmt.Errorf("tape has no prices for basket symbol %s", e.Symbol)
		}
	}

	cfg := r.cfg
	steps := time.Duration(tape.Len())
	cfg.Session.Close = cfg.Session.Open + cfg.Session.SettleDelay + steps*cfg.Session.CycleInterval
	if cfg.Session.Close >= 24*time.Hour {
		return nil, fmt.Errorf("tape of %d steps does not fit in one day at %s per cycle", tape.Len(), cfg.Session.CycleInterval)
	}

	probe := session.NewScheduler(cfg.Session, nil, r.logger)
	if !probe.IsTradingDay(day) {
		return nil, fmt.Errorf("%s is not a trading day", probe.SessionDate(day))
	}

	exch := NewSimulatedExchange(tape)
	clock := session.NewFakeClock(probe.OpenAt(day))
	clock.OnSleep = func(time.Time) { exch.Advance() }

	var summary *core.SessionSummary
	factory := band.NewFactory(func(core.TenantSpec) (core.IBroker, error) { return exch, nil },
		store.NewMemoryStore(), cfg, r.logger).
		WithClock(clock).
		WithSummaryHook(func(s *core.SessionSummary) { summary = s })

	eng, err := factory.CreateEngine(spec)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Replaying session", "account", spec.AccountID, "steps", tape.Len(), "date", probe.SessionDate(day))
	if err := eng.Run(ctx); err != nil {
		return nil, err
	}

	status := eng.Status()
	return &Result{
		Summary:   summary,
		Cycles:    status.Cycles,
		Orders:    len(exch.Orders()),
		Positions: status.Positions,
	}, nil
}
