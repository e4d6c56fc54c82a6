package band

import (
	"fmt"
	"time"

	"bandtrader/internal/core"
	"bandtrader/internal/engine"
	"bandtrader/internal/engine/session"
	"bandtrader/internal/risk"
	"bandtrader/internal/store"
	"bandtrader/internal/trading/grid"
	"bandtrader/internal/trading/order"
	"bandtrader/pkg/retry"

	"github.com/shopspring/decimal"
)

// BrokerFunc returns the broker adapter for an account
type BrokerFunc func(spec core.TenantSpec) (core.IBroker, error)

// FactoryConfig holds the settings shared by every tenant
type FactoryConfig struct {
	MaxLots           int
	MaxBuyTrades      int
	IndexFloorPercent decimal.Decimal
	ProfitPerStep     decimal.Decimal
	PersistAttempts   int
	PersistDelay      time.Duration

	// Executor settings; AccountID and Exchange are filled per tenant
	Executor order.Options
	Session  session.Config
}

// DefaultFactoryConfig mirrors the configuration defaults
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		MaxLots:           5,
		MaxBuyTrades:      50,
		IndexFloorPercent: decimal.NewFromInt(-4),
		ProfitPerStep:     decimal.NewFromInt(40),
		PersistAttempts:   3,
		PersistDelay:      500 * time.Millisecond,
		Executor:          order.DefaultOptions("", ""),
		Session:           session.DefaultConfig(),
	}
}

// Factory implements engine.EngineFactory for band engines
type Factory struct {
	brokers   BrokerFunc
	store     core.IStateStore
	cfg       FactoryConfig
	clocks    func(accountID string) session.Clock
	logger    core.ILogger
	onSummary SummaryFunc
	onTrip    func(accountID string) risk.TripFunc
}

var _ engine.EngineFactory = (*Factory)(nil)

func NewFactory(brokers BrokerFunc, st core.IStateStore, cfg FactoryConfig, logger core.ILogger) *Factory {
	return &Factory{
		brokers: brokers,
		store:   st,
		cfg:     cfg,
		clocks:  func(string) session.Clock { return session.RealClock() },
		logger:  logger,
	}
}

// WithClock replaces the wall clock, for tests and replays
func (f *Factory) WithClock(c session.Clock) *Factory {
	return f.WithClocks(func(string) session.Clock { return c })
}

// WithClocks gives every account its own clock
func (f *Factory) WithClocks(fn func(accountID string) session.Clock) *Factory {
	f.clocks = fn
	return f
}

// WithSummaryHook sets the callback every engine reports its summary to
func (f *Factory) WithSummaryHook(fn SummaryFunc) *Factory {
	f.onSummary = fn
	return f
}

// WithTripHook sets the per-account callback for index guard trips
func (f *Factory) WithTripHook(fn func(accountID string) risk.TripFunc) *Factory {
	f.onTrip = fn
	return f
}

func (f *Factory) CreateEngine(spec core.TenantSpec) (engine.Engine, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	broker, err := f.brokers(spec)
	if err != nil {
		return nil, fmt.Errorf("broker for %s: %w", spec.AccountID, err)
	}

	opts := f.cfg.Executor
	opts.AccountID = spec.AccountID
	opts.Exchange = spec.Exchange
	executor := order.NewOrderExecutor(broker, opts, f.logger)

	persister := store.NewPersister(f.store, f.cfg.PersistAttempts, f.cfg.PersistDelay, f.logger)

	guard := risk.NewIndexGuard(executor, risk.GuardConfig{
		AccountID:    spec.AccountID,
		FloorPercent: f.cfg.IndexFloorPercent,
	}, f.logger)
	if f.onTrip != nil {
		guard.OnTrip(f.onTrip(spec.AccountID))
	}

	e, err := NewBandEngine(spec, Deps{
		Executor:  executor,
		Store:     f.store,
		Persister: persister,
		Strategy: grid.NewGridStrategy(grid.StrategyConfig{
			PercentBand:  spec.PercentBand,
			MaxLots:      f.cfg.MaxLots,
			MaxBuyTrades: f.cfg.MaxBuyTrades,
		}),
		Reconciler: risk.NewReconciler(executor, persister, risk.ReconcilerConfig{MaxLots: f.cfg.MaxLots}, f.logger),
		Guard:      guard,
		Scheduler:  session.NewScheduler(f.cfg.Session, f.clocks(spec.AccountID), f.logger.WithField("account", spec.AccountID)),
		Logger:     f.logger,
	}, Config{
		ProfitPerStep: f.cfg.ProfitPerStep,
		SummaryRetry:  retry.Fixed(f.cfg.PersistAttempts, f.cfg.PersistDelay),
	})
	if err != nil {
		return nil, err
	}
	e.OnSummary(f.onSummary)
	return e, nil
}
