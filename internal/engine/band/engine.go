// Package band implements the per-tenant percentage-band trading engine
package band

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bandtrader/internal/core"
	"bandtrader/internal/engine"
	"bandtrader/internal/engine/session"
	"bandtrader/internal/risk"
	"bandtrader/internal/trading/grid"
	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/retry"
	"bandtrader/pkg/telemetry"
	"bandtrader/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SummaryFunc is notified after the session summary is recorded
type SummaryFunc func(summary *core.SessionSummary)

// Deps are the collaborators of one engine
type Deps struct {
	Executor   core.IOrderExecutor
	Store      core.IStateStore
	Persister  core.IStatePersister
	Strategy   *grid.GridStrategy
	Reconciler *risk.Reconciler
	Guard      *risk.IndexGuard
	Scheduler  *session.Scheduler
	Logger     core.ILogger
}

type Config struct {
	ProfitPerStep decimal.Decimal
	// SummaryRetry bounds attempts to append the session summary
	SummaryRetry retry.RetryPolicy
}

// BandEngine implements engine.Engine for one account. All trading state
// lives in its AccountContext and is touched only by the Run goroutine.
type BandEngine struct {
	acct       *core.AccountContext
	executor   core.IOrderExecutor
	store      core.IStateStore
	persister  core.IStatePersister
	strategy   *grid.GridStrategy
	reconciler *risk.Reconciler
	guard      *risk.IndexGuard
	scheduler  *session.Scheduler
	logger     core.ILogger
	cfg        Config
	onSummary  SummaryFunc

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder

	cycle          int64
	summaryWritten bool
	buyCapLogged   bool

	mu     sync.RWMutex
	status engine.Status
}

var _ engine.Engine = (*BandEngine)(nil)

func NewBandEngine(spec core.TenantSpec, deps Deps, cfg Config) (*BandEngine, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	acct := core.NewAccountContext(spec)
	e := &BandEngine{
		acct:       acct,
		executor:   deps.Executor,
		store:      deps.Store,
		persister:  deps.Persister,
		strategy:   deps.Strategy,
		reconciler: deps.Reconciler,
		guard:      deps.Guard,
		scheduler:  deps.Scheduler,
		logger:     deps.Logger.WithFields(map[string]interface{}{"component": "band_engine", "account": spec.AccountID}),
		cfg:        cfg,
		tracer:     telemetry.GetTracer("band-engine"),
		metrics:    telemetry.GetGlobalMetrics(),
	}
	e.status = engine.Status{AccountID: spec.AccountID, Phase: session.PhaseWaiting.String()}
	return e, nil
}

// OnSummary registers a callback for the recorded session summary
func (e *BandEngine) OnSummary(fn SummaryFunc) {
	e.onSummary = fn
}

func (e *BandEngine) AccountID() string {
	return e.acct.AccountID
}

// Status returns the snapshot published at the end of the last step
func (e *BandEngine) Status() engine.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.status
	st.Phase = e.scheduler.Phase().String()
	st.Positions = make(map[string]core.SymbolState, len(e.status.Positions))
	for k, v := range e.status.Positions {
		st.Positions[k] = v
	}
	return st
}

func (e *BandEngine) publish() {
	positions := make(map[string]core.SymbolState, len(e.acct.States))
	for sym, st := range e.acct.States {
		positions[sym] = *st.Clone()
	}
	e.mu.Lock()
	e.status.Cycles = e.cycle
	e.status.Counters = e.acct.Counters
	e.status.Positions = positions
	e.mu.Unlock()
}

// Run hydrates state and drives today's session
func (e *BandEngine) Run(ctx context.Context) error {
	e.logger.Info("Starting band engine",
		"exchange", e.acct.Exchange,
		"band_pct", e.acct.PercentBand.String(),
		"symbols", len(e.acct.Basket))

	if err := e.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate %s: %w", e.acct.AccountID, err)
	}

	err := e.scheduler.Run(ctx, e)
	e.publish()
	e.logger.Info("Band engine finished", "phase", e.scheduler.Phase().String(), "cycles", e.cycle)
	return err
}

// Hydrate fixes the symbol order and loads persisted state. Symbols without
// state are seeded lazily from the live price on their first step.
func (e *BandEngine) Hydrate(ctx context.Context) error {
	tracked, err := e.store.ListTrackedSymbols(ctx, e.acct.AccountID)
	if err != nil {
		return fmt.Errorf("list tracked symbols: %w", err)
	}

	seen := make(map[string]bool, len(tracked))
	order := make([]string, 0, len(e.acct.Basket))
	for _, sym := range tracked {
		if _, ok := e.acct.Basket[sym]; !ok {
			e.logger.Info("Tracked symbol not in basket, skipping", "symbol", sym)
			continue
		}
		seen[sym] = true
		order = append(order, sym)
	}
	for _, sym := range e.acct.BasketOrder {
		if seen[sym] {
			continue
		}
		if err := e.store.TrackSymbol(ctx, e.acct.AccountID, sym); err != nil {
			return fmt.Errorf("track %s: %w", sym, err)
		}
		order = append(order, sym)
	}
	e.acct.Order = order

	for _, sym := range order {
		st, err := e.store.LoadSymbolState(ctx, e.acct.AccountID, sym)
		if err != nil {
			return fmt.Errorf("load %s: %w", sym, err)
		}
		if st == nil {
			continue
		}
		e.acct.States[sym] = st
		e.metrics.SetPosition(e.acct.AccountID, sym, int64(st.Lots), st.BasePrice.InexactFloat64())
		if st.PendingOrder != nil {
			e.logger.Info("Restored pending order", "symbol", sym, "order_id", st.PendingOrder.OrderID)
		}
	}
	e.logger.Info("State hydrated", "symbols", len(order), "restored", len(e.acct.States))
	e.publish()
	return nil
}

// Cycle runs reconcile then decide over every symbol. A cancelled ctx stops
// the pass between symbols; the symbol in progress completes.
func (e *BandEngine) Cycle(ctx context.Context) error {
	e.cycle++
	start := time.Now()
	work := context.WithoutCancel(ctx)
	work, span := e.tracer.Start(work, "Cycle", trace.WithAttributes(
		attribute.String("account", e.acct.AccountID),
		attribute.Int64("cycle", e.cycle),
	))
	defer span.End()

	e.guard.BeginCycle()
	e.buyCapLogged = false

	for _, sym := range e.acct.Order {
		if ctx.Err() != nil {
			e.publish()
			return nil
		}
		e.reconcile(work, sym)
	}
	for _, sym := range e.acct.Order {
		if ctx.Err() != nil {
			e.publish()
			return nil
		}
		e.decide(work, sym)
	}

	e.publish()
	e.metrics.RecordCycle(work, e.acct.AccountID, time.Since(start).Seconds())
	return nil
}

func (e *BandEngine) reconcile(ctx context.Context, sym string) {
	st := e.acct.States[sym]
	if st == nil || st.PendingOrder == nil {
		return
	}
	if _, err := e.reconciler.Reconcile(ctx, e.acct, sym); err != nil {
		e.logger.Warn("Reconciliation deferred to next cycle", "symbol", sym, "error", err)
	}
}

// ensureState seeds a symbol from its live price with zero lots
func (e *BandEngine) ensureState(ctx context.Context, sym string, price decimal.Decimal) *core.SymbolState {
	if st := e.acct.States[sym]; st != nil {
		return st
	}
	st := &core.SymbolState{
		Symbol:    sym,
		BasePrice: tradingutils.RoundPrice(price, tradingutils.PriceDecimals),
		UpdatedAt: e.scheduler.Now(),
	}
	e.acct.States[sym] = st
	e.logger.Info("Seeded symbol state", "symbol", sym, "base", st.BasePrice.String())
	e.persist(ctx, st)
	return st
}

func (e *BandEngine) decide(ctx context.Context, sym string) {
	if st := e.acct.States[sym]; st != nil && st.PendingOrder != nil {
		return
	}
	price, err := e.executor.LastPrice(ctx, sym)
	if err != nil {
		e.logger.Warn("Skipping symbol this cycle, no price", "symbol", sym, "error", err)
		return
	}
	st := e.ensureState(ctx, sym, price)

	act := e.strategy.Decide(grid.Input{
		State:    st,
		Price:    price,
		LotSize:  e.acct.LotSize(sym),
		Counters: e.acct.Counters,
	}, func() bool { return e.guard.BuysHalted(ctx) })

	switch act.Kind {
	case grid.ActionNone:
		e.hold(sym, act)
	case grid.ActionRatchetUp:
		st.BasePrice = act.NewBase
		st.UpdatedAt = e.scheduler.Now()
		e.acct.Counters.BaseRatchets++
		e.metrics.RecordRatchet(ctx, e.acct.AccountID, sym)
		e.logger.Info("Base ratcheted up", "symbol", sym, "price", price.String(), "base", st.BasePrice.String())
		e.persist(ctx, st)
	case grid.ActionBuy:
		e.place(ctx, st, core.SideBuy, act)
	case grid.ActionSell:
		e.place(ctx, st, core.SideSell, act)
	}
}

func (e *BandEngine) hold(sym string, act grid.Action) {
	switch act.Hold {
	case grid.HoldBuyCap:
		if !e.buyCapLogged {
			e.buyCapLogged = true
			e.logger.Info("Session buy cap reached, no new buys", "buy_trades", e.acct.Counters.BuyTrades)
		}
	case grid.HoldCircuitBreaker:
		e.logger.Debug("Buy suppressed by index guard", "symbol", sym)
	case grid.HoldMaxLots:
		e.logger.Debug("Buy level reached at max lots", "symbol", sym)
	}
}

// place sends the order and records it as pending. A refused placement
// leaves the state untouched.
func (e *BandEngine) place(ctx context.Context, st *core.SymbolState, side core.Side, act grid.Action) {
	id, err := e.executor.PlaceOrder(ctx, core.OrderRequest{
		Symbol:   st.Symbol,
		Exchange: e.acct.Exchange,
		Side:     side,
		Quantity: act.Quantity,
		Price:    act.Price,
	})
	if err != nil {
		e.metrics.RecordOutcome(ctx, e.acct.AccountID, st.Symbol, risk.OutcomeRejected.String())
		return
	}

	st.PendingOrder = &core.OrderRef{
		OrderID:        id,
		Symbol:         st.Symbol,
		Side:           side,
		RequestedQty:   act.Quantity,
		RequestedPrice: act.Price,
		PlacedAtCycle:  e.cycle,
		Bootstrap:      act.Bootstrap,
	}
	st.BasePrice = act.NewBase
	st.UpdatedAt = e.scheduler.Now()
	e.persist(ctx, st)
}

func (e *BandEngine) persist(ctx context.Context, st *core.SymbolState) {
	e.metrics.SetPosition(e.acct.AccountID, st.Symbol, int64(st.Lots), st.BasePrice.InexactFloat64())
	// failures are logged by the persister
	_ = e.persister.Persist(ctx, e.acct.AccountID, st)
}

// Close reconciles outstanding orders and records the session summary once
func (e *BandEngine) Close(ctx context.Context) error {
	for _, sym := range e.acct.Order {
		e.reconcile(ctx, sym)
	}
	e.publish()
	return e.writeSummary(ctx)
}

func (e *BandEngine) writeSummary(ctx context.Context) error {
	if e.summaryWritten {
		return nil
	}
	now := e.scheduler.Now()
	c := e.acct.Counters
	summary := &core.SessionSummary{
		AccountID:    e.acct.AccountID,
		Date:         e.scheduler.SessionDate(now),
		BuyTrades:    c.BuyTrades,
		SellTrades:   c.SellTrades,
		BaseRatchets: c.BaseRatchets,
		ApproxProfit: tradingutils.ApproxProfit(c.BaseRatchets, c.SellTrades, e.cfg.ProfitPerStep),
		RecordedAt:   now,
	}

	err := retry.Do(ctx, e.cfg.SummaryRetry, func(err error) bool {
		return !errors.Is(err, apperrors.ErrDuplicateSummary)
	}, func(ctx context.Context) error {
		return e.store.AppendSessionSummary(ctx, summary)
	})
	switch {
	case errors.Is(err, apperrors.ErrDuplicateSummary):
		e.summaryWritten = true
		e.logger.Info("Session summary already recorded", "date", summary.Date)
		return nil
	case err != nil:
		return fmt.Errorf("append session summary: %w", err)
	}

	e.summaryWritten = true
	e.logger.Info("Session summary recorded",
		"date", summary.Date,
		"buy_trades", summary.BuyTrades,
		"sell_trades", summary.SellTrades,
		"base_ratchets", summary.BaseRatchets,
		"approx_profit", summary.ApproxProfit.String())
	if e.onSummary != nil {
		e.onSummary(summary)
	}
	return nil
}
