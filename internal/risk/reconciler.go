package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/telemetry"
	"bandtrader/pkg/tradingutils"
)

// OutcomeKind classifies how a pending order resolved
type OutcomeKind int

const (
	// OutcomeNone means there was nothing to reconcile
	OutcomeNone OutcomeKind = iota
	OutcomeFilled
	OutcomePartiallyFilled
	OutcomeUnfilled
	// OutcomeRejected is an unfilled order that never reached the book
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFilled:
		return "filled"
	case OutcomePartiallyFilled:
		return "partially_filled"
	case OutcomeUnfilled:
		return "unfilled"
	case OutcomeRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Outcome is the result of reconciling one symbol
type Outcome struct {
	Kind      OutcomeKind
	Side      core.Side
	FilledQty int64
	// SquareOffID is set when a partial fill was squared off
	SquareOffID string
}

type ReconcilerConfig struct {
	MaxLots int
}

// Reconciler resolves orders placed in a previous cycle
type Reconciler struct {
	executor  core.IOrderExecutor
	persister core.IStatePersister
	config    ReconcilerConfig
	logger    core.ILogger
	now       func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(executor core.IOrderExecutor, persister core.IStatePersister, config ReconcilerConfig, logger core.ILogger) *Reconciler {
	return &Reconciler{
		executor:  executor,
		persister: persister,
		config:    config,
		logger:    logger.WithField("component", "reconciler"),
		now:       time.Now,
	}
}

// Reconcile resolves the pending order of symbol, if any, and persists the result.
// On error the pending order is kept for the next cycle.
func (r *Reconciler) Reconcile(ctx context.Context, acct *core.AccountContext, symbol string) (Outcome, error) {
	st := acct.States[symbol]
	if st == nil || st.PendingOrder == nil {
		return Outcome{Kind: OutcomeNone}, nil
	}
	ref := st.PendingOrder
	log := r.logger.WithFields(map[string]interface{}{
		"account":  acct.AccountID,
		"symbol":   symbol,
		"order_id": ref.OrderID,
		"side":     ref.Side,
	})

	rep, err := r.executor.OrderStatus(ctx, ref.OrderID)
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		log.Warn("Pending order unknown to broker, treating as rejected")
		return r.resolve(ctx, acct, st, Outcome{Kind: OutcomeRejected, Side: ref.Side}, log), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("status of %s: %w", ref.OrderID, err)
	}

	switch rep.Status {
	case core.OrderStatusComplete:
		return r.resolve(ctx, acct, st, Outcome{Kind: OutcomeFilled, Side: ref.Side, FilledQty: rep.FilledQty}, log), nil
	case core.OrderStatusRejected:
		log.Info("Order rejected by broker", "message", rep.Message)
		return r.resolve(ctx, acct, st, Outcome{Kind: OutcomeRejected, Side: ref.Side}, log), nil
	case core.OrderStatusOpen:
		if err := r.executor.CancelOrder(ctx, ref.OrderID); err != nil {
			if apperrors.IsTransient(err) {
				return Outcome{}, fmt.Errorf("cancel %s: %w", ref.OrderID, err)
			}
			// Usually the order completed between the status query and the cancel.
			log.Warn("Cancel refused, re-reading status", "error", err)
		}
		rep, err = r.executor.OrderStatus(ctx, ref.OrderID)
		if err != nil {
			return Outcome{}, fmt.Errorf("status of %s after cancel: %w", ref.OrderID, err)
		}
	}

	switch rep.Status {
	case core.OrderStatusComplete:
		return r.resolve(ctx, acct, st, Outcome{Kind: OutcomeFilled, Side: ref.Side, FilledQty: rep.FilledQty}, log), nil
	case core.OrderStatusRejected:
		return r.resolve(ctx, acct, st, Outcome{Kind: OutcomeRejected, Side: ref.Side}, log), nil
	case core.OrderStatusOpen:
		return Outcome{}, fmt.Errorf("order %s still open after cancel", ref.OrderID)
	}

	filled := rep.FilledQty
	out := Outcome{Kind: OutcomeUnfilled, Side: ref.Side, FilledQty: filled}
	switch {
	case filled >= ref.RequestedQty:
		out.Kind = OutcomeFilled
	case filled > 0:
		out.Kind = OutcomePartiallyFilled
		out.SquareOffID = r.squareOff(ctx, acct, ref, filled, log)
	}
	return r.resolve(ctx, acct, st, out, log), nil
}

// squareOff closes a partial fill at the current price. The order is never reconciled.
func (r *Reconciler) squareOff(ctx context.Context, acct *core.AccountContext, ref *core.OrderRef, qty int64, log core.ILogger) string {
	price, err := r.executor.LastPrice(ctx, ref.Symbol)
	if err != nil {
		log.Warn("Last price unavailable for square-off, using order price", "error", err)
		price = ref.RequestedPrice
	}
	id, err := r.executor.PlaceOrder(ctx, core.OrderRequest{
		Symbol:   ref.Symbol,
		Exchange: acct.Exchange,
		Side:     ref.Side.Opposite(),
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		log.Error("Square-off placement failed, position left open",
			"qty", qty, "price", price.String(), "error", err)
		return ""
	}
	telemetry.GetGlobalMetrics().RecordSquareOff(ctx, acct.AccountID, ref.Symbol)
	log.Warn("Partial fill squared off, square-off order is not tracked",
		"filled_qty", qty, "requested_qty", ref.RequestedQty,
		"square_off_id", id, "square_off_side", ref.Side.Opposite(), "price", price.String())
	return id
}

// resolve applies the outcome to the symbol state, clears the pending order and persists
func (r *Reconciler) resolve(ctx context.Context, acct *core.AccountContext, st *core.SymbolState, out Outcome, log core.ILogger) Outcome {
	ref := st.PendingOrder
	band := acct.PercentBand

	switch out.Kind {
	case OutcomeFilled:
		if ref.Side == core.SideBuy {
			st.Lots++
			acct.Counters.BuyTrades++
		} else {
			st.Lots--
			acct.Counters.SellTrades++
		}
	case OutcomePartiallyFilled, OutcomeUnfilled:
		if ref.Side == core.SideBuy {
			st.Lots++
		} else {
			st.Lots--
		}
		fallthrough
	case OutcomeRejected:
		if !ref.Bootstrap {
			if ref.Side == core.SideBuy {
				st.BasePrice = tradingutils.SellLevel(st.BasePrice, band)
			} else {
				st.BasePrice = tradingutils.BuyLevel(st.BasePrice, band)
			}
		}
	}
	st.Lots = clampLots(st.Lots, r.config.MaxLots)
	st.PendingOrder = nil
	st.UpdatedAt = r.now()

	telemetry.GetGlobalMetrics().RecordOutcome(ctx, acct.AccountID, st.Symbol, out.Kind.String())
	telemetry.GetGlobalMetrics().SetPosition(acct.AccountID, st.Symbol, int64(st.Lots), st.BasePrice.InexactFloat64())
	log.Info("Order reconciled",
		"outcome", out.Kind.String(),
		"filled_qty", out.FilledQty,
		"lots", st.Lots,
		"base", st.BasePrice.String())

	// Persister logs its own failures; the cycle proceeds regardless.
	_ = r.persister.Persist(ctx, acct.AccountID, st)
	return out
}

func clampLots(lots, maxLots int) int {
	if lots < 0 {
		return 0
	}
	if maxLots > 0 && lots > maxLots {
		return maxLots
	}
	return lots
}
