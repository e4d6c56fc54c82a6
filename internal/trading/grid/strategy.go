// Package grid holds the per-symbol percentage-band decision logic
package grid

import (
	"fmt"

	"bandtrader/internal/core"
	"bandtrader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// ActionKind is what the engine should do with a symbol this cycle
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionBuy
	ActionSell
	ActionRatchetUp
)

func (k ActionKind) String() string {
	switch k {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionRatchetUp:
		return "RATCHET_UP"
	default:
		return "NONE"
	}
}

// Reasons a buy level was reached but no buy was issued
const (
	HoldMaxLots        = "max_lots"
	HoldBuyCap         = "buy_cap"
	HoldCircuitBreaker = "circuit_breaker"
	HoldPending        = "pending_order"
)

// Action is the outcome of Decide
type Action struct {
	Kind     ActionKind
	Quantity int64
	// Price is the limit price, always the current price
	Price decimal.Decimal
	// NewBase is the base price to record once the order is accepted or the ratchet applied.
	// It equals the current base for bootstrap buys and ActionNone.
	NewBase   decimal.Decimal
	Bootstrap bool
	// Hold explains an ActionNone at or below the buy level
	Hold string
}

func (a Action) String() string {
	return fmt.Sprintf("%s qty=%d price=%s base=%s", a.Kind, a.Quantity, a.Price, a.NewBase)
}

// StrategyConfig holds the parameters for the band strategy
type StrategyConfig struct {
	PercentBand  decimal.Decimal
	MaxLots      int
	MaxBuyTrades int
}

// Input is the view of one symbol the strategy decides on
type Input struct {
	State    *core.SymbolState
	Price    decimal.Decimal
	LotSize  int64
	Counters core.SessionCounters
}

// BuyGuard reports whether new buys are halted. It is only called when a
// non-bootstrap buy is otherwise admissible.
type BuyGuard func() bool

// GridStrategy implements the pure band rules. It holds no mutable state.
type GridStrategy struct {
	cfg StrategyConfig
}

func NewGridStrategy(cfg StrategyConfig) *GridStrategy {
	return &GridStrategy{cfg: cfg}
}

// Config returns the strategy parameters
func (s *GridStrategy) Config() StrategyConfig {
	return s.cfg
}

// Levels returns the buy and sell thresholds around base
func (s *GridStrategy) Levels(base decimal.Decimal) (buy, sell decimal.Decimal) {
	return tradingutils.BuyLevel(base, s.cfg.PercentBand), tradingutils.SellLevel(base, s.cfg.PercentBand)
}

// Decide applies the band rules in precedence order
func (s *GridStrategy) Decide(in Input, halted BuyGuard) Action {
	st := in.State
	act := Action{Kind: ActionNone, Price: in.Price, NewBase: st.BasePrice}

	if st.PendingOrder != nil {
		act.Hold = HoldPending
		return act
	}

	if st.Lots <= 0 {
		act.Kind = ActionBuy
		act.Quantity = in.LotSize
		act.Bootstrap = true
		return act
	}

	buyLevel, sellLevel := s.Levels(st.BasePrice)

	if in.Price.LessThanOrEqual(buyLevel) {
		switch {
		case st.Lots >= s.cfg.MaxLots:
			act.Hold = HoldMaxLots
		case in.Counters.BuyTrades >= s.cfg.MaxBuyTrades:
			act.Hold = HoldBuyCap
		case halted != nil && halted():
			act.Hold = HoldCircuitBreaker
		default:
			act.Kind = ActionBuy
			act.Quantity = in.LotSize
			act.NewBase = buyLevel
		}
		return act
	}

	if in.Price.GreaterThanOrEqual(sellLevel) {
		act.NewBase = sellLevel
		if st.Lots > 1 {
			act.Kind = ActionSell
			act.Quantity = in.LotSize
		} else {
			act.Kind = ActionRatchetUp
		}
	}
	return act
}
