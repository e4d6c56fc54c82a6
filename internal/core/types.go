package core

import (
	"fmt"
	"time"

	apperrors "bandtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Side is the transaction direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened on s
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the broker-reported lifecycle state of an order
type OrderStatus string

const (
	OrderStatusComplete OrderStatus = "COMPLETE"
	OrderStatusOpen     OrderStatus = "OPEN"
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusCancelled is terminal but possibly partially filled
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderRequest is a limit order sent to the broker
type OrderRequest struct {
	Symbol   string
	Exchange string
	Side     Side
	Quantity int64
	Price    decimal.Decimal
	// Tag is an opaque client reference attached to the order
	Tag string
}

// OrderStatusReport is the broker view of a previously placed order
type OrderStatusReport struct {
	OrderID   string
	Status    OrderStatus
	Side      Side
	Quantity  int64
	FilledQty int64
	Message   string
}

// OrderRef identifies an order placed in a previous cycle that awaits resolution
type OrderRef struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	RequestedQty   int64           `json:"requested_qty"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	PlacedAtCycle  int64           `json:"placed_at_cycle"`
	// Bootstrap orders open the first lot and leave the base price untouched
	Bootstrap bool `json:"bootstrap,omitempty"`
}

// SymbolState is the persisted position of one symbol for one account
type SymbolState struct {
	Symbol       string
	BasePrice    decimal.Decimal
	Lots         int
	PendingOrder *OrderRef
	UpdatedAt    time.Time
}

// Clone returns a deep copy of the state
func (s *SymbolState) Clone() *SymbolState {
	if s == nil {
		return nil
	}
	c := *s
	if s.PendingOrder != nil {
		ref := *s.PendingOrder
		c.PendingOrder = &ref
	}
	return &c
}

// SessionCounters are the per-session trade tallies of one account
type SessionCounters struct {
	BuyTrades    int
	SellTrades   int
	BaseRatchets int
}

// SessionSummary is the row appended once per account per trading day
type SessionSummary struct {
	AccountID    string
	Date         string // YYYY-MM-DD in the exchange time zone
	BuyTrades    int
	SellTrades   int
	BaseRatchets int
	ApproxProfit decimal.Decimal
	RecordedAt   time.Time
}

// BasketEntry is a configured symbol and the quantity traded per lot
type BasketEntry struct {
	Symbol  string
	LotSize int64
}

// TenantSpec is everything needed to start one account's engine
type TenantSpec struct {
	AccountID   string
	Exchange    string
	PercentBand decimal.Decimal
	Basket      []BasketEntry
}

// Validate checks the spec before an engine is built for it
func (s TenantSpec) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("%w: account id is required", apperrors.ErrInvalidConfig)
	}
	if s.Exchange == "" {
		return fmt.Errorf("%w: account %s: exchange is required", apperrors.ErrInvalidConfig, s.AccountID)
	}
	if !s.PercentBand.IsPositive() || s.PercentBand.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: account %s: percent band %s must be in (0, 100)",
			apperrors.ErrInvalidConfig, s.AccountID, s.PercentBand)
	}
	if len(s.Basket) == 0 {
		return fmt.Errorf("%w: account %s: basket is empty", apperrors.ErrInvalidConfig, s.AccountID)
	}
	seen := make(map[string]struct{}, len(s.Basket))
	for _, e := range s.Basket {
		if e.Symbol == "" {
			return fmt.Errorf("%w: account %s: basket entry without symbol", apperrors.ErrInvalidConfig, s.AccountID)
		}
		if e.LotSize <= 0 {
			return fmt.Errorf("%w: account %s: symbol %s has no lot size",
				apperrors.ErrInvalidConfig, s.AccountID, e.Symbol)
		}
		if _, dup := seen[e.Symbol]; dup {
			return fmt.Errorf("%w: account %s: symbol %s listed twice",
				apperrors.ErrInvalidConfig, s.AccountID, e.Symbol)
		}
		seen[e.Symbol] = struct{}{}
	}
	return nil
}

// AccountContext is the mutable trading state of one tenant.
// It is owned by exactly one engine goroutine and never shared.
type AccountContext struct {
	AccountID   string
	Exchange    string
	PercentBand decimal.Decimal
	Basket      map[string]int64
	// BasketOrder lists basket symbols in configuration order
	BasketOrder []string
	Counters    SessionCounters
	States      map[string]*SymbolState
	// Order is the deterministic symbol iteration order for a cycle
	Order []string
}

// NewAccountContext builds an empty context from a validated spec
func NewAccountContext(spec TenantSpec) *AccountContext {
	basket := make(map[string]int64, len(spec.Basket))
	order := make([]string, 0, len(spec.Basket))
	for _, e := range spec.Basket {
		basket[e.Symbol] = e.LotSize
		order = append(order, e.Symbol)
	}
	return &AccountContext{
		AccountID:   spec.AccountID,
		Exchange:    spec.Exchange,
		PercentBand: spec.PercentBand,
		Basket:      basket,
		BasketOrder: order,
		States:      make(map[string]*SymbolState, len(spec.Basket)),
	}
}

// LotSize returns the configured lot size of a symbol, or 0 if it is not in the basket
func (a *AccountContext) LotSize(symbol string) int64 {
	return a.Basket[symbol]
}
