// Package mock provides an in-memory broker for paper trading and tests
package mock

import (
	"context"
	"fmt"
	"sync"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names accepted by FailNext
const (
	OpPlace  = "place"
	OpCancel = "cancel"
	OpStatus = "status"
	OpPrice  = "price"
	OpIndex  = "index"
)

// Outcome scripts how a placed order reports back
type Outcome struct {
	Status    core.OrderStatus
	FilledQty int64
}

// Order is a placed order as seen by the mock broker
type Order struct {
	ID        string
	Request   core.OrderRequest
	Status    core.OrderStatus
	FilledQty int64
	Scripted  bool
}

// MockBroker implements core.IBroker. Unscripted limit orders fill when the
// last price crosses their limit, which is enough for paper trading.
type MockBroker struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	indexChange decimal.Decimal
	orders      map[string]*Order
	placed      []string
	script      []Outcome
	failures    map[string][]error
	calls       map[string]int
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		prices:   make(map[string]decimal.Decimal),
		orders:   make(map[string]*Order),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (m *MockBroker) Name() string {
	return "mock"
}

// SetPrice sets the last traded price of a symbol on every exchange
func (m *MockBroker) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetIndexChange sets the value returned by IndexDayChangePercent
func (m *MockBroker) SetIndexChange(pct decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexChange = pct
}

// QueueOutcome scripts the status of the next placed order
func (m *MockBroker) QueueOutcome(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, o)
}

// SetOrderState overrides the state of an existing order
func (m *MockBroker) SetOrderState(orderID string, status core.OrderStatus, filled int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.Status = status
		o.FilledQty = filled
		o.Scripted = true
	}
}

// FailNext makes the next call of op return err
func (m *MockBroker) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns how many times op was invoked
func (m *MockBroker) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Orders returns copies of every placed order in placement order
func (m *MockBroker) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.placed))
	for _, id := range m.placed {
		out = append(out, *m.orders[id])
	}
	return out
}

// enter counts the call and pops an injected failure. Caller holds mu.
func (m *MockBroker) enter(op string) error {
	m.calls[op]++
	if queue := m.failures[op]; len(queue) > 0 {
		m.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPlace); err != nil {
		return "", err
	}
	if req.Quantity <= 0 || !req.Price.IsPositive() {
		return "", fmt.Errorf("%w: invalid quantity or price", apperrors.ErrOrderRejected)
	}

	order := &Order{
		ID:      uuid.NewString(),
		Request: req,
		Status:  core.OrderStatusOpen,
	}
	if len(m.script) > 0 {
		o := m.script[0]
		m.script = m.script[1:]
		order.Status = o.Status
		order.FilledQty = o.FilledQty
		order.Scripted = true
	}
	m.orders[order.ID] = order
	m.placed = append(m.placed, order.ID)
	return order.ID, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCancel); err != nil {
		return err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if o.Status != core.OrderStatusOpen {
		return fmt.Errorf("%w: order %s is %s and cannot be cancelled", apperrors.ErrOrderRejected, orderID, o.Status)
	}
	o.Status = core.OrderStatusCancelled
	return nil
}

func (m *MockBroker) OrderStatus(ctx context.Context, orderID string) (*core.OrderStatusReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpStatus); err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if !o.Scripted && o.Status == core.OrderStatusOpen && m.crossed(o) {
		o.Status = core.OrderStatusComplete
		o.FilledQty = o.Request.Quantity
	}
	return &core.OrderStatusReport{
		OrderID:   o.ID,
		Status:    o.Status,
		Side:      o.Request.Side,
		Quantity:  o.Request.Quantity,
		FilledQty: o.FilledQty,
	}, nil
}

// crossed reports whether the last price reached the order's limit. Caller holds mu.
func (m *MockBroker) crossed(o *Order) bool {
	last, ok := m.prices[o.Request.Symbol]
	if !ok {
		return false
	}
	if o.Request.Side == core.SideBuy {
		return last.LessThanOrEqual(o.Request.Price)
	}
	return last.GreaterThanOrEqual(o.Request.Price)
}

func (m *MockBroker) LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPrice); err != nil {
		return decimal.Zero, err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s:%s", apperrors.ErrInvalidSymbol, exchange, symbol)
	}
	return p, nil
}

func (m *MockBroker) IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpIndex); err != nil {
		return decimal.Zero, err
	}
	return m.indexChange, nil
}
