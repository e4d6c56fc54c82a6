// Package order provides order execution functionality with rate limiting and retry logic
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/retry"
	"bandtrader/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxTagLen is the longest client tag the broker accepts
const maxTagLen = 20

// Options tunes an OrderExecutor
type Options struct {
	AccountID string
	Exchange  string

	// Pacing between broker calls
	RatePerSecond float64
	Burst         int

	// CallTimeout bounds every single broker call
	CallTimeout time.Duration

	// Retry applies to cancels, status, price and index queries. Placement is never retried.
	Retry retry.RetryPolicy
}

// DefaultOptions returns the executor defaults for an account
func DefaultOptions(accountID, exchange string) Options {
	return Options{
		AccountID:     accountID,
		Exchange:      exchange,
		RatePerSecond: 1,
		Burst:         1,
		CallTimeout:   5 * time.Second,
		Retry:         retry.Fixed(3, 5*time.Second),
	}
}

// OrderExecutor implements core.IOrderExecutor for one account
type OrderExecutor struct {
	broker  core.IBroker
	logger  core.ILogger
	opts    Options
	limiter *rate.Limiter
	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewOrderExecutor creates a new order executor instance
func NewOrderExecutor(broker core.IBroker, opts Options, logger core.ILogger) *OrderExecutor {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	return &OrderExecutor{
		broker:  broker,
		logger:  logger.WithFields(map[string]interface{}{"component": "order_executor", "account": opts.AccountID}),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		tracer:  telemetry.GetTracer("order-executor"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// SetRateLimit updates the rate limit
func (oe *OrderExecutor) SetRateLimit(limit float64, burst int) {
	oe.limiter.SetLimit(rate.Limit(limit))
	oe.limiter.SetBurst(burst)
}

// call paces, bounds and times a single broker call
func call[T any](ctx context.Context, oe *OrderExecutor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := oe.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("rate limit wait failed: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, oe.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	v, err := fn(callCtx)
	oe.metrics.RecordBrokerLatency(ctx, op, float64(time.Since(start).Microseconds())/1000)
	return v, err
}

// retried wraps call in the executor's retry policy
func retried[T any](ctx context.Context, oe *OrderExecutor, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return retry.Get(ctx, oe.opts.Retry, apperrors.IsTransient, func(ctx context.Context) (T, error) {
		attempt++
		v, err := call(ctx, oe, op, fn)
		if err != nil && apperrors.IsTransient(err) {
			oe.logger.Warn("Broker call failed", "op", op, "attempt", attempt, "error", err)
		}
		return v, err
	})
}

// NewTag returns a fresh client tag that fits the broker's length limit
func NewTag() string {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tag[:maxTagLen]
}

// PlaceOrder places a single limit order. It is attempted exactly once.
func (oe *OrderExecutor) PlaceOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	if req.Exchange == "" {
		req.Exchange = oe.opts.Exchange
	}
	if req.Tag == "" {
		req.Tag = NewTag()
	}

	ctx, span := oe.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(
			attribute.String("account", oe.opts.AccountID),
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
		),
	)
	defer span.End()

	id, err := call(ctx, oe, "place_order", func(ctx context.Context) (string, error) {
		return oe.broker.PlaceOrder(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		oe.metrics.RecordOrderRejected(ctx, oe.opts.AccountID, req.Symbol, string(req.Side))
		oe.logger.Warn("Order placement failed",
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Quantity,
			"price", req.Price.String(),
			"error", err)
		return "", err
	}

	oe.metrics.RecordOrderPlaced(ctx, oe.opts.AccountID, req.Symbol, string(req.Side))
	oe.logger.Info("Order placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"price", req.Price.String(),
		"order_id", id,
		"tag", req.Tag)
	return id, nil
}

// CancelOrder cancels an open order, retrying transient failures
func (oe *OrderExecutor) CancelOrder(ctx context.Context, orderID string) error {
	_, err := retried(ctx, oe, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, oe.broker.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	oe.logger.Info("Order canceled successfully", "order_id", orderID)
	return nil
}

// OrderStatus fetches the latest status of an order
func (oe *OrderExecutor) OrderStatus(ctx context.Context, orderID string) (*core.OrderStatusReport, error) {
	rep, err := retried(ctx, oe, "order_status", func(ctx context.Context) (*core.OrderStatusReport, error) {
		return oe.broker.OrderStatus(ctx, orderID)
	})
	if err != nil {
		return nil, fmt.Errorf("order status %s: %w", orderID, err)
	}
	return rep, nil
}

// LastPrice returns the last traded price of a symbol on the account's exchange
func (oe *OrderExecutor) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := retried(ctx, oe, "last_price", func(ctx context.Context) (decimal.Decimal, error) {
		return oe.broker.LastPrice(ctx, symbol, oe.opts.Exchange)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("last price %s: %w", symbol, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("last price %s: non-positive price %s: %w", symbol, p, apperrors.ErrInvalidSymbol)
	}
	return p, nil
}

// IndexDayChangePercent returns the benchmark index change since the previous close
func (oe *OrderExecutor) IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error) {
	pct, err := retried(ctx, oe, "index_change", oe.broker.IndexDayChangePercent)
	if err != nil {
		return decimal.Zero, fmt.Errorf("index day change: %w", err)
	}
	return pct, nil
}

// IsRejection reports whether err means the broker refused the order outright
func IsRejection(err error) bool {
	return errors.Is(err, apperrors.ErrOrderRejected) || errors.Is(err, apperrors.ErrInvalidSymbol)
}
