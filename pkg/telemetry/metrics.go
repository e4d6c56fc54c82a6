package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal   = "bandtrader_orders_placed_total"
	MetricOrdersRejectedTotal = "bandtrader_orders_rejected_total"
	MetricOrderOutcomesTotal  = "bandtrader_order_outcomes_total"
	MetricSquareOffsTotal     = "bandtrader_square_offs_total"
	MetricRatchetsTotal       = "bandtrader_base_ratchets_total"
	MetricCycleDuration       = "bandtrader_cycle_duration_seconds"
	MetricBrokerLatency       = "bandtrader_broker_latency_ms"
	MetricLotsHeld            = "bandtrader_lots_held"
	MetricBasePrice           = "bandtrader_base_price"
	MetricCircuitBreakerOpen  = "bandtrader_circuit_breaker_open"
	MetricTenantsRunning      = "bandtrader_tenants_running"
)

type positionKey struct {
	account string
	symbol  string
}

// MetricsHolder holds initialized instruments and the state behind observable gauges
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	OrdersRejectedTotal metric.Int64Counter
	OrderOutcomesTotal  metric.Int64Counter
	SquareOffsTotal     metric.Int64Counter
	RatchetsTotal       metric.Int64Counter
	CycleDuration       metric.Float64Histogram
	BrokerLatency       metric.Float64Histogram
	LotsHeld            metric.Int64ObservableGauge
	BasePrice           metric.Float64ObservableGauge
	CircuitBreakerOpen  metric.Int64ObservableGauge
	TenantsRunning      metric.Int64ObservableGauge

	mu         sync.RWMutex
	lots       map[positionKey]int64
	bases      map[positionKey]float64
	cbOpen     map[string]int64
	tenantsRun int64
	reg        metric.Registration
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments are bound
// to the global meter provider until InitMetrics rebinds them.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			lots:   make(map[positionKey]int64),
			bases:  make(map[positionKey]float64),
			cbOpen: make(map[string]int64),
		}
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("bandtrader"))
	})
	return globalMetrics
}

// InitMetrics (re)creates every instrument from meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Orders accepted by the broker")); err != nil {
		return err
	}
	if m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal,
		metric.WithDescription("Order placements refused by the broker")); err != nil {
		return err
	}
	if m.OrderOutcomesTotal, err = meter.Int64Counter(MetricOrderOutcomesTotal,
		metric.WithDescription("Resolved prior-cycle orders by outcome")); err != nil {
		return err
	}
	if m.SquareOffsTotal, err = meter.Int64Counter(MetricSquareOffsTotal,
		metric.WithDescription("Square-off orders sent for partial fills")); err != nil {
		return err
	}
	if m.RatchetsTotal, err = meter.Int64Counter(MetricRatchetsTotal,
		metric.WithDescription("Base price ratchets without a trade")); err != nil {
		return err
	}
	if m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration,
		metric.WithDescription("Duration of one trading cycle"), metric.WithUnit("s")); err != nil {
		return err
	}
	if m.BrokerLatency, err = meter.Float64Histogram(MetricBrokerLatency,
		metric.WithDescription("Latency of broker API calls"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.LotsHeld, err = meter.Int64ObservableGauge(MetricLotsHeld,
		metric.WithDescription("Lots currently held per account and symbol")); err != nil {
		return err
	}
	if m.BasePrice, err = meter.Float64ObservableGauge(MetricBasePrice,
		metric.WithDescription("Current base price per account and symbol")); err != nil {
		return err
	}
	if m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen,
		metric.WithDescription("Index circuit breaker state (1=buys halted, 0=normal)")); err != nil {
		return err
	}
	if m.TenantsRunning, err = meter.Int64ObservableGauge(MetricTenantsRunning,
		metric.WithDescription("Tenant engines currently running")); err != nil {
		return err
	}

	if m.reg != nil {
		_ = m.reg.Unregister()
	}
	m.reg, err = meter.RegisterCallback(m.observe, m.LotsHeld, m.BasePrice, m.CircuitBreakerOpen, m.TenantsRunning)
	return err
}

func (m *MetricsHolder) observe(_ context.Context, obs metric.Observer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.lots {
		obs.ObserveInt64(m.LotsHeld, v, metric.WithAttributes(
			attribute.String("account", k.account), attribute.String("symbol", k.symbol)))
	}
	for k, v := range m.bases {
		obs.ObserveFloat64(m.BasePrice, v, metric.WithAttributes(
			attribute.String("account", k.account), attribute.String("symbol", k.symbol)))
	}
	for account, v := range m.cbOpen {
		obs.ObserveInt64(m.CircuitBreakerOpen, v, metric.WithAttributes(attribute.String("account", account)))
	}
	obs.ObserveInt64(m.TenantsRunning, m.tenantsRun)
	return nil
}

// RecordOrderPlaced counts an accepted order
func (m *MetricsHolder) RecordOrderPlaced(ctx context.Context, account, symbol, side string) {
	m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
		attribute.String("side", side),
	))
}

// RecordOrderRejected counts a refused placement
func (m *MetricsHolder) RecordOrderRejected(ctx context.Context, account, symbol, side string) {
	m.OrdersRejectedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
		attribute.String("side", side),
	))
}

// RecordOutcome counts a reconciled order by outcome
func (m *MetricsHolder) RecordOutcome(ctx context.Context, account, symbol, outcome string) {
	m.OrderOutcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
		attribute.String("outcome", outcome),
	))
}

func (m *MetricsHolder) RecordSquareOff(ctx context.Context, account, symbol string) {
	m.SquareOffsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
	))
}

func (m *MetricsHolder) RecordRatchet(ctx context.Context, account, symbol string) {
	m.RatchetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
	))
}

func (m *MetricsHolder) RecordCycle(ctx context.Context, account string, seconds float64) {
	m.CycleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("account", account)))
}

func (m *MetricsHolder) RecordBrokerLatency(ctx context.Context, op string, ms float64) {
	m.BrokerLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("op", op)))
}

// Helpers to update observable state

func (m *MetricsHolder) SetPosition(account, symbol string, lots int64, base float64) {
	k := positionKey{account: account, symbol: symbol}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[k] = lots
	m.bases[k] = base
}

func (m *MetricsHolder) SetCircuitBreakerOpen(account string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpen[account] = val
}

func (m *MetricsHolder) AddTenantsRunning(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantsRun += delta
}

// GetLots returns a copy of the lots gauge for one account
func (m *MetricsHolder) GetLots(account string) map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.lots {
		if k.account == account {
			res[k.symbol] = v
		}
	}
	return res
}

func (m *MetricsHolder) IsCircuitBreakerOpen(account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cbOpen[account] == 1
}

func (m *MetricsHolder) GetTenantsRunning() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenantsRun
}
