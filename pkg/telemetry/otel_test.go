package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	var traces bytes.Buffer
	tel, err := Setup("bandtrader-test", Options{TraceWriter: &traces})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())

	_, span := GetTracer("test").Start(context.Background(), "cycle")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, traces.String(), "cycle")
}

func TestMetricsHolder_Gauges(t *testing.T) {
	m := GetGlobalMetrics()
	ctx := context.Background()

	m.SetPosition("acct-gauge", "INFY", 3, 1500.5)
	m.SetPosition("acct-gauge", "TCS", 1, 3200)
	m.SetCircuitBreakerOpen("acct-gauge", true)
	m.AddTenantsRunning(1)
	defer m.AddTenantsRunning(-1)

	m.RecordOrderPlaced(ctx, "acct-gauge", "INFY", "BUY")
	m.RecordOutcome(ctx, "acct-gauge", "INFY", "filled")
	m.RecordRatchet(ctx, "acct-gauge", "TCS")
	m.RecordCycle(ctx, "acct-gauge", 0.25)

	assert.Equal(t, map[string]int64{"INFY": 3, "TCS": 1}, m.GetLots("acct-gauge"))
	assert.True(t, m.IsCircuitBreakerOpen("acct-gauge"))
	assert.GreaterOrEqual(t, m.GetTenantsRunning(), int64(1))

	m.SetCircuitBreakerOpen("acct-gauge", false)
	assert.False(t, m.IsCircuitBreakerOpen("acct-gauge"))
}
