package mock

import (
	"context"
	"testing"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(symbol string, qty int64, price string) core.OrderRequest {
	return core.OrderRequest{Symbol: symbol, Exchange: "NSE", Side: core.SideBuy, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func TestMockBroker_PaperFillOnCross(t *testing.T) {
	b := NewMockBroker()
	ctx := context.Background()
	b.SetPrice("INFY", decimal.NewFromInt(101))

	id, err := b.PlaceOrder(ctx, buy("INFY", 2, "100"))
	require.NoError(t, err)

	rep, err := b.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusOpen, rep.Status)

	b.SetPrice("INFY", decimal.NewFromInt(99))
	rep, err = b.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusComplete, rep.Status)
	assert.Equal(t, int64(2), rep.FilledQty)
}

func TestMockBroker_ScriptedOutcomeAndCancel(t *testing.T) {
	b := NewMockBroker()
	ctx := context.Background()
	b.QueueOutcome(Outcome{Status: core.OrderStatusOpen, FilledQty: 4})

	id, err := b.PlaceOrder(ctx, buy("INFY", 10, "100"))
	require.NoError(t, err)

	require.NoError(t, b.CancelOrder(ctx, id))
	rep, err := b.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCancelled, rep.Status)
	assert.Equal(t, int64(4), rep.FilledQty)

	err = b.CancelOrder(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestMockBroker_FailNext(t *testing.T) {
	b := NewMockBroker()
	ctx := context.Background()
	b.SetPrice("INFY", decimal.NewFromInt(100))
	b.FailNext(OpPrice, apperrors.ErrNetwork)

	_, err := b.LastPrice(ctx, "INFY", "NSE")
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	p, err := b.LastPrice(ctx, "INFY", "NSE")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 2, b.Calls(OpPrice))
}

func TestMockBroker_UnknownOrder(t *testing.T) {
	b := NewMockBroker()
	_, err := b.OrderStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}
