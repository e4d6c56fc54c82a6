package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStore interface {
	core.IStateStore
	core.ITokenStore
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s testStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func TestStore_SymbolStateRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()

		missing, err := s.LoadSymbolState(ctx, "AB1234", "INFY")
		require.NoError(t, err)
		assert.Nil(t, missing)

		state := &core.SymbolState{
			Symbol:    "INFY",
			BasePrice: decimal.RequireFromString("1502.35"),
			Lots:      2,
			PendingOrder: &core.OrderRef{
				OrderID:        "250101000000001",
				Symbol:         "INFY",
				Side:           core.SideSell,
				RequestedQty:   1,
				RequestedPrice: decimal.RequireFromString("1548.8"),
				PlacedAtCycle:  7,
			},
		}
		require.NoError(t, s.SaveSymbolState(ctx, "AB1234", state))

		got, err := s.LoadSymbolState(ctx, "AB1234", "INFY")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.BasePrice.Equal(state.BasePrice))
		assert.Equal(t, 2, got.Lots)
		require.NotNil(t, got.PendingOrder)
		assert.Equal(t, "250101000000001", got.PendingOrder.OrderID)
		assert.Equal(t, core.SideSell, got.PendingOrder.Side)
		assert.True(t, got.PendingOrder.RequestedPrice.Equal(decimal.RequireFromString("1548.8")))

		// clearing the pending order
		state.PendingOrder = nil
		state.Lots = 1
		require.NoError(t, s.SaveSymbolState(ctx, "AB1234", state))
		got, err = s.LoadSymbolState(ctx, "AB1234", "INFY")
		require.NoError(t, err)
		assert.Nil(t, got.PendingOrder)
		assert.Equal(t, 1, got.Lots)

		// other accounts are isolated
		other, err := s.LoadSymbolState(ctx, "CD5678", "INFY")
		require.NoError(t, err)
		assert.Nil(t, other)
	})
}

func TestStore_SessionSummaryOncePerDay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		sum := &core.SessionSummary{
			AccountID:    "AB1234",
			Date:         "2026-03-02",
			BuyTrades:    3,
			SellTrades:   2,
			BaseRatchets: 1,
			ApproxProfit: decimal.NewFromInt(120),
			RecordedAt:   time.Now(),
		}
		require.NoError(t, s.AppendSessionSummary(ctx, sum))

		err := s.AppendSessionSummary(ctx, sum)
		assert.ErrorIs(t, err, apperrors.ErrDuplicateSummary)

		other := *sum
		other.AccountID = "CD5678"
		require.NoError(t, s.AppendSessionSummary(ctx, &other))

		list, err := s.ListSessionSummaries(ctx, "AB1234")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 3, list[0].BuyTrades)
		assert.True(t, list[0].ApproxProfit.Equal(decimal.NewFromInt(120)))
	})
}

func TestStore_TrackedSymbolsKeepInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		for _, sym := range []string{"TCS", "INFY", "TCS", "ITC"} {
			require.NoError(t, s.TrackSymbol(ctx, "AB1234", sym))
		}
		syms, err := s.ListTrackedSymbols(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, []string{"TCS", "INFY", "ITC"}, syms)

		none, err := s.ListTrackedSymbols(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_AccessTokens(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		_, err := s.LoadAccessToken(ctx, "AB1234")
		assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)

		require.NoError(t, s.SaveAccessToken(ctx, "AB1234", "first"))
		require.NoError(t, s.SaveAccessToken(ctx, "AB1234", "second"))
		tok, err := s.LoadAccessToken(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, "second", tok)
	})
}

func TestSQLiteStore_DetectsCorruption(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSymbolState(ctx, "AB1234", &core.SymbolState{
		Symbol: "INFY", BasePrice: decimal.NewFromInt(100), Lots: 1,
	}))

	_, err := s.db.ExecContext(ctx, `UPDATE symbol_state SET lots = 5 WHERE symbol = 'INFY'`)
	require.NoError(t, err)

	_, err = s.LoadSymbolState(ctx, "AB1234", "INFY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.TrackSymbol(ctx, "AB1234", "INFY"))
	require.NoError(t, s.SaveSymbolState(ctx, "AB1234", &core.SymbolState{
		Symbol: "INFY", BasePrice: decimal.RequireFromString("97.5"), Lots: 3,
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadSymbolState(ctx, "AB1234", "INFY")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Lots)
	syms, err := s.ListTrackedSymbols(ctx, "AB1234")
	require.NoError(t, err)
	assert.Equal(t, []string{"INFY"}, syms)
}

func TestPersister_RetriesTransientFailures(t *testing.T) {
	mem := NewMemoryStore()
	p := NewPersister(mem, 3, time.Millisecond, logging.NewNopLogger())
	state := &core.SymbolState{Symbol: "INFY", BasePrice: decimal.NewFromInt(100), Lots: 1}

	mem.FailNextSaves(2)
	require.NoError(t, p.Persist(context.Background(), "AB1234", state))
	got, _ := mem.LoadSymbolState(context.Background(), "AB1234", "INFY")
	require.NotNil(t, got)

	mem.FailNextSaves(3)
	err := p.Persist(context.Background(), "AB1234", state)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	state := &core.SymbolState{Symbol: "INFY", BasePrice: decimal.NewFromInt(100), Lots: 1}
	require.NoError(t, mem.SaveSymbolState(ctx, "AB1234", state))

	state.Lots = 4
	got, _ := mem.LoadSymbolState(ctx, "AB1234", "INFY")
	assert.Equal(t, 1, got.Lots)
}
