package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTrade(id string) *models.Trade {
	return &models.Trade{
		ID:               id,
		UserID:           "default",
		Symbol:           "RELIANCE",
		Exchange:         models.NSE,
		Instrument:       models.InstrumentEquity,
		Side:             models.OrderSideBuy,
		Quantity:         10,
		SignalPrice:      2850,
		StopLoss:         2790,
		Target:           2960,
		TrailingEnabled:  true,
		TrailingDistance: 1.5,
		EntryOrderID:     "ORD-1",
		Status:           models.TradePlaced,
		CreatedAt:        time.Now().Truncate(time.Second),
	}
}

func TestTradeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := testTrade("t-1")
	require.NoError(t, s.SaveTrade(ctx, tr))

	got, err := s.GetTrade(ctx, "", "t-1")
	require.NoError(t, err)
	assert.Equal(t, tr.Symbol, got.Symbol)
	assert.Equal(t, tr.Quantity, got.Quantity)
	assert.Equal(t, tr.SignalPrice, got.SignalPrice)
	assert.Equal(t, tr.TrailingDistance, got.TrailingDistance)
	assert.Equal(t, models.TradePlaced, got.Status)
	assert.Equal(t, int64(0), got.Version)

	_, err = s.GetTrade(ctx, "", "missing")
	assert.ErrorIs(t, err, apperrors.ErrTradeNotFound)
}

func TestGetTradeUserScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := testTrade("t-1")
	tr.UserID = "alice"
	require.NoError(t, s.SaveTrade(ctx, tr))

	got, err := s.GetTrade(ctx, "alice", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	// Another user's key never reaches this trade.
	_, err = s.GetTrade(ctx, "bob", "t-1")
	assert.ErrorIs(t, err, apperrors.ErrTradeNotFound)

	// Workers address trades by id alone.
	_, err = s.GetTrade(ctx, "", "t-1")
	assert.NoError(t, err)
}

func TestUpdateTradeVersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := testTrade("t-1")
	require.NoError(t, s.SaveTrade(ctx, tr))

	// Two workers load the same version.
	first, err := s.GetTrade(ctx, "", "t-1")
	require.NoError(t, err)
	second, err := s.GetTrade(ctx, "", "t-1")
	require.NoError(t, err)

	require.NoError(t, first.MarkOpen(2851, "stop-1", "target-1", time.Now()))
	require.NoError(t, s.UpdateTrade(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	// The stale writer must lose.
	require.NoError(t, second.CancelEntry("stale cancel", time.Now()))
	err = s.UpdateTrade(ctx, second)
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

	// The winning transition is the one persisted.
	got, err := s.GetTrade(ctx, "", "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, got.Status)

	// Updating a deleted id reports not-found, not a conflict.
	ghost := testTrade("ghost")
	err = s.UpdateTrade(ctx, ghost)
	assert.ErrorIs(t, err, apperrors.ErrTradeNotFound)
}

func TestListTradesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	placed := testTrade("t-placed")
	require.NoError(t, s.SaveTrade(ctx, placed))

	open := testTrade("t-open")
	require.NoError(t, open.MarkOpen(2851, "s", "tg", time.Now()))
	require.NoError(t, s.SaveTrade(ctx, open))

	closed := testTrade("t-closed")
	require.NoError(t, closed.MarkOpen(2851, "s", "tg", time.Now()))
	require.NoError(t, closed.CloseOnFill(models.ExitTarget, 2960, 20, time.Now()))
	require.NoError(t, closed.Archive())
	require.NoError(t, s.SaveTrade(ctx, closed))

	active, err := s.ListTrades(ctx, TradeFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	openOnly, err := s.ListTrades(ctx, TradeFilter{Status: models.TradeOpen})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, "t-open", openOnly[0].ID)

	// Archived trades stay out unless asked for.
	all, err := s.ListTrades(ctx, TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	withArchived, err := s.ListTrades(ctx, TradeFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, withArchived, 3)
}

func TestCandleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 1000},
		{Timestamp: base.AddDate(0, 0, 1), Open: 104, High: 110, Low: 103, Close: 109, Volume: 2000},
	}
	require.NoError(t, s.SaveCandles(ctx, "RELIANCE", "day", candles))

	// Saving the same bars again must not duplicate them.
	require.NoError(t, s.SaveCandles(ctx, "RELIANCE", "day", candles))

	got, err := s.GetCandles(ctx, "RELIANCE", "day", base.Add(-time.Hour), base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 105.0, got[0].High)
	assert.Equal(t, int64(2000), got[1].Volume)
}

func TestWorkerHeartbeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetWorkerHeartbeat(ctx, "trailing", now))
	require.NoError(t, s.SetWorkerHeartbeat(ctx, "trailing", now.Add(time.Minute)))
	require.NoError(t, s.SetWorkerHeartbeat(ctx, "resolver", now))

	beats, err := s.GetWorkerHeartbeats(ctx)
	require.NoError(t, err)
	require.Len(t, beats, 2)
	assert.True(t, beats["trailing"].Equal(now.Add(time.Minute)))
}
