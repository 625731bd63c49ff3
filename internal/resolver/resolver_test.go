package resolver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swing-trader/internal/broker"
	"swing-trader/internal/models"
	"swing-trader/internal/store"
)

type resolverFixture struct {
	store    *store.SQLiteStore
	broker   *broker.PaperBroker
	resolver *Resolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pb := broker.NewPaperBroker(nil)
	res := New(st, pb, DefaultConfig(), zerolog.Nop())
	return &resolverFixture{store: st, broker: pb, resolver: res}
}

func (f *resolverFixture) openPaperTrade(t *testing.T, entryPrice float64, entryAt time.Time) *models.Trade {
	t.Helper()

	tr := &models.Trade{
		ID:          "t-1",
		Symbol:      "RELIANCE",
		Exchange:    models.NSE,
		Side:        models.OrderSideBuy,
		Quantity:    10,
		SignalPrice: entryPrice,
		StopLoss:    8,
		Target:      15,
		Status:      models.TradePlaced,
		CreatedAt:   entryAt,
	}
	require.NoError(t, tr.MarkOpen(entryPrice, "stop-1", "target-1", entryAt))
	require.NoError(t, f.store.SaveTrade(context.Background(), tr))
	return tr
}

func day(offset int) time.Time {
	return time.Now().UTC().AddDate(0, 0, offset).Truncate(24 * time.Hour)
}

func TestResolveEntryDayExtremesExcluded(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	// Entry printed at 10 while the bar opened at 5: the 15 high happened
	// before the fill and must not count as a target touch.
	tr := f.openPaperTrade(t, 10, day(-1))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 5, High: 15, Low: 9, Close: 10, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, got.Status)
}

func TestResolveEntryAtOpenCountsEntryDay(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-1))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 10, High: 15, Low: 9.5, Close: 14, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosedTarget, got.Status)
	assert.InDelta(t, 15.0, got.ExitPrice, 1e-9)
}

func TestResolveEntryBelowOpenCountsEntryDay(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	// Filled under the open: the bar's range postdates the fill.
	tr := f.openPaperTrade(t, 10, day(-1))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 11, High: 15, Low: 9.5, Close: 14, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosedTarget, got.Status)
}

func TestResolveEarliestTouchWins(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-3))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-3), Open: 10.5, High: 11, Low: 9, Close: 10, Volume: 1000},
		{Timestamp: day(-2), Open: 10, High: 11, Low: 7.5, Close: 8.5, Volume: 1000},
		{Timestamp: day(-1), Open: 8.5, High: 16, Low: 8, Close: 15.5, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	// The stop day precedes the target day.
	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosedSL, got.Status)
	assert.Equal(t, models.ExitStopLoss, got.ExitReason)
	assert.InDelta(t, 8.0, got.ExitPrice, 1e-9)
	assert.WithinDuration(t, day(-2), got.CompletedAt, time.Hour)
	assert.False(t, got.NeedsReview)
}

func TestResolveSameDayTouchClosesOnStopAndFlags(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-2))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-2), Open: 10.5, High: 11, Low: 9, Close: 10, Volume: 1000},
		{Timestamp: day(-1), Open: 10, High: 16, Low: 7.5, Close: 12, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosedSL, got.Status)
	assert.InDelta(t, 8.0, got.ExitPrice, 1e-9)
	assert.True(t, got.NeedsReview)
	assert.Contains(t, got.StatusMessage, "both touched")
}

func TestResolveTimeStopClosesAtLastClose(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-121))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-121), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1000},
		{Timestamp: day(-1), Open: 9.5, High: 10, Low: 9, Close: 9.5, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosedSL, got.Status)
	assert.Equal(t, models.ExitTimeStop, got.ExitReason)
	assert.InDelta(t, 9.5, got.ExitPrice, 1e-9)
	assert.Contains(t, got.StatusMessage, "time stop")
}

func TestResolveSkipsLiveTradesForBars(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-1))
	tr.IsLive = true
	require.NoError(t, f.store.UpdateTrade(ctx, tr))

	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 11, High: 16, Low: 7, Close: 15, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	// Live trades exit via their bracket legs, not the bar sweep.
	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, got.Status)
}

func TestResolveTimeStopSkipsLiveTrades(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	tr := f.openPaperTrade(t, 10, day(-121))
	tr.IsLive = true
	require.NoError(t, f.store.UpdateTrade(ctx, tr))

	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 9.5, High: 10, Low: 9, Close: 9.5, Volume: 1000},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	// A live position is exited only by an acknowledged brokerage order;
	// the resolver never books a time stop against one.
	got, err := f.store.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, got.Status)
	assert.True(t, got.CompletedAt.IsZero())
}

func TestResolveCachesBars(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	f.openPaperTrade(t, 10, day(-1))
	f.broker.SetHistorical("RELIANCE", []models.Candle{
		{Timestamp: day(-1), Open: 10.5, High: 11, Low: 9.5, Close: 10.5, Volume: 1000},
		{Timestamp: day(0), Open: 10.5, High: 11, Low: 10, Close: 10.8, Volume: 500},
	})

	require.NoError(t, f.resolver.Tick(ctx))

	cached, err := f.store.GetCandles(ctx, "RELIANCE", "day", day(-2), time.Now())
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}
