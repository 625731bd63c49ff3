package trailing

import (
	"context"
	"fmt"
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

// brokenModifyBroker refuses every order modification.
type brokenModifyBroker struct {
	*broker.PaperBroker
}

func (b *brokenModifyBroker) ModifyOrder(ctx context.Context, orderID string, order *models.Order) error {
	return fmt.Errorf("connection reset")
}

func setupOpenTrade(t *testing.T, pb *broker.PaperBroker, st *store.SQLiteStore, stop float64, live, trailing bool) *models.Trade {
	t.Helper()
	ctx := context.Background()

	stopResult, err := pb.PlaceOrder(ctx, &models.Order{
		Symbol:       "RELIANCE",
		Exchange:     models.NSE,
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeStopLossM,
		Quantity:     10,
		TriggerPrice: stop,
	})
	require.NoError(t, err)

	tr := &models.Trade{
		ID:               "t-1",
		Symbol:           "RELIANCE",
		Exchange:         models.NSE,
		Side:             models.OrderSideBuy,
		Quantity:         10,
		SignalPrice:      2850,
		StopLoss:         stop,
		Target:           2960,
		TrailingEnabled:  trailing,
		TrailingDistance: 1.5,
		IsLive:           live,
		Status:           models.TradePlaced,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, tr.MarkOpen(2850, stopResult.OrderID, "target-1", time.Now()))
	require.NoError(t, st.SaveTrade(ctx, tr))
	return tr
}

func newStoreAndBroker(t *testing.T) (*store.SQLiteStore, *broker.PaperBroker) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, broker.NewPaperBroker(nil)
}

func TestTrailRaisesStopAfterAck(t *testing.T) {
	st, pb := newStoreAndBroker(t)
	tr := setupOpenTrade(t, pb, st, 2790, true, true)
	ctx := context.Background()

	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2900, High: 2900})

	engine := NewEngine(st, pb, zerolog.Nop())
	require.NoError(t, engine.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	// 1.5% below the 2900 high, on a 0.05 tick.
	assert.InDelta(t, 2856.5, got.StopLoss, 1e-9)
	assert.InDelta(t, 2900.0, got.HighestPrice, 1e-9)
	assert.Equal(t, 1, got.SLUpdates)

	// The live order carries the same trigger.
	order, err := pb.GetOrder(ctx, tr.StopOrderID)
	require.NoError(t, err)
	assert.InDelta(t, 2856.5, order.TriggerPrice, 1e-9)
}

func TestTrailHoldsWhenCandidateBelowStop(t *testing.T) {
	st, pb := newStoreAndBroker(t)
	tr := setupOpenTrade(t, pb, st, 2840, true, true)
	ctx := context.Background()

	// 1.5% under 2851 is still below a stop already at 2840: nothing to do.
	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2851, High: 2851})

	engine := NewEngine(st, pb, zerolog.Nop())
	require.NoError(t, engine.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2840.0, got.StopLoss, 1e-9)
	assert.Equal(t, 0, got.SLUpdates)
	// The watermark still advanced.
	assert.InDelta(t, 2851.0, got.HighestPrice, 1e-9)
}

func TestTrailNeverLowersStop(t *testing.T) {
	st, pb := newStoreAndBroker(t)
	tr := setupOpenTrade(t, pb, st, 2790, true, true)
	ctx := context.Background()

	engine := NewEngine(st, pb, zerolog.Nop())

	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2900, High: 2900})
	require.NoError(t, engine.Tick(ctx))

	// Price falls back; the candidate off the unchanged high equals the
	// current stop and must not move it.
	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2820, High: 2900})
	require.NoError(t, engine.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2856.5, got.StopLoss, 1e-9)
	assert.Equal(t, 1, got.SLUpdates)
}

// A failed order modification must leave the stored stop untouched, so
// the record never claims a protection level the brokerage has not
// acknowledged.
func TestTrailFailedModifyLeavesRecordUnchanged(t *testing.T) {
	st, pb := newStoreAndBroker(t)
	tr := setupOpenTrade(t, pb, st, 2790, true, true)
	ctx := context.Background()

	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2900, High: 2900})

	engine := NewEngine(st, &brokenModifyBroker{pb}, zerolog.Nop())
	require.NoError(t, engine.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2790.0, got.StopLoss, 1e-9)
	assert.Equal(t, 0, got.SLUpdates)
	assert.Equal(t, int64(0), got.Version)
}

func TestTrailSkipsPaperAndNonTrailingTrades(t *testing.T) {
	for name, flags := range map[string][2]bool{
		"paper trade":       {false, true},
		"trailing disabled": {true, false},
	} {
		t.Run(name, func(t *testing.T) {
			st, pb := newStoreAndBroker(t)
			tr := setupOpenTrade(t, pb, st, 2790, flags[0], flags[1])
			ctx := context.Background()

			pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 2950, High: 2950})

			engine := NewEngine(st, pb, zerolog.Nop())
			require.NoError(t, engine.Tick(ctx))

			got, err := st.GetTrade(ctx, "", tr.ID)
			require.NoError(t, err)
			assert.InDelta(t, 2790.0, got.StopLoss, 1e-9)
			assert.InDelta(t, 2850.0, got.HighestPrice, 1e-9)
		})
	}
}
