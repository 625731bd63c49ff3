package momentum

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

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		entry   float64
		target  float64
		high    float64
		current float64
		lost    bool
	}{
		// High covered 75% of the distance, price back within 0.49% of
		// the order price and 5.1% off the high.
		{"ran to target and reverted", 102, 110, 108, 102.5, true},
		// 12.5% of the distance is not a real move.
		{"shallow move keeps the order", 102, 110, 103, 102.2, false},
		// Strong move but price is holding near the high.
		{"no drawdown keeps the order", 102, 110, 108, 107.5, false},
		// Price went up and stayed well above the order price.
		{"no reversion keeps the order", 102, 110, 108, 105, false},
		{"exactly at thresholds keeps the order", 100, 110, 103, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, lost := Evaluate(tt.entry, tt.target, tt.high, tt.current, th)
			assert.Equal(t, tt.lost, lost)
			if lost {
				assert.Contains(t, verdict, "momentum lost")
			}
		})
	}
}

func setupPendingEntry(t *testing.T) (*store.SQLiteStore, *broker.PaperBroker, *models.Trade) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pb := broker.NewPaperBroker(nil)
	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 102.5, Open: 101, High: 108, Low: 100.5})

	// LTP above the limit keeps the buy resting.
	result, err := pb.PlaceOrder(ctx, &models.Order{
		Symbol:   "RELIANCE",
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeLimit,
		Quantity: 10,
		Price:    102,
	})
	require.NoError(t, err)

	tr := &models.Trade{
		ID:           "t-1",
		Symbol:       "RELIANCE",
		Exchange:     models.NSE,
		Side:         models.OrderSideBuy,
		Quantity:     10,
		SignalPrice:  102,
		StopLoss:     97,
		Target:       110,
		EntryOrderID: result.OrderID,
		Status:       models.TradePlaced,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.SaveTrade(ctx, tr))
	return st, pb, tr
}

func TestTickCancelsFadedEntry(t *testing.T) {
	st, pb, tr := setupPendingEntry(t)
	ctx := context.Background()

	mon := NewMonitor(st, pb, DefaultThresholds(), zerolog.Nop())
	require.NoError(t, mon.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeCancelled, got.Status)
	assert.Contains(t, got.StatusMessage, "momentum lost")
	assert.Contains(t, got.StatusMessage, "75.0%")

	order, err := pb.GetOrder(ctx, tr.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStateCancelled, order.Status)
}

func TestTickKeepsHealthyEntry(t *testing.T) {
	st, pb, tr := setupPendingEntry(t)
	ctx := context.Background()

	// Same tape but the high never ran: nothing to cancel.
	pb.SetQuote(models.Quote{Symbol: "RELIANCE", LTP: 102.2, Open: 101, High: 103, Low: 100.5})

	mon := NewMonitor(st, pb, DefaultThresholds(), zerolog.Nop())
	require.NoError(t, mon.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradePlaced, got.Status)

	order, err := pb.GetOrder(ctx, tr.EntryOrderID)
	require.NoError(t, err)
	assert.True(t, order.Status.Pending())
}

// An entry that filled between the quote read and the cancel belongs to
// the bracket manager; the monitor must leave it alone.
func TestTickSkipsFilledEntry(t *testing.T) {
	st, pb, tr := setupPendingEntry(t)
	ctx := context.Background()

	require.NoError(t, pb.FillOrder(tr.EntryOrderID, 102))

	mon := NewMonitor(st, pb, DefaultThresholds(), zerolog.Nop())
	require.NoError(t, mon.Tick(ctx))

	got, err := st.GetTrade(ctx, "", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradePlaced, got.Status)
	assert.Equal(t, int64(0), got.Version)
}
