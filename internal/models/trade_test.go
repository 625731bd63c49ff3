package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeLifecycleHappyPath(t *testing.T) {
	tr := newPlacedTrade()
	now := time.Now()

	require.NoError(t, tr.MarkOpen(100.5, "stop-1", "target-1", now))
	assert.Equal(t, TradeOpen, tr.Status)
	assert.Equal(t, 100.5, tr.EntryPrice)
	assert.Equal(t, "stop-1", tr.StopOrderID)
	assert.Equal(t, "target-1", tr.TargetOrderID)
	assert.Equal(t, 100.5, tr.HighestPrice)

	require.NoError(t, tr.CloseOnFill(ExitTarget, 110, 20, now))
	assert.Equal(t, TradeClosedTarget, tr.Status)
	assert.Equal(t, ExitTarget, tr.ExitReason)
	// 10 shares, 9.5 points, minus 20 per leg on two legs.
	assert.InDelta(t, 95.0, tr.GrossPnL, 1e-9)
	assert.InDelta(t, 55.0, tr.NetPnL, 1e-9)
}

func TestTradeCancelOnlyFromPlaced(t *testing.T) {
	tr := newPlacedTrade()
	require.NoError(t, tr.CancelEntry("momentum lost", time.Now()))
	assert.Equal(t, TradeCancelled, tr.Status)
	assert.Equal(t, "momentum lost", tr.StatusMessage)

	open := newPlacedTrade()
	require.NoError(t, open.MarkOpen(100, "s", "t", time.Now()))
	err := open.CancelEntry("too late", time.Now())

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, TradeOpen, te.From)
}

func TestTradeStopExitClosesAsStopLoss(t *testing.T) {
	for _, reason := range []ExitReason{ExitStopLoss, ExitTimeStop} {
		tr := newPlacedTrade()
		require.NoError(t, tr.MarkOpen(100, "s", "t", time.Now()))
		require.NoError(t, tr.CloseOnFill(reason, 95, 20, time.Now()))
		assert.Equal(t, TradeClosedSL, tr.Status, "reason %s", reason)
	}
}

func TestTradeTerminalStatesAreFinal(t *testing.T) {
	tr := newPlacedTrade()
	require.NoError(t, tr.CancelEntry("gone", time.Now()))

	assert.Error(t, tr.MarkOpen(100, "s", "t", time.Now()))
	assert.Error(t, tr.CloseOnFill(ExitTarget, 110, 20, time.Now()))
	assert.Error(t, tr.RaiseStop(99, time.Now()))
	assert.Equal(t, TradeCancelled, tr.Status)
}

func TestTradeRaiseStopRequiresOpen(t *testing.T) {
	tr := newPlacedTrade()
	assert.Error(t, tr.RaiseStop(96, time.Now()))

	require.NoError(t, tr.MarkOpen(100, "s", "t", time.Now()))
	require.NoError(t, tr.RaiseStop(97, time.Now()))
	assert.Equal(t, 97.0, tr.StopLoss)
	assert.Equal(t, 1, tr.SLUpdates)

	assert.Error(t, tr.RaiseStop(97, time.Now()))
	assert.Error(t, tr.RaiseStop(96, time.Now()))
	assert.Equal(t, 97.0, tr.StopLoss)
}

func TestTradeArchiveRequiresTerminal(t *testing.T) {
	tr := newPlacedTrade()
	assert.Error(t, tr.Archive())

	require.NoError(t, tr.CancelEntry("done", time.Now()))
	require.NoError(t, tr.Archive())
	assert.True(t, tr.Archived)
}
