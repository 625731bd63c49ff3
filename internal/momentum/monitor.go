// Package momentum cancels still-unfilled entry orders once the day's
// action has already run toward the target and reverted.
package momentum

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"swing-trader/internal/broker"
	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/metrics"
	"swing-trader/internal/models"
	"swing-trader/internal/store"
)

// Thresholds define when momentum is judged lost for a pending entry.
type Thresholds struct {
	MoveRatio    float64 // fraction of distance-to-target the day's high must have covered
	RevertWindow float64 // fraction of order price the LTP must be back within
	Drawdown     float64 // fraction below the day's high the LTP must have fallen
}

// DefaultThresholds returns the standard detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MoveRatio:    0.30,
		RevertWindow: 0.01,
		Drawdown:     0.03,
	}
}

// Monitor watches PLACED trades with limit entries and cancels those
// whose momentum has faded. The trade is marked CANCELLED only after the
// brokerage acknowledges the order cancellation.
type Monitor struct {
	store      store.TradeStore
	broker     broker.Broker
	thresholds Thresholds
	logger     zerolog.Logger
}

// NewMonitor creates a momentum-loss monitor.
func NewMonitor(st store.TradeStore, br broker.Broker, th Thresholds, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:      st,
		broker:     br,
		thresholds: th,
		logger:     logger.With().Str("component", "momentum").Logger(),
	}
}

// Tick processes one pass over all PLACED trades.
func (m *Monitor) Tick(ctx context.Context) error {
	trades, err := m.store.ListTrades(ctx, store.TradeFilter{Status: models.TradePlaced})
	if err != nil {
		return apperrors.Wrap(err, "listing placed trades")
	}

	for i := range trades {
		t := &trades[i]
		if err := m.check(ctx, t); err != nil {
			m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Momentum check failed")
		}
	}

	return nil
}

func (m *Monitor) check(ctx context.Context, t *models.Trade) error {
	// The entry must still be pending at the brokerage; a filled or
	// cancelled order has left this component's domain.
	order, err := m.broker.GetOrder(ctx, t.EntryOrderID)
	if err != nil {
		return apperrors.Wrapf(err, "fetching entry order %s", t.EntryOrderID)
	}
	if !order.Status.Pending() || order.Type != models.OrderTypeLimit {
		return nil
	}

	entryPrice := order.Price
	if entryPrice <= 0 {
		entryPrice = t.SignalPrice
	}

	quote, err := m.broker.GetQuote(ctx, fmt.Sprintf("%s:%s", t.Exchange, t.Symbol))
	if err != nil {
		return apperrors.Wrapf(err, "fetching quote for %s", t.Symbol)
	}

	verdict, lost := Evaluate(entryPrice, t.Target, quote.High, quote.LTP, m.thresholds)
	if !lost {
		return nil
	}

	// Cancel first; the record changes only after the ack. A failed
	// cancel leaves the trade PLACED for the next tick.
	if err := m.broker.CancelOrder(ctx, t.EntryOrderID); err != nil {
		return apperrors.Wrapf(err, "cancelling entry order %s", t.EntryOrderID)
	}

	if err := t.CancelEntry(verdict, time.Now()); err != nil {
		return err
	}

	err = m.store.UpdateTrade(ctx, t)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		metrics.IncVersionConflict("momentum")
		m.logger.Debug().Str("trade_id", t.ID).Msg("Lost version race, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	metrics.IncMomentumExit()
	metrics.IncTradeClosed(string(models.TradeCancelled))
	m.logger.Info().
		Str("trade_id", t.ID).
		Str("symbol", t.Symbol).
		Str("verdict", verdict).
		Msg("Entry cancelled, momentum lost")

	return nil
}

// Evaluate applies the momentum-loss rule to a pending entry and returns
// a human-readable verdict with the three computed percentages.
func Evaluate(entryPrice, target, dayHigh, current float64, th Thresholds) (string, bool) {
	if entryPrice <= 0 || dayHigh <= 0 || target <= entryPrice {
		return "", false
	}

	movementToTarget := (dayHigh - entryPrice) / (target - entryPrice)
	reversion := (current - entryPrice) / entryPrice
	drawdownFromHigh := (dayHigh - current) / dayHigh

	if movementToTarget > th.MoveRatio &&
		math.Abs(reversion) < th.RevertWindow &&
		drawdownFromHigh > th.Drawdown {
		return fmt.Sprintf("momentum lost: high covered %.1f%% of target distance, price %.2f%% from order price, %.1f%% below day high",
			movementToTarget*100, math.Abs(reversion)*100, drawdownFromHigh*100), true
	}

	return "", false
}
