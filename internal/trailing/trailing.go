// Package trailing ratchets stop-loss orders upward as the favorable
// excursion of an open trade grows.
package trailing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"swing-trader/internal/broker"
	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/metrics"
	"swing-trader/internal/models"
	"swing-trader/internal/store"
	"swing-trader/pkg/utils"
)

// Engine raises stops for live, trailing-enabled open trades. The stop
// stored on the trade is always the last value the brokerage
// acknowledged: the order modification goes out first and the record is
// written only after the ack, so a failed modification leaves no drift
// between the record and the real order.
type Engine struct {
	store  store.TradeStore
	broker broker.Broker
	logger zerolog.Logger
}

// NewEngine creates a trailing stop engine.
func NewEngine(st store.TradeStore, br broker.Broker, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		broker: br,
		logger: logger.With().Str("component", "trailing").Logger(),
	}
}

// Tick processes one pass over all eligible trades. Per-trade failures
// are logged and retried on the next tick.
func (e *Engine) Tick(ctx context.Context) error {
	trades, err := e.store.ListTrades(ctx, store.TradeFilter{Status: models.TradeOpen})
	if err != nil {
		return apperrors.Wrap(err, "listing open trades")
	}

	for i := range trades {
		t := &trades[i]
		if !t.IsLive || !t.TrailingEnabled {
			continue
		}
		if err := e.trail(ctx, t); err != nil {
			e.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Trailing tick failed")
		}
	}

	return nil
}

func (e *Engine) trail(ctx context.Context, t *models.Trade) error {
	quote, err := e.broker.GetQuote(ctx, fmt.Sprintf("%s:%s", t.Exchange, t.Symbol))
	if err != nil {
		return apperrors.Wrapf(err, "fetching quote for %s", t.Symbol)
	}

	raised := false
	if quote.LTP > t.HighestPrice {
		t.ObserveHigh(quote.LTP)
		raised = true
	}

	candidate := utils.RoundToTick(t.HighestPrice*(1-t.TrailingDistance/100), utils.NSETickSize)
	if candidate <= t.StopLoss {
		if raised {
			// Persist the new high-water mark even when the stop holds.
			return e.update(ctx, t)
		}
		return nil
	}

	oldStop := t.StopLoss

	// Modify the live order first; persist only after the ack.
	modified := &models.Order{
		Symbol:       t.Symbol,
		Exchange:     t.Exchange,
		Side:         t.Side.Opposite(),
		Type:         models.OrderTypeStopLossM,
		Quantity:     t.Quantity,
		TriggerPrice: candidate,
	}
	if err := e.broker.ModifyOrder(ctx, t.StopOrderID, modified); err != nil {
		return apperrors.Wrapf(err, "modifying stop order %s", t.StopOrderID)
	}

	if err := t.RaiseStop(candidate, time.Now()); err != nil {
		return err
	}
	if err := e.update(ctx, t); err != nil {
		return err
	}

	metrics.IncStopUpdate()
	e.logger.Info().
		Str("trade_id", t.ID).
		Str("symbol", t.Symbol).
		Float64("old_stop", oldStop).
		Float64("new_stop", candidate).
		Float64("highest", t.HighestPrice).
		Msg("Trailing stop raised")

	return nil
}

func (e *Engine) update(ctx context.Context, t *models.Trade) error {
	err := e.store.UpdateTrade(ctx, t)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		metrics.IncVersionConflict("trailing")
		e.logger.Debug().Str("trade_id", t.ID).Msg("Lost version race, skipping")
		return nil
	}
	return err
}
