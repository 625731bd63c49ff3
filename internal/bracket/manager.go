// Package bracket manages the bracket order lifecycle: entry placement,
// leg activation on fill, and one-cancels-other resolution.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"swing-trader/internal/broker"
	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/metrics"
	"swing-trader/internal/models"
	"swing-trader/internal/pricer"
	"swing-trader/internal/store"
)

// Manager drives trades from signal acceptance through OCO resolution.
// All store writes go through the optimistic version check, so the
// polling path here and any push notification path can race safely:
// exactly one of them wins each terminal transition.
type Manager struct {
	store  store.TradeStore
	broker broker.Broker
	pricer *pricer.Pricer
	logger zerolog.Logger

	brokeragePerLeg float64
	product         models.ProductType
	isLive          bool
}

// Config holds bracket manager configuration.
type Config struct {
	BrokeragePerLeg float64
	Product         models.ProductType
	IsLive          bool
}

// NewManager creates a bracket order manager.
func NewManager(st store.TradeStore, br broker.Broker, pr *pricer.Pricer, cfg Config, logger zerolog.Logger) *Manager {
	product := cfg.Product
	if product == "" {
		product = models.ProductCNC
	}
	return &Manager{
		store:           st,
		broker:          br,
		pricer:          pr,
		logger:          logger.With().Str("component", "bracket").Logger(),
		brokeragePerLeg: cfg.BrokeragePerLeg,
		product:         product,
		isLive:          cfg.IsLive,
	}
}

// Place runs a signal through the pricer and, if accepted, submits the
// entry order and persists a new PLACED trade. Stop and target are not
// submitted yet; they activate only after the entry fills.
func (m *Manager) Place(ctx context.Context, req *pricer.SignalRequest) (*models.Trade, pricer.OrderPlan, error) {
	quote, err := m.broker.GetQuote(ctx, quoteKey(req.Exchange, req.Symbol))
	if err != nil {
		return nil, pricer.OrderPlan{}, apperrors.Wrapf(err, "fetching quote for %s", req.Symbol)
	}

	plan, err := m.pricer.Plan(req, quote)
	if err != nil {
		metrics.IncSignal("rejected")
		return nil, pricer.OrderPlan{}, err
	}
	if plan.Rejected {
		metrics.IncSignal("rejected")
		m.logger.Info().
			Str("symbol", req.Symbol).
			Str("reason", plan.Reason).
			Msg("Signal rejected")
		return nil, plan, nil
	}

	if plan.Price == req.SignalPrice {
		metrics.IncSignal("accepted")
	} else {
		metrics.IncSignal("adjusted")
	}

	entry := &models.Order{
		Symbol:   req.Symbol,
		Exchange: req.Exchange,
		Side:     req.Side,
		Type:     plan.OrderType,
		Product:  m.product,
		Quantity: req.Quantity,
		Price:    plan.Price,
	}

	result, err := m.broker.PlaceOrder(ctx, entry)
	if err != nil {
		// Brokerage rejection surfaces synchronously; no trade persisted.
		return nil, plan, apperrors.Wrapf(err, "placing entry order for %s", req.Symbol)
	}
	metrics.IncOrderPlaced(m.mode(), string(req.Side))

	trade := &models.Trade{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		Exchange:         req.Exchange,
		Instrument:       req.Instrument,
		Side:             req.Side,
		Quantity:         req.Quantity,
		SignalPrice:      req.SignalPrice,
		StopLoss:         req.StopLoss,
		Target:           req.Target,
		TrailingEnabled:  req.TrailingEnabled,
		TrailingDistance: req.TrailingDistance,
		EntryOrderID:     result.OrderID,
		IsLive:           m.isLive,
		Status:           models.TradePlaced,
		CreatedAt:        time.Now(),
	}

	if err := m.store.SaveTrade(ctx, trade); err != nil {
		return nil, plan, apperrors.Wrap(err, "persisting trade")
	}

	m.logger.Info().
		Str("trade_id", trade.ID).
		Str("symbol", trade.Symbol).
		Str("order_id", result.OrderID).
		Float64("price", plan.Price).
		Msg("Entry order placed")

	return trade, plan, nil
}

// Tick polls the brokerage state of every active trade and advances the
// lifecycle. Failures leave the trade untouched for the next tick.
func (m *Manager) Tick(ctx context.Context) error {
	trades, err := m.store.ListTrades(ctx, store.TradeFilter{ActiveOnly: true})
	if err != nil {
		return apperrors.Wrap(err, "listing active trades")
	}

	open := 0
	for i := range trades {
		t := &trades[i]
		switch t.Status {
		case models.TradePlaced:
			if err := m.checkEntry(ctx, t); err != nil {
				m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Entry check failed")
			}
		case models.TradeOpen:
			open++
			if err := m.checkLegs(ctx, t); err != nil {
				m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Leg check failed")
			}
		}
	}
	metrics.SetOpenTrades(open)

	return nil
}

// checkEntry inspects a PLACED trade's entry order. On a confirmed fill
// it submits the OCO legs and promotes the trade to OPEN; on a
// brokerage-side cancel or rejection it cancels the trade.
func (m *Manager) checkEntry(ctx context.Context, t *models.Trade) error {
	order, err := m.broker.GetOrder(ctx, t.EntryOrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case models.OrderStateComplete:
		return m.activateLegs(ctx, t, order.AveragePrice)

	case models.OrderStateCancelled, models.OrderStateRejected:
		if err := t.CancelEntry(fmt.Sprintf("entry order %s at brokerage", order.Status), time.Now()); err != nil {
			return err
		}
		if err := m.updateTrade(ctx, t); err != nil {
			return err
		}
		metrics.IncTradeClosed(string(models.TradeCancelled))
		m.logger.Info().Str("trade_id", t.ID).Str("order_status", string(order.Status)).Msg("Trade cancelled")
		return nil
	}

	return nil
}

// activateLegs places the stop and target orders for a filled entry and
// promotes the trade to OPEN. If the second leg fails to place, the
// first is cancelled so no orphaned exit order survives; the trade stays
// PLACED and the whole step is retried next tick.
func (m *Manager) activateLegs(ctx context.Context, t *models.Trade, entryPrice float64) error {
	exitSide := t.Side.Opposite()

	stop := &models.Order{
		Symbol:       t.Symbol,
		Exchange:     t.Exchange,
		Side:         exitSide,
		Type:         models.OrderTypeStopLossM,
		Product:      m.product,
		Quantity:     t.Quantity,
		TriggerPrice: t.StopLoss,
	}
	stopResult, err := m.broker.PlaceOrder(ctx, stop)
	if err != nil {
		return apperrors.Wrapf(err, "placing stop leg for trade %s", t.ID)
	}

	target := &models.Order{
		Symbol:   t.Symbol,
		Exchange: t.Exchange,
		Side:     exitSide,
		Type:     models.OrderTypeLimit,
		Product:  m.product,
		Quantity: t.Quantity,
		Price:    t.Target,
	}
	targetResult, err := m.broker.PlaceOrder(ctx, target)
	if err != nil {
		if cancelErr := m.broker.CancelOrder(ctx, stopResult.OrderID); cancelErr != nil {
			m.logger.Error().Err(cancelErr).
				Str("trade_id", t.ID).
				Str("stop_order_id", stopResult.OrderID).
				Msg("Failed to unwind stop leg after target placement failure")
		}
		return apperrors.Wrapf(err, "placing target leg for trade %s", t.ID)
	}

	if err := t.MarkOpen(entryPrice, stopResult.OrderID, targetResult.OrderID, time.Now()); err != nil {
		m.unwindLegs(ctx, t, stopResult.OrderID, targetResult.OrderID)
		return err
	}
	if err := m.store.UpdateTrade(ctx, t); err != nil {
		// The pair exists at the brokerage but the record does not say so:
		// either the write failed and the trade is still PLACED, or another
		// worker won the race with its own pair. Cancel ours so only one
		// pair of exit legs can ever execute.
		m.unwindLegs(ctx, t, stopResult.OrderID, targetResult.OrderID)
		if errors.Is(err, apperrors.ErrVersionConflict) {
			metrics.IncVersionConflict("bracket")
			m.logger.Debug().Str("trade_id", t.ID).Msg("Lost version race, unwound duplicate legs")
			return nil
		}
		return apperrors.Wrapf(err, "persisting open trade %s", t.ID)
	}

	m.logger.Info().
		Str("trade_id", t.ID).
		Float64("entry_price", entryPrice).
		Str("stop_order_id", stopResult.OrderID).
		Str("target_order_id", targetResult.OrderID).
		Msg("Bracket legs active")

	return nil
}

// unwindLegs cancels a freshly placed OCO pair whose activation could
// not be recorded. Cancellation failures are logged; the orders are
// still pending at this point so a failure here is a brokerage outage.
func (m *Manager) unwindLegs(ctx context.Context, t *models.Trade, stopID, targetID string) {
	for _, id := range []string{stopID, targetID} {
		if err := m.broker.CancelOrder(ctx, id); err != nil {
			m.logger.Error().Err(err).
				Str("trade_id", t.ID).
				Str("order_id", id).
				Msg("Failed to unwind bracket leg")
		}
	}
}

// checkLegs inspects an OPEN trade's OCO pair. The stop is checked
// first: if both legs report complete in the same window the
// capital-preserving leg wins and the trade is flagged for review.
func (m *Manager) checkLegs(ctx context.Context, t *models.Trade) error {
	stopOrder, err := m.broker.GetOrder(ctx, t.StopOrderID)
	if err != nil {
		return err
	}
	if stopOrder.Status == models.OrderStateComplete {
		return m.resolveOCO(ctx, t, models.ExitStopLoss, stopOrder.AveragePrice, t.TargetOrderID)
	}

	targetOrder, err := m.broker.GetOrder(ctx, t.TargetOrderID)
	if err != nil {
		return err
	}
	if targetOrder.Status == models.OrderStateComplete {
		return m.resolveOCO(ctx, t, models.ExitTarget, targetOrder.AveragePrice, t.StopOrderID)
	}

	// DAY-validity legs lapse at the end of each session, and an operator
	// can cancel one at the brokerage directly. Either way the position
	// would sit unprotected, so the leg is re-placed.
	if !stopOrder.Status.Pending() {
		return m.replaceLeg(ctx, t, legStop, stopOrder.Status)
	}
	if !targetOrder.Status.Pending() {
		return m.replaceLeg(ctx, t, legTarget, targetOrder.Status)
	}

	return nil
}

const (
	legStop   = "stop"
	legTarget = "target"
)

// replaceLeg re-submits an exit leg that is no longer working at the
// brokerage. If the replacement cannot be placed the trade is flagged
// for manual intervention rather than left silently unprotected.
func (m *Manager) replaceLeg(ctx context.Context, t *models.Trade, leg string, state models.OrderState) error {
	order := &models.Order{
		Symbol:   t.Symbol,
		Exchange: t.Exchange,
		Side:     t.Side.Opposite(),
		Product:  m.product,
		Quantity: t.Quantity,
	}
	if leg == legStop {
		order.Type = models.OrderTypeStopLossM
		order.TriggerPrice = t.StopLoss
	} else {
		order.Type = models.OrderTypeLimit
		order.Price = t.Target
	}

	result, err := m.broker.PlaceOrder(ctx, order)
	if err != nil {
		t.FlagForReview(fmt.Sprintf("%s leg %s at brokerage, re-placement failed: manual intervention required", leg, state))
		if updateErr := m.updateTrade(ctx, t); updateErr != nil {
			return updateErr
		}
		return apperrors.Wrapf(err, "re-placing %s leg for trade %s", leg, t.ID)
	}

	if leg == legStop {
		t.StopOrderID = result.OrderID
	} else {
		t.TargetOrderID = result.OrderID
	}
	if err := m.store.UpdateTrade(ctx, t); err != nil {
		if cancelErr := m.broker.CancelOrder(ctx, result.OrderID); cancelErr != nil {
			m.logger.Error().Err(cancelErr).
				Str("trade_id", t.ID).
				Str("order_id", result.OrderID).
				Msg("Failed to unwind re-placed leg")
		}
		if errors.Is(err, apperrors.ErrVersionConflict) {
			metrics.IncVersionConflict("bracket")
			return nil
		}
		return apperrors.Wrapf(err, "persisting re-placed %s leg for trade %s", leg, t.ID)
	}

	m.logger.Warn().
		Str("trade_id", t.ID).
		Str("leg", leg).
		Str("old_state", string(state)).
		Str("order_id", result.OrderID).
		Msg("Lapsed bracket leg re-placed")

	return nil
}

// resolveOCO closes the trade on the filled leg and cancels the other.
// The version-checked store write is the single-owner gate: a concurrent
// resolver loses with ErrVersionConflict and does nothing.
func (m *Manager) resolveOCO(ctx context.Context, t *models.Trade, reason models.ExitReason, exitPrice float64, otherLegID string) error {
	if err := t.CloseOnFill(reason, exitPrice, m.brokeragePerLeg, time.Now()); err != nil {
		return err
	}

	if err := m.broker.CancelOrder(ctx, otherLegID); err != nil {
		var orderErr *apperrors.OrderError
		if errors.As(err, &orderErr) {
			// The other leg is no longer cancellable; it may have filled
			// too. Close on the leg we saw first but demand a human look.
			t.FlagForReview(fmt.Sprintf("cancel of leg %s failed during OCO resolution: %v", otherLegID, err))
			m.logger.Error().Err(err).
				Str("trade_id", t.ID).
				Str("leg_order_id", otherLegID).
				Msg("OCO leg cancel failed, flagged for manual intervention")
		} else {
			// Transient failure: leave the trade OPEN and retry next tick.
			return apperrors.Wrapf(err, "cancelling remaining leg for trade %s", t.ID)
		}
	}

	if err := m.updateTrade(ctx, t); err != nil {
		return err
	}

	metrics.IncTradeClosed(string(t.Status))
	metrics.IncExitReason(string(reason))
	m.logger.Info().
		Str("trade_id", t.ID).
		Str("status", string(t.Status)).
		Float64("exit_price", exitPrice).
		Float64("net_pnl", t.NetPnL).
		Msg("Trade closed")

	return nil
}

// HandleOrderUpdate is the push path, fed by the websocket order stream
// in live sessions: a brokerage postback for any order belonging to an
// active trade advances that trade exactly as a polling tick would. The
// version check makes the two paths race-safe.
func (m *Manager) HandleOrderUpdate(ctx context.Context, order models.Order) error {
	trades, err := m.store.ListTrades(ctx, store.TradeFilter{ActiveOnly: true})
	if err != nil {
		return apperrors.Wrap(err, "listing active trades")
	}

	for i := range trades {
		t := &trades[i]
		switch order.ID {
		case t.EntryOrderID:
			if t.Status != models.TradePlaced || order.Status != models.OrderStateComplete {
				return nil
			}
			return m.activateLegs(ctx, t, order.AveragePrice)

		case t.StopOrderID:
			if t.Status != models.TradeOpen || order.Status != models.OrderStateComplete {
				return nil
			}
			return m.resolveOCO(ctx, t, models.ExitStopLoss, order.AveragePrice, t.TargetOrderID)

		case t.TargetOrderID:
			if t.Status != models.TradeOpen || order.Status != models.OrderStateComplete {
				return nil
			}
			return m.resolveOCO(ctx, t, models.ExitTarget, order.AveragePrice, t.StopOrderID)
		}
	}

	return nil
}

func (m *Manager) updateTrade(ctx context.Context, t *models.Trade) error {
	err := m.store.UpdateTrade(ctx, t)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		// Another worker already advanced this trade; ours is a no-op.
		metrics.IncVersionConflict("bracket")
		m.logger.Debug().Str("trade_id", t.ID).Msg("Lost version race, skipping")
		return nil
	}
	return err
}

func (m *Manager) mode() string {
	if m.isLive {
		return "live"
	}
	return "paper"
}

func quoteKey(exchange models.Exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}
