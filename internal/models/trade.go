package models

import (
	"fmt"
	"time"
)

// TradeStatus represents the lifecycle status of a trade.
type TradeStatus string

const (
	TradePlaced       TradeStatus = "PLACED"
	TradeOpen         TradeStatus = "OPEN"
	TradeCancelled    TradeStatus = "CANCELLED"
	TradeClosedTarget TradeStatus = "CLOSED_TARGET"
	TradeClosedSL     TradeStatus = "CLOSED_SL"
)

// Terminal reports whether the status is a terminal state.
func (s TradeStatus) Terminal() bool {
	return s == TradeCancelled || s == TradeClosedTarget || s == TradeClosedSL
}

// ExitReason records why a trade left the market.
type ExitReason string

const (
	ExitTarget       ExitReason = "target"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTimeStop     ExitReason = "time_stop"
	ExitMomentumLost ExitReason = "momentum_lost"
)

// Trade is the central aggregate of the engine. Its status advances
// monotonically through exactly one of:
//
//	PLACED -> OPEN -> CLOSED_TARGET
//	PLACED -> OPEN -> CLOSED_SL
//	PLACED -> CANCELLED
//
// All state changes go through the named transition methods below; the
// workers never mutate fields directly. Version is the optimistic
// concurrency token checked by the store on every update.
type Trade struct {
	ID         string
	UserID     string
	Symbol     string
	Exchange   Exchange
	Instrument InstrumentKind

	Side             OrderSide
	Quantity         int
	SignalPrice      float64
	StopLoss         float64
	Target           float64
	TrailingEnabled  bool
	TrailingDistance float64 // percent of the highest price since entry

	EntryPrice    float64
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	IsLive        bool

	// Highest favorable price observed since entry. Non-decreasing.
	HighestPrice float64

	Status      TradeStatus
	NeedsReview bool

	CreatedAt     time.Time
	EntryDate     time.Time
	CompletedAt   time.Time
	ExitPrice     float64
	ExitReason    ExitReason
	GrossPnL      float64
	NetPnL        float64
	StatusMessage string

	SLUpdates      int
	LastStopUpdate time.Time

	Archived bool
	Version  int64
}

// TransitionError reports an attempted transition that would violate the
// trade lifecycle invariants.
type TransitionError struct {
	TradeID string
	From    TradeStatus
	To      TradeStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trade %s: illegal transition %s -> %s: %s", e.TradeID, e.From, e.To, e.Reason)
}

func (t *Trade) transitionErr(to TradeStatus, reason string) error {
	return &TransitionError{TradeID: t.ID, From: t.Status, To: to, Reason: reason}
}

// MarkOpen promotes a PLACED trade to OPEN after an entry fill has been
// confirmed, recording the executed price and the bracket leg order ids.
func (t *Trade) MarkOpen(entryPrice float64, stopOrderID, targetOrderID string, at time.Time) error {
	if t.Status != TradePlaced {
		return t.transitionErr(TradeOpen, "entry fill on a non-PLACED trade")
	}
	if entryPrice <= 0 {
		return t.transitionErr(TradeOpen, "non-positive entry price")
	}
	t.Status = TradeOpen
	t.EntryPrice = entryPrice
	t.EntryDate = at
	t.StopOrderID = stopOrderID
	t.TargetOrderID = targetOrderID
	if entryPrice > t.HighestPrice {
		t.HighestPrice = entryPrice
	}
	t.StatusMessage = "entry filled, bracket legs active"
	return nil
}

// ObserveHigh updates the highest-price watermark. Lower observations are
// ignored so the watermark never decreases.
func (t *Trade) ObserveHigh(price float64) {
	if price > t.HighestPrice {
		t.HighestPrice = price
	}
}

// RaiseStop moves the stop-loss up. Called only after the brokerage has
// acknowledged the corresponding order modification. A stop at or below
// the current level is rejected so the stored stop never decreases.
func (t *Trade) RaiseStop(newStop float64, at time.Time) error {
	if t.Status != TradeOpen {
		return t.transitionErr(t.Status, "stop raise on a non-OPEN trade")
	}
	if newStop <= t.StopLoss {
		return fmt.Errorf("trade %s: stop %.2f does not raise current stop %.2f", t.ID, newStop, t.StopLoss)
	}
	t.StopLoss = newStop
	t.SLUpdates++
	t.LastStopUpdate = at
	return nil
}

// CancelEntry cancels a still-unfilled trade. Valid only from PLACED and
// only after the brokerage acknowledged the entry order cancellation.
func (t *Trade) CancelEntry(message string, at time.Time) error {
	if t.Status != TradePlaced {
		return t.transitionErr(TradeCancelled, "cancel on a non-PLACED trade")
	}
	t.Status = TradeCancelled
	t.CompletedAt = at
	t.StatusMessage = message
	return nil
}

// CloseOnFill finalizes an OPEN trade after one bracket leg executed.
// Net P&L is booked exactly once, including round-trip brokerage.
func (t *Trade) CloseOnFill(reason ExitReason, exitPrice, brokeragePerLeg float64, at time.Time) error {
	var to TradeStatus
	switch reason {
	case ExitTarget:
		to = TradeClosedTarget
	case ExitStopLoss, ExitTimeStop:
		to = TradeClosedSL
	default:
		return fmt.Errorf("trade %s: unknown exit reason %q", t.ID, reason)
	}
	if t.Status != TradeOpen {
		return t.transitionErr(to, "close on a non-OPEN trade")
	}
	t.Status = to
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	t.CompletedAt = at

	direction := 1.0
	if t.Side == OrderSideSell {
		direction = -1.0
	}
	t.GrossPnL = (exitPrice - t.EntryPrice) * float64(t.Quantity) * direction
	t.NetPnL = t.GrossPnL - brokeragePerLeg*2
	return nil
}

// FlagForReview marks the trade for manual review without touching its
// lifecycle state.
func (t *Trade) FlagForReview(message string) {
	t.NeedsReview = true
	t.StatusMessage = message
}

// Archive marks a terminal trade as archived. Records are never deleted.
func (t *Trade) Archive() error {
	if !t.Status.Terminal() {
		return fmt.Errorf("trade %s: cannot archive non-terminal status %s", t.ID, t.Status)
	}
	t.Archived = true
	return nil
}

// PctChange returns the percentage change from entry to exit price.
func (t *Trade) PctChange() float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return (t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100
}
