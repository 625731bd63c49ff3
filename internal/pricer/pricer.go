// Package pricer converts raw trade signals into order plans, adapting
// the entry price to how far the market has drifted since the signal
// was generated.
package pricer

import (
	"fmt"
	"math"

	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/models"
	"swing-trader/pkg/utils"
)

// SignalRequest is a validated candidate trade from a signal producer.
type SignalRequest struct {
	UserID           string
	Symbol           string
	Exchange         models.Exchange
	Instrument       models.InstrumentKind
	Side             models.OrderSide
	Quantity         int
	SignalPrice      float64
	StopLoss         float64
	Target           float64
	TrailingEnabled  bool
	TrailingDistance float64 // percent
}

// Validate rejects malformed signals before any trade is constructed.
func (r *SignalRequest) Validate() error {
	if r.Symbol == "" {
		return apperrors.NewValidationError("symbol", r.Symbol, "must not be empty")
	}
	if r.Side != models.OrderSideBuy && r.Side != models.OrderSideSell {
		return apperrors.NewValidationError("side", r.Side, "must be BUY or SELL")
	}
	if r.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", r.Quantity, "must be positive")
	}
	if r.SignalPrice <= 0 {
		return apperrors.NewValidationError("signal_price", r.SignalPrice, "must be positive")
	}
	if r.StopLoss <= 0 {
		return apperrors.NewValidationError("stop_loss", r.StopLoss, "must be positive")
	}
	if r.Target <= 0 {
		return apperrors.NewValidationError("target", r.Target, "must be positive")
	}
	if r.Side == models.OrderSideBuy {
		if r.StopLoss >= r.SignalPrice {
			return apperrors.NewValidationError("stop_loss", r.StopLoss, "must be below signal price for a buy")
		}
		if r.Target <= r.SignalPrice {
			return apperrors.NewValidationError("target", r.Target, "must be above signal price for a buy")
		}
	} else {
		if r.StopLoss <= r.SignalPrice {
			return apperrors.NewValidationError("stop_loss", r.StopLoss, "must be above signal price for a sell")
		}
		if r.Target >= r.SignalPrice {
			return apperrors.NewValidationError("target", r.Target, "must be below signal price for a sell")
		}
	}
	if r.TrailingEnabled && (r.TrailingDistance <= 0 || r.TrailingDistance >= 100) {
		return apperrors.NewValidationError("trailing_distance", r.TrailingDistance, "must be between 0 and 100 percent")
	}
	return nil
}

// OrderPlan is the pricer's verdict on a signal. Either Rejected is set
// with a reason, or OrderType and Price describe the entry order to
// place, with the position's money metrics alongside for operator
// display. Producing a plan has no side effects; the caller decides
// whether to persist a trade.
type OrderPlan struct {
	Rejected  bool
	Reason    string
	OrderType models.OrderType
	Price     float64

	OrderValue float64 // capital deployed at the planned entry
	Risk       float64 // loss if the stop fills
	Reward     float64 // gain if the target fills
	RiskReward float64 // reward per unit of risk, 0 when risk is not positive
}

// Config holds the pricing bands and momentum pre-check thresholds.
type Config struct {
	TolerancePercent    float64 // movement below this uses the signal price as-is
	MaxDeviationPercent float64 // movement above this rejects the signal

	MomentumMoveRatio    float64 // fraction of distance-to-target already traversed by the day's high
	MomentumRevertWindow float64 // fraction of signal price the current price is back within
	MomentumDrawdown     float64 // fraction below the day's high
}

// DefaultConfig returns the default pricing configuration.
func DefaultConfig() Config {
	return Config{
		TolerancePercent:     2.0,
		MaxDeviationPercent:  5.0,
		MomentumMoveRatio:    0.30,
		MomentumRevertWindow: 0.01,
		MomentumDrawdown:     0.03,
	}
}

// Pricer computes order plans from signals and quotes.
type Pricer struct {
	cfg Config
}

// New creates a pricer with the given configuration.
func New(cfg Config) *Pricer {
	return &Pricer{cfg: cfg}
}

// Plan decides how to enter for the given signal against the current
// quote. The momentum pre-check applies regardless of how small the raw
// movement is: a day that already ran toward the target and came back is
// rejected even if the price sits right at the signal level.
func (p *Pricer) Plan(req *SignalRequest, quote *models.Quote) (OrderPlan, error) {
	if err := req.Validate(); err != nil {
		return OrderPlan{}, err
	}
	if quote == nil || quote.LTP <= 0 {
		return OrderPlan{}, fmt.Errorf("%w: no usable quote for %s", apperrors.ErrInvalidSignal, req.Symbol)
	}

	if reason, lost := p.momentumAlreadyLost(req, quote); lost {
		return OrderPlan{Rejected: true, Reason: reason}, nil
	}

	movement := (quote.LTP - req.SignalPrice) / req.SignalPrice
	absMove := math.Abs(movement) * 100

	switch {
	case absMove < p.cfg.TolerancePercent:
		// Close enough: wait at the signal price for a pullback.
		return accepted(req, utils.RoundToTick(req.SignalPrice, utils.NSETickSize)), nil

	case absMove <= p.cfg.MaxDeviationPercent:
		mid := (req.SignalPrice + quote.LTP) / 2
		return accepted(req, utils.RoundToTick(mid, utils.NSETickSize)), nil

	default:
		return OrderPlan{
			Rejected: true,
			Reason: fmt.Sprintf("movement exceeds tolerance: price moved %.2f%% from signal (max %.2f%%)",
				absMove, p.cfg.MaxDeviationPercent),
		}, nil
	}
}

// accepted builds the plan for an entry at price, attaching the order
// value, risk, reward and reward-to-risk ratio at that entry.
func accepted(req *SignalRequest, price float64) OrderPlan {
	qty := float64(req.Quantity)
	direction := 1.0
	if req.Side == models.OrderSideSell {
		direction = -1.0
	}

	plan := OrderPlan{
		OrderType:  models.OrderTypeLimit,
		Price:      price,
		OrderValue: price * qty,
		Risk:       (price - req.StopLoss) * qty * direction,
		Reward:     (req.Target - price) * qty * direction,
	}
	if plan.Risk > 0 {
		plan.RiskReward = plan.Reward / plan.Risk
	}
	return plan
}

// momentumAlreadyLost checks whether the day's action already ran toward
// the target and reverted before we ever entered.
func (p *Pricer) momentumAlreadyLost(req *SignalRequest, quote *models.Quote) (string, bool) {
	if req.Side != models.OrderSideBuy || quote.High <= 0 {
		return "", false
	}

	distance := req.Target - req.SignalPrice
	if distance <= 0 {
		return "", false
	}

	movementToTarget := (quote.High - req.SignalPrice) / distance
	reversion := (quote.LTP - req.SignalPrice) / req.SignalPrice
	drawdownFromHigh := (quote.High - quote.LTP) / quote.High

	if movementToTarget >= p.cfg.MomentumMoveRatio &&
		math.Abs(reversion) < p.cfg.MomentumRevertWindow &&
		drawdownFromHigh >= p.cfg.MomentumDrawdown {
		return fmt.Sprintf("momentum already lost: day high covered %.1f%% of target distance, price back within %.2f%% of signal, %.1f%% off the high",
			movementToTarget*100, math.Abs(reversion)*100, drawdownFromHigh*100), true
	}

	return "", false
}
