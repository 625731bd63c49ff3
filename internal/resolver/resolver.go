// Package resolver settles open paper trades against daily OHLC bars
// and enforces the holding-period time stop.
package resolver

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
)

const dailyTimeframe = "day"

// Config holds resolver parameters.
type Config struct {
	MaxHoldingDays  int
	BrokeragePerLeg float64
}

// DefaultConfig returns the standard resolver parameters.
func DefaultConfig() Config {
	return Config{
		MaxHoldingDays:  120,
		BrokeragePerLeg: 20.0,
	}
}

// Resolver walks trades without live bracket legs through the daily bars
// since entry and closes them at the first touched level.
type Resolver struct {
	store  store.TradeStore
	broker broker.Broker
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a resolver.
func New(st store.TradeStore, br broker.Broker, cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  st,
		broker: br,
		cfg:    cfg,
		logger: logger.With().Str("component", "resolver").Logger(),
		now:    time.Now,
	}
}

// Tick resolves all open paper trades against their daily bars, then
// applies the time stop to whatever remains open. Live trades are left
// to the bracket manager entirely.
func (r *Resolver) Tick(ctx context.Context) error {
	trades, err := r.store.ListTrades(ctx, store.TradeFilter{Status: models.TradeOpen})
	if err != nil {
		return apperrors.Wrap(err, "listing open trades")
	}

	for i := range trades {
		t := &trades[i]
		if err := r.resolve(ctx, t); err != nil {
			r.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Resolution failed")
		}
	}

	return nil
}

func (r *Resolver) resolve(ctx context.Context, t *models.Trade) error {
	// Live trades exit through their bracket legs at the brokerage. The
	// record must never claim an exit no acknowledged order produced, so
	// neither the bar sweep nor the time stop applies to them.
	if t.IsLive {
		return nil
	}

	candles, err := r.candlesSince(ctx, t)
	if err != nil {
		return apperrors.NewReconcileError(t.ID, t.Symbol, "fetching daily bars", err)
	}

	if outcome, ok := resolveAgainstBars(t, candles); ok {
		return r.close(ctx, t, outcome)
	}

	if r.holdingExpired(t) {
		price, at, err := r.lastClose(ctx, t)
		if err != nil {
			return apperrors.NewReconcileError(t.ID, t.Symbol, "fetching close for time stop", err)
		}
		return r.close(ctx, t, barOutcome{
			reason:  models.ExitTimeStop,
			price:   price,
			at:      at,
			message: fmt.Sprintf("time stop after %d days", r.cfg.MaxHoldingDays),
		})
	}

	return nil
}

// candlesSince returns daily bars from the entry date through today,
// serving from the local cache when it already covers the range.
func (r *Resolver) candlesSince(ctx context.Context, t *models.Trade) ([]models.Candle, error) {
	from := t.EntryDate.Truncate(24 * time.Hour)
	to := r.now()

	candles, err := r.store.GetCandles(ctx, t.Symbol, dailyTimeframe, from, to)
	if err == nil && covers(candles, to) {
		return candles, nil
	}

	candles, err = r.broker.GetHistorical(ctx, broker.HistoricalRequest{
		Symbol:    t.Symbol,
		Exchange:  t.Exchange,
		Timeframe: dailyTimeframe,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, err
	}

	if err := r.store.SaveCandles(ctx, t.Symbol, dailyTimeframe, candles); err != nil {
		r.logger.Warn().Err(err).Str("symbol", t.Symbol).Msg("Candle cache write failed")
	}

	return candles, nil
}

// covers reports whether the cached bars reach the last completed
// trading day before now.
func covers(candles []models.Candle, now time.Time) bool {
	if len(candles) == 0 {
		return false
	}
	last := candles[len(candles)-1].Timestamp
	return now.Sub(last) < 24*time.Hour
}

type barOutcome struct {
	reason  models.ExitReason
	price   float64
	at      time.Time
	message string
	review  bool
}

// resolveAgainstBars finds the first daily bar that touches the target
// or the stop. On the entry day the bar's extremes predate the fill
// whenever the entry printed at or above the open, so that day is
// skipped unless the trade filled exactly at the open. A day touching
// both levels closes at the stop and is flagged for review, since the
// bar alone cannot order the two touches.
func resolveAgainstBars(t *models.Trade, candles []models.Candle) (barOutcome, bool) {
	for i, c := range candles {
		if i == 0 && t.EntryPrice >= c.Open && t.EntryPrice != c.Open {
			continue
		}

		targetHit := c.High >= t.Target
		stopHit := c.Low <= t.StopLoss

		switch {
		case targetHit && stopHit:
			return barOutcome{
				reason:  models.ExitStopLoss,
				price:   t.StopLoss,
				at:      c.Timestamp,
				message: fmt.Sprintf("target and stop both touched on %s, assumed stop first", c.Timestamp.Format("2006-01-02")),
				review:  true,
			}, true
		case stopHit:
			return barOutcome{
				reason: models.ExitStopLoss,
				price:  t.StopLoss,
				at:     c.Timestamp,
			}, true
		case targetHit:
			return barOutcome{
				reason: models.ExitTarget,
				price:  t.Target,
				at:     c.Timestamp,
			}, true
		}
	}

	return barOutcome{}, false
}

func (r *Resolver) holdingExpired(t *models.Trade) bool {
	if r.cfg.MaxHoldingDays <= 0 || t.EntryDate.IsZero() {
		return false
	}
	return r.now().Sub(t.EntryDate) >= time.Duration(r.cfg.MaxHoldingDays)*24*time.Hour
}

func (r *Resolver) lastClose(ctx context.Context, t *models.Trade) (float64, time.Time, error) {
	candles, err := r.candlesSince(ctx, t)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(candles) == 0 {
		return 0, time.Time{}, apperrors.ErrDataNotFound
	}
	last := candles[len(candles)-1]
	return last.Close, last.Timestamp, nil
}

func (r *Resolver) close(ctx context.Context, t *models.Trade, outcome barOutcome) error {
	if err := t.CloseOnFill(outcome.reason, outcome.price, r.cfg.BrokeragePerLeg, outcome.at); err != nil {
		return err
	}
	if outcome.review {
		t.FlagForReview(outcome.message)
	} else if outcome.message != "" {
		t.StatusMessage = outcome.message
	}

	err := r.store.UpdateTrade(ctx, t)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		metrics.IncVersionConflict("resolver")
		r.logger.Debug().Str("trade_id", t.ID).Msg("Lost version race, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	metrics.IncTradeClosed(string(t.Status))
	metrics.IncExitReason(string(outcome.reason))
	r.logger.Info().
		Str("trade_id", t.ID).
		Str("symbol", t.Symbol).
		Str("status", string(t.Status)).
		Str("reason", string(outcome.reason)).
		Float64("exit_price", outcome.price).
		Float64("net_pnl", t.NetPnL).
		Msg("Trade resolved")

	return nil
}
