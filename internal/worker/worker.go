// Package worker schedules the lifecycle engines on market-hours-aware
// intervals.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"swing-trader/internal/metrics"
	"swing-trader/internal/resilience"
	"swing-trader/internal/store"
)

// TickFunc is one pass of a lifecycle engine.
type TickFunc func(ctx context.Context) error

// Runner drives a single engine. While the market is open it ticks at
// Interval; outside market hours it backs off to OffHoursInterval, or
// sleeps through to the next open when MarketHoursOnly is set.
type Runner struct {
	Name             string
	Interval         time.Duration
	OffHoursInterval time.Duration
	MarketHoursOnly  bool
	Tick             TickFunc

	market *resilience.MarketHoursManager
	store  store.TradeStore
	logger zerolog.Logger
}

// NewRunner creates a runner for one engine.
func NewRunner(name string, interval, offHours time.Duration, marketHoursOnly bool, tick TickFunc, market *resilience.MarketHoursManager, st store.TradeStore, logger zerolog.Logger) *Runner {
	return &Runner{
		Name:             name,
		Interval:         interval,
		OffHoursInterval: offHours,
		MarketHoursOnly:  marketHoursOnly,
		Tick:             tick,
		market:           market,
		store:            st,
		logger:           logger.With().Str("worker", name).Logger(),
	}
}

// Run loops until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.Interval).Msg("Worker started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Worker stopped")
			return
		case <-timer.C:
		}

		open := r.market.IsMarketOpen()
		if open || !r.MarketHoursOnly {
			r.runOnce(ctx)
		}

		timer.Reset(r.nextDelay(open))
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	metrics.IncWorkerRun(r.Name)

	if err := r.Tick(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Worker tick failed")
	}

	if err := r.store.SetWorkerHeartbeat(ctx, r.Name, time.Now()); err != nil {
		r.logger.Warn().Err(err).Msg("Heartbeat write failed")
	}
}

// nextDelay returns how long to sleep before the next tick. A worker
// that only runs during market hours sleeps until shortly before the
// next open instead of polling all night.
func (r *Runner) nextDelay(marketOpen bool) time.Duration {
	if marketOpen {
		return r.Interval
	}
	if !r.MarketHoursOnly {
		return r.OffHoursInterval
	}

	until := time.Until(r.market.GetNextMarketOpen())
	if until < r.Interval {
		return r.Interval
	}
	// Wake a minute early so the first tick lands at the open.
	return until - time.Minute
}

// Supervisor owns the set of runners and their shared cancellation.
type Supervisor struct {
	runners []*Runner
	store   store.TradeStore
	logger  zerolog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a supervisor over the given runners.
func NewSupervisor(runners []*Runner, st store.TradeStore, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		runners: runners,
		store:   st,
		logger:  logger.With().Str("component", "supervisor").Logger(),
	}
}

// Start launches every runner. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		sub := make(chan struct{}, len(s.runners))
		for _, r := range s.runners {
			r := r
			go func() {
				r.Run(ctx)
				sub <- struct{}{}
			}()
		}
		for range s.runners {
			<-sub
		}
	}()

	s.logger.Info().Int("workers", len(s.runners)).Msg("Supervisor started")
}

// Stop cancels all runners and waits for them to exit.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Msg("Supervisor stopped")
}

// Status returns the last recorded heartbeat per worker.
func (s *Supervisor) Status(ctx context.Context) (map[string]time.Time, error) {
	return s.store.GetWorkerHeartbeats(ctx)
}
