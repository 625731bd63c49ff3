package models

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newPlacedTrade() *Trade {
	return &Trade{
		ID:          "t-1",
		Symbol:      "RELIANCE",
		Exchange:    NSE,
		Side:        OrderSideBuy,
		Quantity:    10,
		SignalPrice: 100,
		StopLoss:    95,
		Target:      110,
		Status:      TradePlaced,
		CreatedAt:   time.Now(),
	}
}

// Property: the high-water mark never decreases, no matter what sequence
// of prices is observed.
func TestProperty_HighWatermarkMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ObserveHigh never lowers HighestPrice", prop.ForAll(
		func(prices []float64) bool {
			tr := newPlacedTrade()
			if err := tr.MarkOpen(100, "stop-1", "target-1", time.Now()); err != nil {
				return false
			}

			prev := tr.HighestPrice
			for _, p := range prices {
				tr.ObserveHigh(p)
				if tr.HighestPrice < prev {
					t.Logf("watermark dropped from %f to %f after observing %f", prev, tr.HighestPrice, p)
					return false
				}
				prev = tr.HighestPrice
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0, 10000)),
	))

	properties.TestingRun(t)
}

// Property: RaiseStop only ever moves the stop up, and rejects anything
// at or below the current stop.
func TestProperty_StopRatchetMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("RaiseStop is a one-way ratchet", prop.ForAll(
		func(candidates []float64) bool {
			tr := newPlacedTrade()
			if err := tr.MarkOpen(100, "stop-1", "target-1", time.Now()); err != nil {
				return false
			}

			for _, c := range candidates {
				before := tr.StopLoss
				err := tr.RaiseStop(c, time.Now())
				if c <= before && err == nil {
					t.Logf("accepted non-raising stop %f (current %f)", c, before)
					return false
				}
				if tr.StopLoss < before {
					t.Logf("stop dropped from %f to %f", before, tr.StopLoss)
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(50, 150)),
	))

	properties.TestingRun(t)
}

// Property: from PLACED, any sequence of transition attempts ends in one
// of the allowed paths; terminal states accept no further transitions.
func TestProperty_LifecycleMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	type step int
	const (
		stepOpen step = iota
		stepCancel
		stepCloseTarget
		stepCloseStop
	)

	properties.Property("status only moves forward", prop.ForAll(
		func(steps []int) bool {
			tr := newPlacedTrade()
			seen := []TradeStatus{tr.Status}

			for _, s := range steps {
				switch step(s % 4) {
				case stepOpen:
					tr.MarkOpen(100, "stop-1", "target-1", time.Now())
				case stepCancel:
					tr.CancelEntry("test", time.Now())
				case stepCloseTarget:
					tr.CloseOnFill(ExitTarget, 110, 20, time.Now())
				case stepCloseStop:
					tr.CloseOnFill(ExitStopLoss, 95, 20, time.Now())
				}
				seen = append(seen, tr.Status)
			}

			// No transition out of a terminal state.
			for i := 1; i < len(seen); i++ {
				if seen[i-1].Terminal() && seen[i] != seen[i-1] {
					t.Logf("left terminal state %s for %s", seen[i-1], seen[i])
					return false
				}
			}

			// CANCELLED is only reachable from PLACED.
			for i := 1; i < len(seen); i++ {
				if seen[i] == TradeCancelled && seen[i-1] != TradePlaced && seen[i-1] != TradeCancelled {
					t.Logf("reached CANCELLED from %s", seen[i-1])
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
