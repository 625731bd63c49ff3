package worker

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swing-trader/internal/resilience"
	"swing-trader/internal/store"
)

func newWorkerStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunnerTicksAndHeartbeats(t *testing.T) {
	st := newWorkerStore(t)
	market := resilience.NewMarketHoursManager()

	var ticks atomic.Int64
	r := NewRunner("test", 5*time.Millisecond, 5*time.Millisecond, false,
		func(ctx context.Context) error {
			ticks.Add(1)
			return nil
		}, market, st, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, ticks.Load(), int64(2))

	beats, err := st.GetWorkerHeartbeats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, beats, "test")
}

func TestRunnerKeepsGoingAfterTickError(t *testing.T) {
	st := newWorkerStore(t)
	market := resilience.NewMarketHoursManager()

	var ticks atomic.Int64
	r := NewRunner("flaky", 5*time.Millisecond, 5*time.Millisecond, false,
		func(ctx context.Context) error {
			ticks.Add(1)
			return context.DeadlineExceeded
		}, market, st, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, ticks.Load(), int64(2))
}

func TestSupervisorStartStop(t *testing.T) {
	st := newWorkerStore(t)
	market := resilience.NewMarketHoursManager()

	var ticks atomic.Int64
	runners := []*Runner{
		NewRunner("a", 5*time.Millisecond, 5*time.Millisecond, false,
			func(ctx context.Context) error { ticks.Add(1); return nil },
			market, st, zerolog.Nop()),
		NewRunner("b", 5*time.Millisecond, 5*time.Millisecond, false,
			func(ctx context.Context) error { ticks.Add(1); return nil },
			market, st, zerolog.Nop()),
	}

	sup := NewSupervisor(runners, st, zerolog.Nop())
	sup.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sup.Stop()

	ran := ticks.Load()
	assert.GreaterOrEqual(t, ran, int64(2))

	// No ticks after Stop returns.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ran, ticks.Load())
}
