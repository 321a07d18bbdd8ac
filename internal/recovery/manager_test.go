package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/observability"
)

var testMetrics = observability.NewMetrics("test_recovery")

func newTestManager() *Manager {
	return NewManager(config.RecoveryConfig{
		Cooldown:      5 * time.Minute,
		HistorySize:   100,
		ActionTimeout: time.Second,
	}, zerolog.Nop(), testMetrics)
}

func TestManager_Register(t *testing.T) {
	m := newTestManager()

	require.NoError(t, m.Register(Action{
		Name:      "reconnect",
		Condition: ConditionDatabaseConnectionFailed,
		Enabled:   true,
		Handler:   func(ctx context.Context) error { return nil },
	}))

	t.Run("duplicate names rejected", func(t *testing.T) {
		err := m.Register(Action{
			Name:      "reconnect",
			Condition: ConditionDatabaseConnectionFailed,
			Handler:   func(ctx context.Context) error { return nil },
		})
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("handler required", func(t *testing.T) {
		err := m.Register(Action{Name: "x", Condition: "y"})
		assert.ErrorContains(t, err, "handler is required")
	})
}

func TestManager_Trigger(t *testing.T) {
	ctx := context.Background()

	t.Run("runs bound actions", func(t *testing.T) {
		m := newTestManager()
		var calls int32

		require.NoError(t, m.Register(Action{
			Name:        "reconnect",
			Condition:   ConditionDatabaseConnectionFailed,
			MaxAttempts: 3,
			Enabled:     true,
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		}))

		results := m.Trigger(ctx, ConditionDatabaseConnectionFailed)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSuccess, results[0].Status)
		assert.Equal(t, 1, results[0].Attempts)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("unknown condition yields no results", func(t *testing.T) {
		m := newTestManager()
		assert.Empty(t, m.Trigger(ctx, "disk_space_low"))
	})

	t.Run("disabled actions do not run", func(t *testing.T) {
		m := newTestManager()
		require.NoError(t, m.Register(Action{
			Name:      "dormant",
			Condition: ConditionQueueBacklogHigh,
			Enabled:   false,
			Handler: func(ctx context.Context) error {
				t.Fatal("disabled action ran")
				return nil
			},
		}))

		assert.Empty(t, m.Trigger(ctx, ConditionQueueBacklogHigh))
	})

	t.Run("retries up to max attempts", func(t *testing.T) {
		m := newTestManager()
		var calls int32

		require.NoError(t, m.Register(Action{
			Name:        "flaky",
			Condition:   ConditionSourceRateLimited,
			MaxAttempts: 3,
			Delay:       time.Millisecond,
			Enabled:     true,
			Handler: func(ctx context.Context) error {
				if atomic.AddInt32(&calls, 1) < 3 {
					return errors.New("still broken")
				}
				return nil
			},
		}))

		results := m.Trigger(ctx, ConditionSourceRateLimited)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSuccess, results[0].Status)
		assert.Equal(t, 3, results[0].Attempts)
	})

	t.Run("exhausted attempts fail and start cooldown", func(t *testing.T) {
		m := newTestManager()

		require.NoError(t, m.Register(Action{
			Name:        "doomed",
			Condition:   ConditionDatabaseConnectionFailed,
			MaxAttempts: 2,
			Delay:       time.Millisecond,
			Enabled:     true,
			Handler: func(ctx context.Context) error {
				return errors.New("no database")
			},
		}))

		results := m.Trigger(ctx, ConditionDatabaseConnectionFailed)
		require.Len(t, results, 1)
		assert.Equal(t, StatusFailed, results[0].Status)
		assert.Equal(t, 2, results[0].Attempts)
		assert.Contains(t, results[0].Error, "no database")

		// Retrigger during cooldown is skipped, not re-attempted.
		results = m.Trigger(ctx, ConditionDatabaseConnectionFailed)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSkipped, results[0].Status)
	})

	t.Run("cooldown expires", func(t *testing.T) {
		m := newTestManager()
		current := time.Now()
		m.now = func() time.Time { return current }

		var healthy atomic.Bool
		require.NoError(t, m.Register(Action{
			Name:        "recovering",
			Condition:   ConditionDatabaseConnectionFailed,
			MaxAttempts: 1,
			Enabled:     true,
			Handler: func(ctx context.Context) error {
				if healthy.Load() {
					return nil
				}
				return errors.New("down")
			},
		}))

		results := m.Trigger(ctx, ConditionDatabaseConnectionFailed)
		require.Equal(t, StatusFailed, results[0].Status)

		healthy.Store(true)
		current = current.Add(6 * time.Minute)

		results = m.Trigger(ctx, ConditionDatabaseConnectionFailed)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSuccess, results[0].Status)
	})

	t.Run("attempt timeout is enforced", func(t *testing.T) {
		m := newTestManager()

		require.NoError(t, m.Register(Action{
			Name:        "slow",
			Condition:   ConditionQueueBacklogHigh,
			MaxAttempts: 1,
			Timeout:     10 * time.Millisecond,
			Enabled:     true,
			Handler: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}))

		results := m.Trigger(ctx, ConditionQueueBacklogHigh)
		require.Len(t, results, 1)
		assert.Equal(t, StatusFailed, results[0].Status)
		assert.Contains(t, results[0].Error, "context deadline exceeded")
	})
}

func TestManager_HistoryAndStats(t *testing.T) {
	ctx := context.Background()

	t.Run("history is bounded", func(t *testing.T) {
		m := NewManager(config.RecoveryConfig{
			Cooldown:    time.Nanosecond,
			HistorySize: 3,
		}, zerolog.Nop(), testMetrics)

		require.NoError(t, m.Register(Action{
			Name:      "noop",
			Condition: "c",
			Enabled:   true,
			Handler:   func(ctx context.Context) error { return nil },
		}))

		for i := 0; i < 5; i++ {
			m.Trigger(ctx, "c")
		}

		assert.Len(t, m.History(), 3)
	})

	t.Run("stats compute success rate over executed runs", func(t *testing.T) {
		m := NewManager(config.RecoveryConfig{
			Cooldown:    time.Nanosecond,
			HistorySize: 100,
		}, zerolog.Nop(), testMetrics)

		var fail atomic.Bool
		require.NoError(t, m.Register(Action{
			Name:      "sometimes",
			Condition: "c",
			Enabled:   true,
			Handler: func(ctx context.Context) error {
				if fail.Load() {
					return errors.New("nope")
				}
				return nil
			},
		}))

		m.Trigger(ctx, "c")
		m.Trigger(ctx, "c")
		fail.Store(true)
		m.Trigger(ctx, "c")

		stats := m.Stats()
		require.Len(t, stats, 1)
		assert.Equal(t, "sometimes", stats[0].Action)
		assert.Equal(t, 3, stats[0].Total)
		assert.Equal(t, 2, stats[0].Succeeded)
		assert.Equal(t, 1, stats[0].Failed)
		assert.InDelta(t, 2.0/3.0, stats[0].SuccessRate, 1e-9)
	})
}
