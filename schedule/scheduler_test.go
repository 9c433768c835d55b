package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T, tickInterval time.Duration) *Scheduler {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	return New(nil, Config{TickInterval: tickInterval}, logger)
}

func TestIntervalTriggerNext(t *testing.T) {
	trigger := Every(10 * time.Second)
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(10*time.Second), trigger.Next(now))
}

func TestCronTrigger(t *testing.T) {
	trigger, err := Cron("0 3 * * *") // daily at 03:00
	require.NoError(t, err)

	after := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	next := trigger.Next(after)
	assert.Equal(t, 3, next.Hour())
	assert.True(t, next.After(after))
}

func TestCronTriggerDescriptor(t *testing.T) {
	trigger, err := Cron("@hourly")
	require.NoError(t, err)

	after := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)
	next := trigger.Next(after)
	assert.Equal(t, time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC), next)
}

func TestCronTriggerInvalid(t *testing.T) {
	_, err := Cron("not a cron expr")
	assert.Error(t, err)
}

func TestTickFiresDueEntriesOnce(t *testing.T) {
	s := newTestScheduler(t, time.Hour) // loop never ticks on its own

	var fired atomic.Int32
	s.RegisterTask("count", Every(time.Minute), func(ctx context.Context, now time.Time) error {
		fired.Add(1)
		return nil
	})

	s.ctx = context.Background()

	// Not yet due
	s.tick(time.Now())
	assert.Equal(t, int32(0), fired.Load())

	// Due: fires exactly once even when the tick is far past the fire time
	s.tick(time.Now().Add(10 * time.Minute))
	assert.Equal(t, int32(1), fired.Load())

	// Same instant again: next fire was recomputed forward, no backfill
	s.tick(time.Now().Add(10 * time.Minute))
	assert.Equal(t, int32(1), fired.Load())

	// One trigger period later it fires again
	s.tick(time.Now().Add(11 * time.Minute).Add(time.Second))
	assert.Equal(t, int32(2), fired.Load())
}

func TestTickIsolatesTaskFailures(t *testing.T) {
	s := newTestScheduler(t, time.Hour)

	var healthyFired atomic.Int32
	s.RegisterTask("broken", Every(time.Millisecond), func(ctx context.Context, now time.Time) error {
		return assert.AnError
	})
	s.RegisterTask("healthy", Every(time.Millisecond), func(ctx context.Context, now time.Time) error {
		healthyFired.Add(1)
		return nil
	})

	s.ctx = context.Background()
	s.tick(time.Now().Add(time.Second))

	assert.Equal(t, int32(1), healthyFired.Load())
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, 5*time.Millisecond)

	var fired atomic.Int32
	s.RegisterTask("fast", Every(time.Millisecond), func(ctx context.Context, now time.Time) error {
		fired.Add(1)
		return nil
	})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	count := fired.Load()
	assert.Greater(t, count, int32(0))

	// No fires after Stop
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, fired.Load())
}
