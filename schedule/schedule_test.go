package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidation(t *testing.T) {
	s := New(testLogger())

	assert.Error(t, s.Register(Job{Interval: time.Second, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{ID: "a", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{ID: "a", Interval: time.Second}))

	require.NoError(t, s.Register(Job{ID: "a", Interval: time.Second, Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{ID: "a", Interval: time.Second, Run: func(context.Context) error { return nil }}))
}

func TestJobRunsOnInterval(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		ID:       "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	s := New(testLogger())

	var concurrent, peak atomic.Int32
	require.NoError(t, s.Register(Job{
		ID:       "slow",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			cur := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(40 * time.Millisecond)
			return nil
		},
	}))

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), peak.Load())
}

func TestTrigger(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		ID:       "manual",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Trigger(context.Background(), "manual"))
	assert.Error(t, s.Trigger(context.Background(), "unknown"))

	assert.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestTriggeredJobOutlivesCaller(t *testing.T) {
	s := New(testLogger())

	ctxErr := make(chan error, 1)
	require.NoError(t, s.Register(Job{
		ID:       "poll",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			ctxErr <- ctx.Err()
			return nil
		},
	}))

	s.Start(context.Background())
	defer s.Stop()

	callerCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Trigger(callerCtx, "poll"))
	cancel()

	select {
	case err := <-ctxErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("triggered job never ran")
	}

	assert.Error(t, s.Trigger(callerCtx, "poll"))
}

func TestJobErrorDoesNotStopSchedule(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		ID:       "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}))

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(testLogger())

	var finished atomic.Bool
	require.NoError(t, s.Register(Job{
		ID:       "long",
		Interval: time.Hour,
		Run: func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))

	s.Start(context.Background())
	require.NoError(t, s.Trigger(context.Background(), "long"))
	time.Sleep(5 * time.Millisecond)
	s.Stop()

	assert.True(t, finished.Load())
}
