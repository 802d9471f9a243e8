package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/pkg/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestGateway(cfg Config, clock Clock, opts ...Option) *Gateway {
	opts = append([]Option{WithClock(clock), WithLogger(nopLogger())}, opts...)
	return New(cfg, opts...)
}

func waitFuture(t *testing.T, f *Future) (interface{}, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future did not complete")
	return v, err
}

func succeed(v interface{}) Job {
	return func(context.Context) (interface{}, error) { return v, nil }
}

func rateLimited() Job {
	return func(context.Context) (interface{}, error) {
		return nil, fmt.Errorf("coins/markets: %w", ErrRateLimited)
	}
}

type countingRecorder struct {
	calls, failures, rateLimited, cooldownRejections, pacedWaits int64
}

func (r *countingRecorder) RecordUpstreamCall(_ time.Duration, success bool) {
	atomic.AddInt64(&r.calls, 1)
	if !success {
		atomic.AddInt64(&r.failures, 1)
	}
}
func (r *countingRecorder) RecordRateLimited()            { atomic.AddInt64(&r.rateLimited, 1) }
func (r *countingRecorder) RecordCooldownRejection()      { atomic.AddInt64(&r.cooldownRejections, 1) }
func (r *countingRecorder) RecordPacedWait(time.Duration) { atomic.AddInt64(&r.pacedWaits, 1) }

func TestGatewayCooldownScenario(t *testing.T) {
	clock := newFakeClock()
	recorder := &countingRecorder{}
	gw := newTestGateway(Config{
		BaseDelay:        12 * time.Second,
		MaxDelay:         60 * time.Second,
		FailureThreshold: 1,
		CooldownDuration: 60 * time.Second,
	}, clock, WithMetrics(recorder))
	defer gw.Close()

	// Job A succeeds.
	v, err := waitFuture(t, gw.Submit(context.Background(), succeed("A")))
	require.NoError(t, err)
	assert.Equal(t, "A", v)

	// Job B, submitted 1ms later, is paced by the base delay and then rate limited.
	clock.Advance(time.Millisecond)
	futureB := gw.Submit(context.Background(), rateLimited())
	clock.waitForSleepers(t, 1)
	clock.Advance(12 * time.Second)
	_, err = waitFuture(t, futureB)
	assert.ErrorIs(t, err, ErrRateLimited)

	state := gw.Snapshot()
	assert.True(t, state.InCooldown)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.True(t, gw.Throttled())

	// Job C, 10ms later, is rejected without running.
	clock.Advance(10 * time.Millisecond)
	var cCalled int32
	futureC := gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
		atomic.StoreInt32(&cCalled, 1)
		return nil, nil
	})
	select {
	case <-futureC.Done():
	default:
		t.Fatal("cooldown rejection should be immediate")
	}
	_, err = waitFuture(t, futureC)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cCalled))
	assert.Equal(t, 60*time.Second-10*time.Millisecond, gw.Snapshot().CooldownRemaining)

	// Job D, 61s after B, is accepted and runs without further pacing.
	clock.Advance(61*time.Second - 10*time.Millisecond)
	state = gw.Snapshot()
	assert.False(t, state.InCooldown)
	assert.Equal(t, 0, state.ConsecutiveFailures)

	v, err = waitFuture(t, gw.Submit(context.Background(), succeed("D")))
	require.NoError(t, err)
	assert.Equal(t, "D", v)

	assert.Equal(t, int64(3), atomic.LoadInt64(&recorder.calls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&recorder.rateLimited))
	assert.Equal(t, int64(1), atomic.LoadInt64(&recorder.cooldownRejections))
	assert.Equal(t, int64(1), atomic.LoadInt64(&recorder.pacedWaits))
}

func TestGatewayFIFO(t *testing.T) {
	gw := newTestGateway(Config{FailureThreshold: 3, CooldownDuration: time.Second}, RealClock())
	defer gw.Close()

	var (
		mu        sync.Mutex
		order     []int
		active    int32
		overlaps  int32
		futures   []*Future
		submitted = 50
	)

	for i := 0; i < submitted; i++ {
		i := i
		futures = append(futures, gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			defer atomic.AddInt32(&active, -1)

			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}

	for i, f := range futures {
		v, err := waitFuture(t, f)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	expected := make([]int, submitted)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
	assert.Equal(t, int32(0), overlaps)
}

func TestGatewayBackoffEscalation(t *testing.T) {
	clock := newFakeClock()
	gw := newTestGateway(Config{
		BaseDelay:        time.Second,
		MaxDelay:         3 * time.Second,
		FailureThreshold: 5,
		CooldownDuration: time.Minute,
	}, clock)
	defer gw.Close()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	record := func(err error) Job {
		return func(context.Context) (interface{}, error) {
			mu.Lock()
			times = append(times, clock.Now())
			mu.Unlock()
			return nil, err
		}
	}

	rl := fmt.Errorf("429: %w", ErrRateLimited)
	futures := []*Future{
		gw.Submit(context.Background(), record(rl)),
		gw.Submit(context.Background(), record(rl)),
		gw.Submit(context.Background(), record(rl)),
		gw.Submit(context.Background(), record(nil)),
		gw.Submit(context.Background(), record(nil)),
	}

	_, err := waitFuture(t, futures[0])
	assert.ErrorIs(t, err, ErrRateLimited)

	// One failure: 2s. Advancing short of it must not release the job.
	clock.waitForSleepers(t, 1)
	clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, 1, clock.sleepers())
	clock.Advance(time.Millisecond)
	_, err = waitFuture(t, futures[1])
	assert.ErrorIs(t, err, ErrRateLimited)

	// Two and three failures are both capped at 3s.
	for _, f := range futures[2:4] {
		clock.waitForSleepers(t, 1)
		clock.Advance(3 * time.Second)
		_, _ = waitFuture(t, f)
	}
	assert.Equal(t, 0, gw.Snapshot().ConsecutiveFailures)

	// Success reset the counter, so the last job only waits the base delay.
	clock.waitForSleepers(t, 1)
	clock.Advance(time.Second)
	_, err = waitFuture(t, futures[4])
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 5)
	gaps := []time.Duration{}
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]))
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 3 * time.Second, time.Second}, gaps)
	assert.False(t, gw.Snapshot().InCooldown)
}

func TestGatewayNonRateLimitFailureKeepsBackoffState(t *testing.T) {
	clock := newFakeClock()
	gw := newTestGateway(Config{
		BaseDelay:        time.Second,
		MaxDelay:         10 * time.Second,
		FailureThreshold: 1,
		CooldownDuration: time.Minute,
	}, clock)
	defer gw.Close()

	upstreamErr := fmt.Errorf("status 500: %w", ErrUpstreamFailure)
	_, err := waitFuture(t, gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
		return nil, upstreamErr
	}))
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	state := gw.Snapshot()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.False(t, state.InCooldown)
	assert.False(t, gw.Throttled())

	next := gw.Submit(context.Background(), succeed(1))
	clock.waitForSleepers(t, 1)
	clock.Advance(time.Second)
	_, err = waitFuture(t, next)
	require.NoError(t, err)
}

func TestGatewayCooldownRejectsQueuedJobs(t *testing.T) {
	gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Hour}, newFakeClock())
	defer gw.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	first := gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, ErrRateLimited
	})
	<-started

	var queuedCalls int32
	queued := make([]*Future, 3)
	for i := range queued {
		queued[i] = gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
			atomic.AddInt32(&queuedCalls, 1)
			return nil, nil
		})
	}
	assert.Equal(t, 3, gw.Snapshot().QueueLength)
	assert.True(t, gw.Snapshot().Executing)

	close(release)
	_, err := waitFuture(t, first)
	assert.ErrorIs(t, err, ErrRateLimited)

	for _, f := range queued {
		_, err := waitFuture(t, f)
		assert.ErrorIs(t, err, ErrCooldownActive)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&queuedCalls))
	assert.Equal(t, 0, gw.Snapshot().QueueLength)
}

func TestGatewayThresholdCountsConsecutiveFailures(t *testing.T) {
	gw := newTestGateway(Config{FailureThreshold: 3, CooldownDuration: time.Hour}, newFakeClock())
	defer gw.Close()

	for i := 1; i <= 2; i++ {
		_, err := waitFuture(t, gw.Submit(context.Background(), rateLimited()))
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, i, gw.Snapshot().ConsecutiveFailures)
		assert.False(t, gw.Snapshot().InCooldown)
	}
	assert.False(t, gw.Throttled())

	_, err := waitFuture(t, gw.Submit(context.Background(), rateLimited()))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, gw.Snapshot().InCooldown)
}

func TestGatewayCustomClassifier(t *testing.T) {
	throttled := errors.New("quota exhausted")
	gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Hour}, newFakeClock(),
		WithRateLimitClassifier(func(err error) bool { return errors.Is(err, throttled) }))
	defer gw.Close()

	_, err := waitFuture(t, gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
		return nil, throttled
	}))
	assert.ErrorIs(t, err, throttled)
	assert.True(t, gw.Snapshot().InCooldown)
}

func TestGatewayWaitAbandonDoesNotCancelJob(t *testing.T) {
	gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Hour}, newFakeClock())
	defer gw.Close()

	type ctxKey struct{}
	release := make(chan struct{})
	jobErr := make(chan error, 1)
	jobValue := make(chan interface{}, 1)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "corr"))
	future := gw.Submit(ctx, func(jobCtx context.Context) (interface{}, error) {
		<-release
		jobErr <- jobCtx.Err()
		jobValue <- jobCtx.Value(ctxKey{})
		return "done", nil
	})

	cancel()
	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := waitFuture(t, future)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.NoError(t, <-jobErr)
	assert.Equal(t, "corr", <-jobValue)
}

func TestGatewayClose(t *testing.T) {
	t.Run("RejectsQueuedAndNewJobs", func(t *testing.T) {
		gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Hour}, newFakeClock())

		started := make(chan struct{})
		release := make(chan struct{})
		running := gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return "finished", nil
		})
		<-started
		queued := gw.Submit(context.Background(), succeed("never"))

		gw.Close()
		_, err := waitFuture(t, queued)
		assert.ErrorIs(t, err, ErrClosed)

		_, err = waitFuture(t, gw.Submit(context.Background(), succeed("late")))
		assert.ErrorIs(t, err, ErrClosed)

		close(release)
		v, err := waitFuture(t, running)
		require.NoError(t, err)
		assert.Equal(t, "finished", v)
		assert.True(t, gw.Snapshot().Closed)

		gw.Close()
	})

	t.Run("InterruptsPacingWait", func(t *testing.T) {
		clock := newFakeClock()
		gw := newTestGateway(Config{BaseDelay: time.Minute, MaxDelay: time.Minute, FailureThreshold: 1}, clock)

		_, err := waitFuture(t, gw.Submit(context.Background(), succeed(1)))
		require.NoError(t, err)

		paced := gw.Submit(context.Background(), succeed(2))
		clock.waitForSleepers(t, 1)
		gw.Close()

		_, err = waitFuture(t, paced)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("StopsCooldownTimer", func(t *testing.T) {
		clock := newFakeClock()
		gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Minute}, clock)

		_, err := waitFuture(t, gw.Submit(context.Background(), rateLimited()))
		assert.ErrorIs(t, err, ErrRateLimited)
		gw.Close()

		clock.Advance(2 * time.Minute)
		assert.True(t, gw.Snapshot().InCooldown)
	})
}

func TestRequiredDelay(t *testing.T) {
	gw := newTestGateway(Config{
		BaseDelay:        12 * time.Second,
		MaxDelay:         60 * time.Second,
		FailureThreshold: 10,
		CooldownDuration: time.Minute,
	}, newFakeClock())
	defer gw.Close()

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 12 * time.Second},
		{1, 24 * time.Second},
		{2, 48 * time.Second},
		{3, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		gw.mu.Lock()
		gw.failures = tt.failures
		got := gw.requiredDelayLocked()
		gw.mu.Unlock()
		assert.Equal(t, tt.want, got, "failures=%d", tt.failures)
	}
}

func TestGatewaySurvivesPanickingJob(t *testing.T) {
	metrics := &countingRecorder{}
	gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Hour}, newFakeClock(), WithMetrics(metrics))
	defer gw.Close()

	_, err := waitFuture(t, gw.Submit(context.Background(), func(context.Context) (interface{}, error) {
		panic("decoder exploded")
	}))
	require.ErrorIs(t, err, ErrUpstreamFailure)
	assert.Contains(t, err.Error(), "decoder exploded")

	v, err := waitFuture(t, gw.Submit(context.Background(), succeed("after")))
	require.NoError(t, err)
	assert.Equal(t, "after", v)

	state := gw.Snapshot()
	assert.False(t, state.Executing)
	assert.Equal(t, 0, state.QueueLength)
	assert.Equal(t, int64(2), atomic.LoadInt64(&metrics.calls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&metrics.failures))
}
