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

	"github.com/milopalmaerts/Crypto/pkg/cache"
	"github.com/milopalmaerts/Crypto/pkg/mutex"
)

type hitMissRecorder struct {
	hits, misses int64
}

func (r *hitMissRecorder) RecordCacheHit()  { atomic.AddInt64(&r.hits, 1) }
func (r *hitMissRecorder) RecordCacheMiss() { atomic.AddInt64(&r.misses, 1) }

func newTestReadThrough(t *testing.T, clock *fakeClock, ttl time.Duration) (*ReadThrough, *hitMissRecorder) {
	t.Helper()
	gw := newTestGateway(Config{FailureThreshold: 1, CooldownDuration: time.Minute}, clock)
	t.Cleanup(gw.Close)

	store := cache.New(ttl, 0, cache.WithNow(clock.Now))
	t.Cleanup(store.Stop)

	recorder := &hitMissRecorder{}
	return NewReadThrough(gw, store, mutex.New(), recorder), recorder
}

func TestReadThroughTTL(t *testing.T) {
	clock := newFakeClock()
	rt, recorder := newTestReadThrough(t, clock, 300000*time.Millisecond)
	ctx := context.Background()

	var calls int32
	producer := func(context.Context) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		return []byte(fmt.Sprintf(`{"call":%d}`, n)), nil
	}

	data, cached, err := rt.Fetch(ctx, "coins", producer)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"call":1}`, string(data))

	clock.Advance(299000 * time.Millisecond)
	data, cached, err = rt.Fetch(ctx, "coins", producer)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.JSONEq(t, `{"call":1}`, string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(1001 * time.Millisecond)
	data, cached, err = rt.Fetch(ctx, "coins", producer)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"call":2}`, string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	assert.Equal(t, int64(1), atomic.LoadInt64(&recorder.hits))
	assert.Equal(t, int64(2), atomic.LoadInt64(&recorder.misses))
}

func TestReadThroughCollapsesConcurrentMisses(t *testing.T) {
	rt, _ := newTestReadThrough(t, newFakeClock(), time.Minute)

	var calls int32
	release := make(chan struct{})
	producer := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(`"payload"`), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _, err := rt.Fetch(context.Background(), "coin:bitcoin", producer)
			results[i] = string(data)
			errs[i] = err
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `"payload"`, results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReadThroughErrorsAreNotCached(t *testing.T) {
	rt, _ := newTestReadThrough(t, newFakeClock(), time.Minute)
	ctx := context.Background()

	boom := fmt.Errorf("status 502: %w", ErrUpstreamFailure)
	var calls int32
	producer := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return []byte(`[]`), nil
	}

	_, _, err := rt.Fetch(ctx, "coins-list", producer)
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	data, cached, err := rt.Fetch(ctx, "coins-list", producer)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(`[]`), data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestReadThroughCooldownPropagates(t *testing.T) {
	rt, _ := newTestReadThrough(t, newFakeClock(), time.Minute)
	ctx := context.Background()

	var calls int32
	producer := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("429 Too Many Requests: %w", ErrRateLimited)
	}

	_, _, err := rt.Fetch(ctx, "coin:ethereum", producer)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, _, err = rt.Fetch(ctx, "coin:ethereum", producer)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestReadThroughStoreErrorsFallThrough(t *testing.T) {
	gw := newTestGateway(Config{FailureThreshold: 1}, newFakeClock())
	defer gw.Close()
	rt := NewReadThrough(gw, failingStore{}, nil, nil)

	data, cached, err := rt.Fetch(context.Background(), "coins-list", func(context.Context) ([]byte, error) {
		return []byte(`[1,2]`), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(`[1,2]`), data)
}

func TestFetchJSON(t *testing.T) {
	rt, _ := newTestReadThrough(t, newFakeClock(), time.Minute)
	ctx := context.Background()

	type point struct {
		Timestamp int64   `json:"timestamp"`
		Price     float64 `json:"price"`
	}
	producer := func(context.Context) ([]point, error) {
		return []point{{Timestamp: 1, Price: 100.5}, {Timestamp: 2, Price: 101}}, nil
	}

	first, cached, err := FetchJSON(ctx, rt, "chart:bitcoin:7", producer)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := FetchJSON(ctx, rt, "chart:bitcoin:7", producer)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first, second)
	assert.Equal(t, 101.0, second[1].Price)

	_, _, err = FetchJSON(ctx, rt, "chart:bitcoin:7", func(context.Context) (map[string]string, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestReadThroughKeepsKeyLockedUntilAbandonedJobSettles(t *testing.T) {
	rt, _ := newTestReadThrough(t, newFakeClock(), time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	producer := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return []byte(`{"usd":64000}`), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := rt.Fetch(ctx, "price:bitcoin", producer)
		firstErr <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type fetchResult struct {
		data   []byte
		cached bool
		err    error
	}
	retry := make(chan fetchResult, 1)
	go func() {
		data, cached, err := rt.Fetch(context.Background(), "price:bitcoin", producer)
		retry <- fetchResult{data: data, cached: cached, err: err}
	}()

	select {
	case <-retry:
		t.Fatal("retry returned while the first job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case r := <-retry:
		require.NoError(t, r.err)
		assert.True(t, r.cached)
		assert.Equal(t, []byte(`{"usd":64000}`), r.data)
	case <-time.After(2 * time.Second):
		t.Fatal("retry never completed")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
