package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/pkg/cache"
	"github.com/milopalmaerts/Crypto/pkg/logger"
	"github.com/milopalmaerts/Crypto/pkg/mutex"
)

// CacheRecorder receives cache hit/miss events.
type CacheRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) RecordCacheHit()  {}
func (nopCacheRecorder) RecordCacheMiss() {}

// Producer performs the actual upstream call for a cache key.
type Producer func(ctx context.Context) ([]byte, error)

// ReadThrough answers from the cache when it can and otherwise runs the
// producer as a gateway job, caching the result on success.
type ReadThrough struct {
	gateway *Gateway
	store   cache.Store
	locks   *mutex.RequestMutex
	metrics CacheRecorder
}

// NewReadThrough wires a gateway to a cache store. locks and metrics may be nil.
func NewReadThrough(gw *Gateway, store cache.Store, locks *mutex.RequestMutex, metrics CacheRecorder) *ReadThrough {
	if locks == nil {
		locks = mutex.New()
	}
	if metrics == nil {
		metrics = nopCacheRecorder{}
	}
	return &ReadThrough{
		gateway: gw,
		store:   store,
		locks:   locks,
		metrics: metrics,
	}
}

// Gateway returns the underlying scheduler.
func (rt *ReadThrough) Gateway() *Gateway {
	return rt.gateway
}

// Fetch returns the cached payload for key, or runs producer through the
// gateway on a miss. cached is true when no job was submitted.
func (rt *ReadThrough) Fetch(ctx context.Context, key string, producer Producer) ([]byte, bool, error) {
	if data, ok := rt.lookup(ctx, key); ok {
		rt.metrics.RecordCacheHit()
		return data, true, nil
	}

	unlock, err := rt.locks.Lock(ctx, key)
	if err != nil {
		return nil, false, err
	}

	// Another request may have filled the key while we waited.
	if data, ok := rt.lookup(ctx, key); ok {
		unlock()
		rt.metrics.RecordCacheHit()
		return data, true, nil
	}
	rt.metrics.RecordCacheMiss()

	future := rt.gateway.Submit(ctx, func(jobCtx context.Context) (interface{}, error) {
		data, err := producer(jobCtx)
		if err != nil {
			return nil, err
		}
		if err := rt.store.Set(jobCtx, key, data); err != nil {
			logger.GetLogger().WithContext(jobCtx).WithError(err).Warn("Cache write failed",
				zap.String("key", key),
			)
		}
		return data, nil
	})

	// The key stays locked until the job settles, even if the caller stops waiting.
	go func() {
		<-future.Done()
		unlock()
	}()

	value, err := future.Wait(ctx)
	if err != nil {
		return nil, false, err
	}

	return value.([]byte), false, nil
}

// lookup treats cache backend errors as misses.
func (rt *ReadThrough) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := rt.store.Get(ctx, key)
	if err != nil {
		logger.GetLogger().WithContext(ctx).WithError(err).Warn("Cache read failed",
			zap.String("key", key),
		)
		return nil, false
	}
	return data, ok
}

// FetchJSON is Fetch for values that round-trip through JSON.
func FetchJSON[T any](ctx context.Context, rt *ReadThrough, key string, producer func(ctx context.Context) (T, error)) (T, bool, error) {
	var result T

	data, cached, err := rt.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return result, false, err
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return result, cached, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return result, cached, nil
}
