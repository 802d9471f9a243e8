package mutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMutex(t *testing.T) {
	t.Run("SerializesSameKey", func(t *testing.T) {
		rm := New()
		var active, maxActive int32
		var wg sync.WaitGroup

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := rm.Lock(context.Background(), "coins-list")
				require.NoError(t, err)
				defer unlock()

				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxActive)
		assert.Equal(t, 0, rm.Size())
	})

	t.Run("DifferentKeysIndependent", func(t *testing.T) {
		rm := New()
		unlockA, err := rm.Lock(context.Background(), "coin:bitcoin")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := rm.Lock(ctx, "coin:ethereum")
		require.NoError(t, err)
		unlockB()
		assert.Equal(t, 1, rm.Size())
	})

	t.Run("ContextCancelWhileWaiting", func(t *testing.T) {
		rm := New()
		unlock, err := rm.Lock(context.Background(), "chart:bitcoin:7")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = rm.Lock(ctx, "chart:bitcoin:7")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock()
		assert.Equal(t, 0, rm.Size())
	})
}
