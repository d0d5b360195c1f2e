package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	keyedMutex := NewKeyedMutex()

	var (
		active    atomic.Int32
		maxActive atomic.Int32
		waitGroup sync.WaitGroup
	)

	for range 20 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			unlock, err := keyedMutex.Lock(context.Background(), "call-1")
			require.NoError(t, err)

			current := active.Add(1)
			if current > maxActive.Load() {
				maxActive.Store(current)
			}

			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}

	waitGroup.Wait()

	require.Equal(t, int32(1), maxActive.Load())
	require.Equal(t, 0, keyedMutex.Len())
}

func TestKeyedMutexAllowsDifferentKeys(t *testing.T) {
	keyedMutex := NewKeyedMutex()

	unlockFirst, err := keyedMutex.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockSecond, err := keyedMutex.Lock(ctx, "b")
	require.NoError(t, err)

	unlockSecond()
	unlockFirst()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	keyedMutex := NewKeyedMutex()

	unlock, err := keyedMutex.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = keyedMutex.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	require.Equal(t, 0, keyedMutex.Len())
}
