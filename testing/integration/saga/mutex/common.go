//go:build integration

package mutex

import (
	"context"
	"testing"
	"time"

	"github.com/go-foreman/conductor/saga/mutex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMutexUseCases(t *testing.T, mutexFabric func() mutex.Mutex) {
	sagaMutex := mutexFabric()

	t.Run("acquire and release a mutex sequentially", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		id := "xxx"

		lock, err := sagaMutex.Lock(ctx, id)
		require.NoError(t, err)
		assert.NoError(t, lock.Release(ctx))

		lock, err = sagaMutex.Lock(ctx, id)
		require.NoError(t, err)
		assert.NoError(t, lock.Release(ctx))
	})

	t.Run("wait to acquire locked mutex", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		id := "yyy"

		lock, err := sagaMutex.Lock(ctx, id)
		require.NoError(t, err)

		go func() {
			time.Sleep(time.Millisecond * 100)
			assert.NoError(t, lock.Release(ctx))
		}()

		waitingCtx, waitingCancel := context.WithTimeout(ctx, time.Second*2)
		defer waitingCancel()

		secondLock, err := sagaMutex.Lock(waitingCtx, id)
		require.NoError(t, err)
		assert.NoError(t, secondLock.Release(ctx))
	})

	t.Run("wait to acquire locked mutex from another service instance", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		id := "zzz"

		lock, err := sagaMutex.Lock(ctx, id)
		require.NoError(t, err)

		go func() {
			time.Sleep(time.Millisecond * 100)
			assert.NoError(t, lock.Release(ctx))
		}()

		waitingCtx, waitingCancel := context.WithTimeout(ctx, time.Second*2)
		defer waitingCancel()

		anotherInstanceLock, err := mutexFabric().Lock(waitingCtx, id)
		require.NoError(t, err)
		assert.NoError(t, anotherInstanceLock.Release(ctx))
	})

	t.Run("failed to acquire a lock", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		id := "aaa"

		lock, err := sagaMutex.Lock(ctx, id)
		require.NoError(t, err)

		waitingCtx, waitingCancel := context.WithTimeout(ctx, time.Millisecond*200)
		defer waitingCancel()

		_, err = mutexFabric().Lock(waitingCtx, id)
		require.Error(t, err)
		assert.ErrorAs(t, err, &mutex.MutexErr{})

		assert.NoError(t, lock.Release(ctx))
	})
}
