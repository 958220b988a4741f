package lock_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/stagehand/pkg/lock"
	"github.com/dukex/stagehand/pkg/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, locker lock.Locker) {
	t.Helper()

	var (
		holders int32
		maxSeen int32
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := lock.WithLock(context.Background(), locker, "constraint-a", func(context.Context) error {
				current := atomic.AddInt32(&holders, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if current <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, current) {
						break
					}
				}

				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&holders, -1)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	t.Parallel()

	exerciseMutualExclusion(t, lock.NewMemoryLocker(lock.DefaultOptions()))
}

func TestMemoryLocker_AcquireTimesOut(t *testing.T) {
	t.Parallel()

	options := lock.DefaultOptions()
	options.WaitTimeout = 20 * time.Millisecond
	locker := lock.NewMemoryLocker(options)

	lease, err := locker.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "busy")
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))

	lease, err = locker.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	locker := lock.NewRedisLocker(client, "stagehand-test", lock.DefaultOptions(), logger)

	exerciseMutualExclusion(t, locker)
}

func TestRedisLocker_ReleaseOnlyByOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	options := lock.DefaultOptions()
	options.WaitTimeout = 50 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	locker := lock.NewRedisLocker(client, "stagehand-test", options, logger)

	lease, err := locker.Acquire(ctx, "owned")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "owned")
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "owned")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
