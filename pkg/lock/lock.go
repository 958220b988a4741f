// Package lock provides the named mutual-exclusion lock used to serialize updates to a
// resource constraint across workers.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Acquire blocks until the named lock is held, ctx is done or the wait timeout elapses.
	Acquire(ctx context.Context, name string) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type Options struct {
	// TTL bounds how long a crashed holder keeps the lock.
	TTL time.Duration
	// WaitTimeout bounds how long Acquire keeps retrying.
	WaitTimeout time.Duration
	// RetryInterval is the first delay between attempts.
	RetryInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:           30 * time.Second,
		WaitTimeout:   10 * time.Second,
		RetryInterval: 20 * time.Millisecond,
	}
}

// WithLock runs fn while holding the named lock.
func WithLock(ctx context.Context, locker Locker, name string, fn func(ctx context.Context) error) (err error) {
	lease, err := locker.Acquire(ctx, name)
	if err != nil {
		return err
	}

	defer func() {
		releaseErr := lease.Release(context.WithoutCancel(ctx))
		if err == nil {
			err = releaseErr
		}
	}()

	return fn(ctx)
}
