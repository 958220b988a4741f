package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker serializes holders inside one process.
type MemoryLocker struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

func NewMemoryLocker(options Options) *MemoryLocker {
	return &MemoryLocker{
		slots:   make(map[string]chan struct{}),
		timeout: options.WaitTimeout,
	}
}

func (l *MemoryLocker) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[name] = slot
	}

	return slot
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	slot := l.slot(name)

	if l.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case slot <- struct{}{}:
		return &memoryLease{slot: slot}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, name, ctx.Err())
	}
}

type memoryLease struct {
	once sync.Once
	slot chan struct{}
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.slot
	})

	return nil
}
