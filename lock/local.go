package lock

import (
	"context"
	"fmt"
	"sync"
)

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	wait bool

	slotsMu sync.Mutex
	slots   map[string]chan struct{}
}

// LocalOption configures a LocalLocker.
type LocalOption func(*LocalLocker)

// WithWait makes Acquire queue behind the current holder instead of
// failing with ErrBusy.
func WithWait(wait bool) LocalOption {
	return func(l *LocalLocker) { l.wait = wait }
}

// NewLocalLocker returns a LocalLocker. By default Acquire rejects with
// ErrBusy when the key is held.
func NewLocalLocker(opts ...LocalOption) *LocalLocker {
	l := &LocalLocker{slots: make(map[string]chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// getSlot returns the semaphore for key, creating one if needed.
func (l *LocalLocker) getSlot(key string) chan struct{} {
	l.slotsMu.Lock()
	defer l.slotsMu.Unlock()

	if l.slots[key] == nil {
		l.slots[key] = make(chan struct{}, 1)
	}
	return l.slots[key]
}

// Acquire takes the lock for key.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if _, ok := held(ctx, key); ok {
		return reentrantLease{key: key}, nil
	}
	slot := l.getSlot(key)
	if !l.wait {
		select {
		case slot <- struct{}{}:
			return &localLease{key: key, slot: slot}, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrBusy, key)
		}
	}
	select {
	case slot <- struct{}{}:
		return &localLease{key: key, slot: slot}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}
}

type localLease struct {
	key  string
	slot chan struct{}
	once sync.Once
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { <-l.slot })
	return nil
}
