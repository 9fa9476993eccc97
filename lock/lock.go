// Package lock serializes mutating operations per repository.
//
// Two implementations are provided: LocalLocker for a single process and
// KVLocker, which keeps a leased lock record in a NATS JetStream key-value
// bucket so that several processes can coordinate.
package lock

import (
	"context"
	"errors"
)

// ErrBusy is returned when the lock is held and the locker does not wait.
var ErrBusy = errors.New("repository is busy")

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out per-key leases.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

type leaseKey struct{ key string }

// ContextWithLease marks ctx as already holding l. Acquire on a context
// carrying a lease for the same key returns a no-op lease instead of
// deadlocking, so a caller holding the lock can call other lock-taking
// operations on the same repository.
func ContextWithLease(ctx context.Context, l Lease) context.Context {
	return context.WithValue(ctx, leaseKey{l.Key()}, l)
}

// held returns the lease for key carried by ctx.
func held(ctx context.Context, key string) (Lease, bool) {
	l, ok := ctx.Value(leaseKey{key}).(Lease)
	return l, ok
}

type reentrantLease struct{ key string }

func (l reentrantLease) Key() string                   { return l.key }
func (l reentrantLease) Release(context.Context) error { return nil }

// Do runs fn while holding the lease for key. The lease is released on
// every exit path, including a panic in fn.
func Do(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) (err error) {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ContextWithLease(ctx, lease))
}
