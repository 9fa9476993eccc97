package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Defaults for KVLocker. A held lease is renewed every third of its TTL
// until released, so DefaultLeaseTTL bounds how long a crashed holder
// blocks others, not how long an update may run.
const (
	DefaultLeaseTTL     = 10 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

// LeaseBucket is the subset of jetstream.KeyValue used by KVLocker.
type LeaseBucket interface {
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// leaseRecord is the value stored under the lock key.
type leaseRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// KVLocker keeps one lease record per key in a JetStream KV bucket.
// A record past its expiry may be taken over by another owner.
type KVLocker struct {
	bucket LeaseBucket
	ttl    time.Duration
	renew  time.Duration
	poll   time.Duration
	wait   bool
	now    func() time.Time
	logger *slog.Logger
}

// KVOption configures a KVLocker.
type KVOption func(*KVLocker)

// WithLeaseTTL sets how long a lease stays valid without release.
func WithLeaseTTL(d time.Duration) KVOption {
	return func(l *KVLocker) { l.ttl = d }
}

// WithRenewInterval sets how often a held lease is extended. It defaults
// to a third of the lease TTL.
func WithRenewInterval(d time.Duration) KVOption {
	return func(l *KVLocker) { l.renew = d }
}

// WithPollInterval sets how often a waiting Acquire retries.
func WithPollInterval(d time.Duration) KVOption {
	return func(l *KVLocker) { l.poll = d }
}

// WithKVWait makes Acquire poll until the lease frees or ctx ends.
func WithKVWait(wait bool) KVOption {
	return func(l *KVLocker) { l.wait = wait }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) KVOption {
	return func(l *KVLocker) { l.now = now }
}

// WithKVLogger sets the logger.
func WithKVLogger(logger *slog.Logger) KVOption {
	return func(l *KVLocker) { l.logger = logger }
}

// NewKVLocker returns a KVLocker over bucket.
func NewKVLocker(bucket LeaseBucket, opts ...KVOption) *KVLocker {
	l := &KVLocker{
		bucket: bucket,
		ttl:    DefaultLeaseTTL,
		poll:   DefaultPollInterval,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renew <= 0 {
		l.renew = l.ttl / 3
	}
	return l
}

// Acquire takes the lease for key.
func (l *KVLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if _, ok := held(ctx, key); ok {
		return reentrantLease{key: key}, nil
	}
	owner := uuid.NewString()
	for {
		lease, err := l.tryAcquire(ctx, key, owner)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		if !l.wait {
			return nil, fmt.Errorf("%w: %s", ErrBusy, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

func (l *KVLocker) tryAcquire(ctx context.Context, key, owner string) (Lease, error) {
	now := l.now()
	rec := leaseRecord{Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal lease: %w", err)
	}

	rev, err := l.bucket.Create(ctx, key, data)
	if err == nil {
		return l.newLease(ctx, key, owner, rev), nil
	}
	if !natsclient.IsKVConflictError(err) {
		return nil, fmt.Errorf("create lease %s: %w", key, err)
	}

	entry, err := l.bucket.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			// Released between Create and Get.
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("read lease %s: %w", key, err)
	}
	var current leaseRecord
	if err := json.Unmarshal(entry.Value(), &current); err != nil {
		l.logger.Warn("Unreadable lease record, taking over", "key", key, "error", err)
	} else if now.Before(current.ExpiresAt) {
		return nil, ErrBusy
	} else {
		l.logger.Warn("Taking over expired lease",
			"key", key, "previous_owner", current.Owner, "expired_at", current.ExpiresAt)
	}

	rev, err = l.bucket.Update(ctx, key, data, entry.Revision())
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("take over lease %s: %w", key, err)
	}
	return l.newLease(ctx, key, owner, rev), nil
}

func (l *KVLocker) newLease(ctx context.Context, key, owner string, rev uint64) *kvLease {
	lease := &kvLease{
		locker:   l,
		key:      key,
		owner:    owner,
		acquired: l.now(),
		revision: rev,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go lease.heartbeat(context.WithoutCancel(ctx))
	return lease
}

type kvLease struct {
	locker   *KVLocker
	key      string
	owner    string
	acquired time.Time
	released bool
	stop     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	revision uint64
}

func (l *kvLease) Key() string { return l.key }

// heartbeat extends the lease until Release or until another owner holds
// the record.
func (l *kvLease) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.locker.renew)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		lost, err := l.renew(ctx)
		if lost {
			l.locker.logger.Warn("Lease lost to another owner", "key", l.key, "owner", l.owner)
			return
		}
		if err != nil {
			l.locker.logger.Warn("Lease renewal failed", "key", l.key, "error", err)
		}
	}
}

func (l *kvLease) renew(ctx context.Context) (lost bool, err error) {
	rec := leaseRecord{Owner: l.owner, AcquiredAt: l.acquired, ExpiresAt: l.locker.now().Add(l.locker.ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal lease: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rev, err := l.locker.bucket.Update(ctx, l.key, data, l.revision)
	if err != nil {
		return natsclient.IsKVConflictError(err) || natsclient.IsKVNotFoundError(err), err
	}
	l.revision = rev
	return false, nil
}

// Release deletes the record if it still carries this lease's revision.
// A lease taken over after expiry is left alone.
func (l *kvLease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	close(l.stop)
	<-l.done

	l.mu.Lock()
	rev := l.revision
	l.mu.Unlock()
	err := l.locker.bucket.Delete(ctx, l.key, jetstream.LastRevision(rev))
	if err == nil {
		return nil
	}
	if natsclient.IsKVConflictError(err) || natsclient.IsKVNotFoundError(err) {
		l.locker.logger.Warn("Lease was taken over before release", "key", l.key, "owner", l.owner)
		return nil
	}
	return fmt.Errorf("release lease %s: %w", l.key, err)
}
