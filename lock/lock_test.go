package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_RejectsWhenBusy(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	lease, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "prod")
	assert.ErrorIs(t, err, ErrBusy)

	other, err := l.Acquire(ctx, "other")
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "release is idempotent")

	again, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_WaitHonorsContext(t *testing.T) {
	l := NewLocalLocker(WithWait(true))
	lease, err := l.Acquire(context.Background(), "prod")
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "prod")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_WaitSerializes(t *testing.T) {
	l := NewLocalLocker(WithWait(true))
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Do(context.Background(), l, "prod", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestDo_ReentrantAndReleasesOnError(t *testing.T) {
	l := NewLocalLocker()
	boom := errors.New("boom")

	err := Do(context.Background(), l, "prod", func(ctx context.Context) error {
		inner, err := l.Acquire(ctx, "prod")
		require.NoError(t, err, "nested acquire with the lease in ctx")
		require.NoError(t, inner.Release(ctx))

		_, err = l.Acquire(context.Background(), "prod")
		assert.ErrorIs(t, err, ErrBusy, "a foreign context is still rejected")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lease, err := l.Acquire(context.Background(), "prod")
	require.NoError(t, err, "lease released after fn failed")
	require.NoError(t, lease.Release(context.Background()))
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	value    []byte
	revision uint64
}

func (e fakeEntry) Value() []byte    { return e.value }
func (e fakeEntry) Revision() uint64 { return e.revision }

type fakeBucket struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]fakeEntry
	deletes int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{entries: make(map[string]fakeEntry)}
}

func (b *fakeBucket) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.seq++
	b.entries[key] = fakeEntry{value: value, revision: b.seq}
	return b.seq, nil
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (b *fakeBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.revision != revision {
		return 0, fmt.Errorf("nats: wrong last sequence: %d", e.revision)
	}
	b.seq++
	b.entries[key] = fakeEntry{value: value, revision: b.seq}
	return b.seq, nil
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	delete(b.entries, key)
	return nil
}

func TestKVLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	l := NewKVLocker(bucket)

	lease, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "prod")
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, 1, bucket.deletes)

	lease, err = l.Acquire(ctx, "prod")
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
}

func TestKVLocker_TakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewKVLocker(bucket, WithLeaseTTL(time.Minute), WithClock(clock))

	_, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = l.Acquire(ctx, "prod")
	assert.ErrorIs(t, err, ErrBusy, "lease still valid")

	now = now.Add(time.Minute)
	lease, err := l.Acquire(ctx, "prod")
	require.NoError(t, err, "expired lease is taken over")
	assert.Equal(t, "prod", lease.Key())
}

func TestKVLocker_WaitPolls(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	l := NewKVLocker(bucket, WithKVWait(true), WithPollInterval(time.Millisecond))

	first, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		first.Release(ctx)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	second, err := l.Acquire(waitCtx, "prod")
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestKVLocker_HeartbeatKeepsLeaseAlive(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	l := NewKVLocker(bucket, WithLeaseTTL(40*time.Millisecond), WithRenewInterval(5*time.Millisecond))

	lease, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, err = l.Acquire(ctx, "prod")
	assert.ErrorIs(t, err, ErrBusy, "renewed lease outlives its first TTL")

	entry, err := bucket.Get(ctx, "prod")
	require.NoError(t, err)
	assert.Greater(t, entry.Revision(), uint64(1), "lease was renewed")

	require.NoError(t, lease.Release(ctx))
	_, err = bucket.Get(ctx, "prod")
	assert.ErrorIs(t, err, jetstream.ErrKeyNotFound)

	bucket.mu.Lock()
	seq := bucket.seq
	bucket.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	assert.Equal(t, seq, bucket.seq, "no renewal after release")
}

func TestKVLocker_HeartbeatStopsWhenLeaseIsLost(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	l := NewKVLocker(bucket, WithRenewInterval(20*time.Millisecond))

	lease, err := l.Acquire(ctx, "prod")
	require.NoError(t, err)

	// Another owner rewrites the record.
	entry, err := bucket.Get(ctx, "prod")
	require.NoError(t, err)
	_, err = bucket.Update(ctx, "prod", []byte(`{"owner":"other"}`), entry.Revision())
	require.NoError(t, err)

	kv := lease.(*kvLease)
	select {
	case <-kv.done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat kept running after the lease was lost")
	}
	got, err := bucket.Get(ctx, "prod")
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"other"}`, string(got.Value()))
}
