package inference_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/inference"
	"github.com/c360studio/semguard/lock"
	"github.com/c360studio/semguard/storage"
	"github.com/c360studio/semguard/storage/memstore"
	"github.com/c360studio/semguard/validation"
)

const ontology = `
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix ex: <http://example.org/> .
ex:Dog rdfs:subClassOf ex:Mammal .
ex:Mammal rdfs:subClassOf ex:Animal .
ex:rex a ex:Dog .
ex:rex a ex:Animal .
`

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func setup(t *testing.T, ruleset string, opts ...memstore.Option) (*memstore.Store, *inference.Manager) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(opts...)
	require.NoError(t, store.CreateRepository(ctx, storage.RepositoryConfig{
		ID:      "prod",
		Ruleset: storage.RulesetFromName(ruleset),
	}))
	doc, err := graph.ParseString(ontology, "")
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx, "prod", "", doc))

	m := inference.NewManager(store,
		inference.WithRetry(fastRetry),
		inference.WithPolling(time.Millisecond, time.Second))
	return store, m
}

func TestManager_DisableLeavesStaleInferred(t *testing.T) {
	_, m := setup(t, "rdfs")

	rep, err := m.Disable(context.Background(), "prod")
	require.NoError(t, err)
	assert.False(t, rep.Ruleset.Enabled)
	assert.Equal(t, 2, rep.Counts.Inferred, "disable does not delete inferred statements")
	assert.True(t, rep.StaleInferred())
}

func TestManager_ClearInferredKeepsExplicit(t *testing.T) {
	tests := []struct {
		name    string
		ruleset string
		prepare func(t *testing.T, m *inference.Manager)
		pending bool
	}{
		{name: "enabled", ruleset: "rdfs", pending: true},
		{
			name:    "disabled with stale inferred",
			ruleset: "rdfs",
			prepare: func(t *testing.T, m *inference.Manager) {
				_, err := m.Disable(context.Background(), "prod")
				require.NoError(t, err)
			},
		},
		{name: "never enabled", ruleset: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, m := setup(t, tt.ruleset)
			if tt.prepare != nil {
				tt.prepare(t, m)
			}
			before, err := m.Count(ctx, "prod")
			require.NoError(t, err)

			rep, err := m.ClearInferred(ctx, "prod")
			require.NoError(t, err)
			assert.Equal(t, 0, rep.Counts.Inferred)
			assert.Equal(t, before.Counts.Explicit, rep.Counts.Explicit)
			assert.Equal(t, before.Ruleset, rep.Ruleset, "previous ruleset restored")
			assert.Equal(t, tt.pending, rep.ReinferencePending)

			explicit, err := store.Export(ctx, "prod", storage.ExportOptions{AllGraphs: true})
			require.NoError(t, err)
			assert.True(t, explicit.Has(
				graph.IRI("http://example.org/rex"), graph.IRI(graph.RDFType), graph.IRI("http://example.org/Animal")),
				"explicit statement that is also derivable survives")
		})
	}
}

func TestManager_ClearInferredRequiresProvenance(t *testing.T) {
	_, m := setup(t, "rdfs", memstore.WithoutProvenance())

	_, err := m.ClearInferred(context.Background(), "prod")
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrProvenanceUnsupported)
	assert.ErrorIs(t, err, validation.ErrStructural)

	var se *validation.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "prod", se.Subject)
}

func TestManager_EnablePendingUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t, "empty")

	rep, err := m.Enable(ctx, "prod", "rdfs")
	require.NoError(t, err)
	assert.True(t, rep.ReinferencePending)
	assert.Equal(t, "rdfs", store.InferredRuleset("prod"), "enable requests re-inference explicitly")

	rep, err = m.Count(ctx, "prod")
	require.NoError(t, err)
	assert.True(t, rep.ReinferencePending, "one count is not a confirmation")

	rep, err = m.AwaitReinference(ctx, "prod")
	require.NoError(t, err)
	assert.False(t, rep.ReinferencePending)
	assert.Equal(t, 2, rep.Counts.Inferred)
}

func TestManager_AwaitReinferenceTimesOut(t *testing.T) {
	ctx := context.Background()
	store, _ := setup(t, "rdfs")
	m := inference.NewManager(store,
		inference.WithRetry(fastRetry),
		inference.WithPolling(time.Millisecond, 30*time.Millisecond))

	_, err := m.ClearInferred(ctx, "prod")
	require.NoError(t, err)

	// The deadline lands anywhere in the poll loop, including inside Count.
	for range 10 {
		_, err = m.AwaitReinference(ctx, "prod")
		require.ErrorIs(t, err, inference.ErrReinferenceTimeout, "cleared repository waits for an explicit enable")
	}
}

func TestManager_AwaitReinferenceTimesOutWhileWaitingForLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocalLocker(lock.WithWait(true))
	store, _ := setup(t, "rdfs")
	m := inference.NewManager(store,
		inference.WithLocker(locker),
		inference.WithRetry(fastRetry),
		inference.WithPolling(time.Millisecond, 20*time.Millisecond))

	lease, err := locker.Acquire(ctx, "prod")
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	_, err = m.AwaitReinference(ctx, "prod")
	assert.ErrorIs(t, err, inference.ErrReinferenceTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_AwaitReinferenceHonorsCancellation(t *testing.T) {
	_, m := setup(t, "rdfs")
	_, err := m.ClearInferred(context.Background(), "prod")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.AwaitReinference(ctx, "prod")
	require.Error(t, err)
	assert.NotErrorIs(t, err, inference.ErrReinferenceTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_ExportExplicitOnlyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t, "rdfs")

	before, err := m.Count(ctx, "prod")
	require.NoError(t, err)
	require.Positive(t, before.Counts.Inferred)

	doc, err := m.ExportExplicitOnly(ctx, "prod")
	require.NoError(t, err)

	require.NoError(t, store.CreateRepository(ctx, storage.RepositoryConfig{ID: "fresh"}))
	require.NoError(t, store.Load(ctx, "fresh", "", doc))

	fresh, err := m.Count(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Counts.Inferred)
	assert.Equal(t, before.Counts.Explicit, fresh.Counts.Explicit)
}

func TestManager_ExportExplicitOnlyRoundTripAcrossGraphs(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t, "rdfs")

	// Also asserted in the default graph by the fixture.
	dup, err := graph.ParseString(`<http://example.org/rex> a <http://example.org/Dog> .`, "")
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx, "prod", "http://example.org/g", dup))

	before, err := m.Count(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 4, before.Counts.Explicit, "a triple in two graphs counts once")

	doc, err := m.ExportExplicitOnly(ctx, "prod")
	require.NoError(t, err)

	require.NoError(t, store.CreateRepository(ctx, storage.RepositoryConfig{ID: "fresh"}))
	require.NoError(t, store.Load(ctx, "fresh", "", doc))

	fresh, err := m.Count(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, before.Counts.Explicit, fresh.Counts.Explicit)
}

func TestManager_TransientReadsAreRetried(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	_, m := setup(t, "rdfs", memstore.WithFault(func(op memstore.Op, _, _ string) error {
		if op == memstore.OpCount && failures.Add(-1) >= 0 {
			return storage.NewTransientError(errors.New("connection reset"))
		}
		return nil
	}))

	rep, err := m.Count(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Counts.Explicit)
}

func TestManager_FatalReadsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, m := setup(t, "rdfs", memstore.WithFault(func(op memstore.Op, _, _ string) error {
		if op == memstore.OpCount {
			calls.Add(1)
			return storage.NewFatalError(errors.New("unauthorized"))
		}
		return nil
	}))

	_, err := m.Count(context.Background(), "prod")
	require.Error(t, err)
	assert.True(t, storage.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_RespectsRepositoryLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocalLocker()
	store := memstore.New()
	require.NoError(t, store.CreateRepository(ctx, storage.RepositoryConfig{ID: "prod"}))
	m := inference.NewManager(store, inference.WithLocker(locker), inference.WithRetry(fastRetry))

	lease, err := locker.Acquire(ctx, "prod")
	require.NoError(t, err)

	_, err = m.Disable(ctx, "prod")
	assert.ErrorIs(t, err, lock.ErrBusy)

	_, err = m.Disable(lock.ContextWithLease(ctx, lease), "prod")
	assert.NoError(t, err, "the lease holder may proceed")
	require.NoError(t, lease.Release(ctx))
}
