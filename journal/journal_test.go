package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestJournal creates an in-memory journal for testing
func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	e := Entry{
		SessionID:          "s-1",
		Repository:         "prod",
		Graph:              "http://g/ontology",
		StagingRepository:  "prod-staging-s-1",
		Outcome:            OutcomeRolledBack,
		StartedAt:          started,
		FinishedAt:         started.Add(3 * time.Second),
		Blocking:           0,
		Advisory:           2,
		SnapshotStatements: 42,
		ExplicitBefore:     42,
		ExplicitAfter:      42,
		Error:              "load: connection reset",
	}
	require.NoError(t, j.Record(ctx, e))

	got, err := j.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(e.StartedAt))
	assert.True(t, got.FinishedAt.Equal(e.FinishedAt))
	got.StartedAt, got.FinishedAt = e.StartedAt, e.FinishedAt
	assert.Equal(t, e, got)

	e.Outcome = OutcomeRollbackFailed
	require.NoError(t, j.Record(ctx, e), "recording the same session replaces it")
	got, err = j.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRollbackFailed, got.Outcome)
}

func TestJournal_GetMissing(t *testing.T) {
	_, err := newTestJournal(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_Recent(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, repo := range []string{"prod", "test", "prod", "prod"} {
		require.NoError(t, j.Record(ctx, Entry{
			SessionID:  string(rune('a' + i)),
			Repository: repo,
			Outcome:    OutcomePromoted,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			FinishedAt: base.Add(time.Duration(i)*time.Second + 500*time.Millisecond),
		}))
	}

	prod, err := j.Recent(ctx, "prod", 2)
	require.NoError(t, err)
	require.Len(t, prod, 2)
	assert.Equal(t, "d", prod[0].SessionID, "newest first")
	assert.Equal(t, "c", prod[1].SessionID)

	all, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestJournal_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Entry{SessionID: "s-1", Repository: "prod", Outcome: OutcomeDryRun}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDryRun, got.Outcome)
}
