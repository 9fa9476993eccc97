// Package journal keeps a SQLite ledger of update runs, so that a failed or
// partially rolled back promotion can be investigated afterwards.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("journal entry not found")

// Outcome is the final state of one update run.
type Outcome string

const (
	OutcomePromoted         Outcome = "promoted"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeDryRun           Outcome = "dry_run"
	OutcomeRolledBack       Outcome = "rolled_back"
	OutcomeRollbackFailed   Outcome = "rollback_failed"
	OutcomeError            Outcome = "error"
)

// Entry is one update run.
type Entry struct {
	SessionID         string    `json:"session_id"`
	Repository        string    `json:"repository"`
	Graph             string    `json:"graph,omitempty"`
	StagingRepository string    `json:"staging_repository,omitempty"`
	Outcome           Outcome   `json:"outcome"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Blocking          int       `json:"blocking"`
	Advisory          int       `json:"advisory"`

	// SnapshotStatements is the size of the pre-promotion snapshot, zero
	// if promotion never started.
	SnapshotStatements int `json:"snapshot_statements"`

	ExplicitBefore int    `json:"explicit_before"`
	ExplicitAfter  int    `json:"explicit_after"`
	Error          string `json:"error,omitempty"`
}

// Journal is a SQLite-backed run ledger.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path. Use ":memory:" for
// a throwaway journal.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection keeps an in-memory database shared and
	// serializes writers.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		session_id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		graph TEXT NOT NULL DEFAULT '',
		staging_repository TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		blocking INTEGER NOT NULL DEFAULT 0,
		advisory INTEGER NOT NULL DEFAULT 0,
		snapshot_statements INTEGER NOT NULL DEFAULT 0,
		explicit_before INTEGER NOT NULL DEFAULT 0,
		explicit_after INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository, started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e, replacing an earlier entry with the same session id.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			session_id, repository, graph, staging_repository, outcome,
			started_at, finished_at, blocking, advisory,
			snapshot_statements, explicit_before, explicit_after, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SessionID, e.Repository, e.Graph, e.StagingRepository, string(e.Outcome),
		formatTime(e.StartedAt), formatTime(e.FinishedAt), e.Blocking, e.Advisory,
		e.SnapshotStatements, e.ExplicitBefore, e.ExplicitAfter, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", e.SessionID, err)
	}
	return nil
}

const selectColumns = `
	SELECT session_id, repository, graph, staging_repository, outcome,
		started_at, finished_at, blocking, advisory,
		snapshot_statements, explicit_before, explicit_after, error
	FROM runs`

// Get returns the entry for sessionID.
func (j *Journal) Get(ctx context.Context, sessionID string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE session_id = ?`, sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return e, err
}

// Recent returns up to limit entries, newest first. An empty repository
// selects every repository.
func (j *Journal) Recent(ctx context.Context, repository string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := selectColumns
	args := []any{}
	if repository != "" {
		query += ` WHERE repository = ?`
		args = append(args, repository)
	}
	query += ` ORDER BY started_at DESC, session_id LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                 Entry
		outcome           string
		started, finished string
	)
	err := s.Scan(&e.SessionID, &e.Repository, &e.Graph, &e.StagingRepository, &outcome,
		&started, &finished, &e.Blocking, &e.Advisory,
		&e.SnapshotStatements, &e.ExplicitBefore, &e.ExplicitAfter, &e.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to scan run: %w", err)
	}
	e.Outcome = Outcome(outcome)
	e.StartedAt = parseTime(started)
	e.FinishedAt = parseTime(finished)
	return e, nil
}

// timeLayout is fixed width so that stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
