// Package inference manages the reasoning lifecycle of a store repository:
// switching rulesets, counting explicit and inferred statements, and
// removing inferred statements without touching explicit ones.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/lock"
	"github.com/c360studio/semguard/storage"
	"github.com/c360studio/semguard/validation"
)

// Errors returned by Manager.
var (
	// ErrProvenanceUnsupported means the store cannot tell explicit from
	// inferred statements. It is always wrapped in a *validation.StructuralError.
	ErrProvenanceUnsupported = errors.New("store does not track statement provenance")

	// ErrReinferenceTimeout is returned when AwaitReinference gives up.
	ErrReinferenceTimeout = errors.New("re-inference not confirmed")

	// ErrClearVerification is returned when counts after ClearInferred do
	// not match the expected state.
	ErrClearVerification = errors.New("clear inferred verification failed")
)

// Defaults for re-inference polling.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollTimeout  = 2 * time.Minute
)

// Manager is the inference lifecycle manager.
type Manager struct {
	store        storage.Store
	locker       lock.Locker
	retry        retry.Config
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingState
}

// pendingState tracks a repository whose ruleset changed and whose
// re-materialization is not yet confirmed by a stable count.
type pendingState struct {
	ruleset    storage.RulesetConfiguration
	reinferred bool
	observed   *storage.Counts
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker sets the per-repository locker. Share it with the staging
// coordinator so inference changes never interleave with a promotion.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithRetry sets the retry policy for read calls.
func WithRetry(cfg retry.Config) Option {
	return func(m *Manager) { m.retry = cfg }
}

// WithPolling sets the AwaitReinference poll interval and timeout.
func WithPolling(interval, timeout time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = interval
		m.pollTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager for store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		retry:        retry.DefaultConfig(),
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
		logger:       slog.Default(),
		pending:      make(map[string]*pendingState),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locker == nil {
		m.locker = lock.NewLocalLocker(lock.WithWait(true))
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Ruleset returns the repository's current ruleset.
func (m *Manager) Ruleset(ctx context.Context, repo string) (storage.RulesetConfiguration, error) {
	return retry.DoWithResult(ctx, m.retry, func() (storage.RulesetConfiguration, error) {
		rs, err := m.store.Ruleset(ctx, repo)
		return rs, storage.RetryableOnly(err)
	})
}

// Disable switches reasoning off. Previously inferred statements stay in
// the repository and are reported as stale by Count until cleared.
func (m *Manager) Disable(ctx context.Context, repo string) (storage.Repository, error) {
	var out storage.Repository
	err := lock.Do(ctx, m.locker, repo, func(ctx context.Context) error {
		if err := m.store.SetRuleset(ctx, repo, storage.RulesetConfiguration{}); err != nil {
			return fmt.Errorf("disable inference on %s: %w", repo, err)
		}
		m.clearPending(repo)
		m.logger.Info("Inference disabled", "repository", repo)

		var err error
		out, err = m.Count(ctx, repo)
		return err
	})
	return out, err
}

// Enable sets the ruleset and then explicitly asks the store to recompute
// inferred statements. The repository is reported as pending until a
// stable Count confirms the re-materialization; see AwaitReinference.
func (m *Manager) Enable(ctx context.Context, repo, ruleset string) (storage.Repository, error) {
	rs := storage.RulesetFromName(ruleset)
	if !rs.Enabled {
		return m.Disable(ctx, repo)
	}

	var out storage.Repository
	err := lock.Do(ctx, m.locker, repo, func(ctx context.Context) error {
		if err := m.store.SetRuleset(ctx, repo, rs); err != nil {
			return fmt.Errorf("enable ruleset %s on %s: %w", ruleset, repo, err)
		}
		m.markPending(repo, rs)
		m.logger.Info("Ruleset changed, re-inference required", "repository", repo, "ruleset", ruleset)

		if err := m.store.Reinfer(ctx, repo); err != nil {
			return fmt.Errorf("reinfer %s: %w", repo, err)
		}
		m.markReinferred(repo)
		out = storage.Repository{ID: repo, Ruleset: rs, ReinferencePending: true}
		return nil
	})
	return out, err
}

// Count returns the repository's ruleset and statement counts. For a
// repository with a pending ruleset change, two consecutive identical
// counts under the new ruleset confirm that re-inference completed.
func (m *Manager) Count(ctx context.Context, repo string) (storage.Repository, error) {
	var out storage.Repository
	err := lock.Do(ctx, m.locker, repo, func(ctx context.Context) error {
		var (
			rs     storage.RulesetConfiguration
			counts storage.Counts
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			rs, err = m.Ruleset(gctx, repo)
			return err
		})
		g.Go(func() error {
			var err error
			counts, err = retry.DoWithResult(gctx, m.retry, func() (storage.Counts, error) {
				c, err := m.store.Count(gctx, repo)
				return c, storage.RetryableOnly(err)
			})
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("count %s: %w", repo, err)
		}

		out = storage.Repository{
			ID:                 repo,
			Ruleset:            rs,
			Counts:             counts,
			ReinferencePending: m.observe(repo, rs, counts),
		}
		if out.StaleInferred() {
			m.logger.Warn("Stale inferred statements present", "repository", repo, "inferred", counts.Inferred)
		}
		return nil
	})
	return out, err
}

// AwaitReinference polls Count until a pending ruleset change is confirmed.
// It returns ErrReinferenceTimeout when the poll timeout expires first,
// including when the deadline interrupts a Count in flight.
func (m *Manager) AwaitReinference(ctx context.Context, repo string) (storage.Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, m.pollTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		rep, err := m.Count(ctx, repo)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return rep, fmt.Errorf("%w for %s: %w", ErrReinferenceTimeout, repo, err)
			}
			return rep, err
		}
		if !rep.ReinferencePending {
			return rep, nil
		}
		// Another poll cannot finish before the deadline.
		if time.Until(deadline) < m.pollInterval {
			return rep, fmt.Errorf("%w for %s: %w", ErrReinferenceTimeout, repo, context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return rep, fmt.Errorf("%w for %s: %w", ErrReinferenceTimeout, repo, ctx.Err())
			}
			return rep, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ClearInferred removes every inferred statement and leaves explicit
// statements untouched, including explicit statements that are also
// derivable. The previous ruleset is restored afterwards without
// re-inference, so an enabled repository stays pending until Enable.
func (m *Manager) ClearInferred(ctx context.Context, repo string) (storage.Repository, error) {
	var out storage.Repository
	err := lock.Do(ctx, m.locker, repo, func(ctx context.Context) error {
		caps, err := m.store.Capabilities(ctx, repo)
		if err != nil {
			return fmt.Errorf("capabilities of %s: %w", repo, err)
		}
		if !caps.ProvenanceTracking {
			return &validation.StructuralError{
				Kind:    "provenance",
				Subject: repo,
				Msg:     "cannot clear inferred statements",
				Err:     ErrProvenanceUnsupported,
			}
		}

		before, err := m.Count(ctx, repo)
		if err != nil {
			return err
		}
		previous := before.Ruleset

		if err := m.store.SetRuleset(ctx, repo, storage.RulesetConfiguration{}); err != nil {
			return fmt.Errorf("disable inference on %s: %w", repo, err)
		}
		if err := m.store.Reinfer(ctx, repo); err != nil {
			return fmt.Errorf("drop inferred statements of %s: %w", repo, err)
		}
		if previous.Enabled {
			if err := m.store.SetRuleset(ctx, repo, previous); err != nil {
				return fmt.Errorf("restore ruleset %s on %s: %w", previous.RulesetName, repo, err)
			}
			m.markPending(repo, previous)
		} else {
			m.clearPending(repo)
		}

		after, err := m.Count(ctx, repo)
		if err != nil {
			return err
		}
		if after.Counts.Inferred != 0 || after.Counts.Explicit != before.Counts.Explicit {
			return fmt.Errorf("%w on %s: explicit %d -> %d, inferred %d",
				ErrClearVerification, repo, before.Counts.Explicit, after.Counts.Explicit, after.Counts.Inferred)
		}
		m.logger.Info("Inferred statements cleared",
			"repository", repo, "removed", before.Counts.Inferred, "explicit", after.Counts.Explicit)

		out = after
		out.ReinferencePending = previous.Enabled
		return nil
	})
	return out, err
}

// ExportExplicitOnly returns every explicit statement of every graph. The
// store filters by provenance, so explicit statements that are also
// inferred are kept.
func (m *Manager) ExportExplicitOnly(ctx context.Context, repo string) (*graph.Document, error) {
	var doc *graph.Document
	err := lock.Do(ctx, m.locker, repo, func(ctx context.Context) error {
		var err error
		doc, err = retry.DoWithResult(ctx, m.retry, func() (*graph.Document, error) {
			d, err := m.store.Export(ctx, repo, storage.ExportOptions{AllGraphs: true})
			return d, storage.RetryableOnly(err)
		})
		if err != nil {
			return fmt.Errorf("export explicit statements of %s: %w", repo, err)
		}
		return nil
	})
	return doc, err
}

func (m *Manager) markPending(repo string, rs storage.RulesetConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[repo] = &pendingState{ruleset: rs}
}

func (m *Manager) markReinferred(repo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[repo]; ok {
		p.reinferred = true
	}
}

func (m *Manager) clearPending(repo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, repo)
}

// observe records counts for a pending repository and reports whether it
// is still pending. Only a repository whose re-inference was requested
// under the expected ruleset can be confirmed.
func (m *Manager) observe(repo string, rs storage.RulesetConfiguration, counts storage.Counts) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[repo]
	if !ok {
		return false
	}
	if !p.reinferred || rs != p.ruleset {
		p.observed = nil
		return true
	}
	if p.observed != nil && *p.observed == counts {
		delete(m.pending, repo)
		m.logger.Info("Re-inference confirmed", "repository", repo, "inferred", counts.Inferred)
		return false
	}
	p.observed = &counts
	return true
}
