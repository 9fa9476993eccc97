// Package staging applies ontology and shape updates to a production
// repository through a disposable staging repository: validate locally,
// stage, validate the staged view, then promote or roll back.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/inference"
	"github.com/c360studio/semguard/journal"
	"github.com/c360studio/semguard/lock"
	"github.com/c360studio/semguard/metrics"
	"github.com/c360studio/semguard/storage"
	"github.com/c360studio/semguard/validation"
)

var tracer = otel.Tracer("semguard.staging")

// DefaultStagingPrefix prefixes staging repository ids.
const DefaultStagingPrefix = "staging-"

// seedConcurrency bounds parallel graph copies into the staging repository.
const seedConcurrency = 4

// Journal records finished runs.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options selects what an update replaces.
type Options struct {
	// GraphURI is the named graph to replace. Empty replaces the default
	// graph.
	GraphURI string

	// DryRun stops after staged validation.
	DryRun bool
}

// UpdateResult is the outcome of ApplyUpdate.
type UpdateResult struct {
	OK     bool              `json:"ok"`
	Report validation.Report `json:"report"`

	// RolledBack is true when a failed promotion was undone.
	RolledBack bool `json:"rolled_back"`

	// RollbackFailed is true when undoing a failed promotion also failed.
	RollbackFailed bool `json:"rollback_failed"`

	DryRun            bool   `json:"dry_run"`
	SessionID         string `json:"session_id"`
	StagingRepository string `json:"staging_repository,omitempty"`

	Before storage.Counts `json:"before"`
	After  storage.Counts `json:"after"`

	// Merged is the ontology with the new shapes merged in, as staged and
	// promoted.
	Merged *graph.Document `json:"-"`
}

// Coordinator runs the stage, validate, promote protocol.
type Coordinator struct {
	store         storage.Store
	validator     *validation.LocalValidator
	inference     *inference.Manager
	locker        lock.Locker
	retry         retry.Config
	stagingPrefix string
	journal       Journal
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker sets the per-repository locker.
func WithLocker(l lock.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithInferenceManager sets the manager used for rulesets and counts. It
// should share the coordinator's locker.
func WithInferenceManager(m *inference.Manager) Option {
	return func(c *Coordinator) { c.inference = m }
}

// WithRetry sets the retry policy for staging and validation calls.
// Promotion calls are never retried.
func WithRetry(cfg retry.Config) Option {
	return func(c *Coordinator) { c.retry = cfg }
}

// WithStagingPrefix sets the staging repository id prefix.
func WithStagingPrefix(prefix string) Option {
	return func(c *Coordinator) { c.stagingPrefix = prefix }
}

// WithJournal records every run.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store storage.Store, validator *validation.LocalValidator, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		validator:     validator,
		retry:         retry.DefaultConfig(),
		stagingPrefix: DefaultStagingPrefix,
		logger:        slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.locker == nil {
		c.locker = lock.NewLocalLocker()
	}
	if c.inference == nil {
		c.inference = inference.NewManager(store,
			inference.WithLocker(c.locker),
			inference.WithRetry(c.retry),
			inference.WithLogger(c.logger))
	}
	return c
}

// run carries the state of one ApplyUpdate call.
type run struct {
	target  string
	opts    Options
	started time.Time
	result  UpdateResult
	outcome journal.Outcome
	snap    int
	err     error
}

// ApplyUpdate validates ontology with shapes merged in and, if valid,
// replaces the target graph of target with it.
//
// A run that ends in a validation failure, a dry run or a promotion with
// rollback returns a result and, for promotion failures, a
// *PromotionError. Errors before promotion leave production untouched.
// Cancellation of ctx is honored until promotion begins.
func (c *Coordinator) ApplyUpdate(ctx context.Context, ontology, shapes *graph.Document, target string, opts Options) (UpdateResult, error) {
	r := &run{
		target:  target,
		opts:    opts,
		started: c.now(),
		result:  UpdateResult{SessionID: c.newID(), DryRun: opts.DryRun},
	}

	ctx, span := tracer.Start(ctx, "staging.ApplyUpdate", trace.WithAttributes(
		attribute.String("repository", target),
		attribute.String("graph", opts.GraphURI),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.String("session", r.result.SessionID),
	))
	defer span.End()
	defer c.finish(ctx, r)

	logger := c.logger.With("session", r.result.SessionID, "repository", target)

	candidate, err := graph.MergeShapes(ontology, shapes)
	if err != nil {
		// Statements use full IRIs, so only the serialized prefixes differ.
		logger.Warn("Shapes prefix conflicts with ontology, keeping ontology binding", "error", err)
	}
	r.result.Merged = candidate

	// Local validation is pure and takes no lock.
	local, err := c.validator.Validate(ctx, ontology, shapes)
	if err != nil {
		r.fail(span, fmt.Errorf("local validation: %w", err))
		return r.result, r.err
	}
	c.metrics.RecordViolations("local", len(local.Blocking()), len(local.Advisory()))
	r.result.Report = local
	if !local.Passed() {
		logger.Info("Local validation failed", "blocking", len(local.Blocking()))
		r.outcome = journal.OutcomeValidationFailed
		return r.result, nil
	}

	err = lock.Do(ctx, c.locker, target, func(ctx context.Context) error {
		return c.stageAndPromote(ctx, r, candidate, shapes, logger)
	})
	if err != nil {
		r.fail(span, err)
		return r.result, err
	}
	span.SetStatus(codes.Ok, "")
	return r.result, nil
}

func (c *Coordinator) stageAndPromote(ctx context.Context, r *run, candidate, shapes *graph.Document, logger *slog.Logger) error {
	rs, err := c.inference.Ruleset(ctx, r.target)
	if err != nil {
		return fmt.Errorf("read ruleset of %s: %w", r.target, err)
	}
	before, err := c.inference.Count(ctx, r.target)
	if err != nil {
		return err
	}
	r.result.Before = before.Counts
	r.result.After = before.Counts

	session, err := c.openSession(ctx, r.result.SessionID, r.target, r.opts.GraphURI, rs)
	if err != nil {
		return err
	}
	r.result.StagingRepository = session.StagingRepository
	defer c.closeSession(ctx, session)

	if err := c.seed(ctx, session, candidate); err != nil {
		return err
	}

	staged, err := c.validateStaged(ctx, session, shapes)
	if err != nil {
		return err
	}
	c.metrics.RecordViolations("staged", len(staged.Blocking()), len(staged.Advisory()))
	r.result.Report = staged
	if !staged.Passed() {
		logger.Info("Staged validation failed", "blocking", len(staged.Blocking()))
		r.outcome = journal.OutcomeValidationFailed
		return nil
	}

	if r.opts.DryRun {
		logger.Info("Dry run passed staged validation", "statements", candidate.Len())
		r.result.OK = true
		r.outcome = journal.OutcomeDryRun
		return nil
	}

	// Last point at which cancellation is honored.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("update cancelled before promotion: %w", err)
	}

	if err := c.promote(context.WithoutCancel(ctx), r, candidate, logger); err != nil {
		return err
	}
	r.result.OK = true
	r.outcome = journal.OutcomePromoted
	return nil
}

// seed copies every graph of the target that the update does not replace
// into the staging repository, then loads the candidate in place of the
// replaced graph.
func (c *Coordinator) seed(ctx context.Context, s *Session, candidate *graph.Document) error {
	ctx, span := tracer.Start(ctx, "staging.seed")
	defer span.End()

	graphs, err := retry.DoWithResult(ctx, c.retry, func() ([]string, error) {
		g, err := c.store.ListGraphs(ctx, s.SourceRepository)
		return g, storage.RetryableOnly(err)
	})
	if err != nil {
		return spanError(span, fmt.Errorf("list graphs of %s: %w", s.SourceRepository, err))
	}

	// The default graph is not listed; it is kept unless it is replaced.
	var copies []string
	if s.GraphURI != "" {
		copies = append(copies, "")
	}
	for _, g := range graphs {
		if g != s.GraphURI {
			copies = append(copies, g)
		}
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(seedConcurrency)
	for _, g := range copies {
		eg.Go(func() error {
			doc, err := retry.DoWithResult(egctx, c.retry, func() (*graph.Document, error) {
				d, err := c.store.Export(egctx, s.SourceRepository, storage.ExportOptions{Graph: g})
				return d, storage.RetryableOnly(err)
			})
			if err != nil {
				return fmt.Errorf("export %s <%s>: %w", s.SourceRepository, g, err)
			}
			if doc.Len() == 0 {
				return nil
			}
			return c.loadStaging(egctx, s, g, doc)
		})
	}
	if err := eg.Wait(); err != nil {
		return spanError(span, err)
	}

	if err := c.loadStaging(ctx, s, s.GraphURI, candidate); err != nil {
		return spanError(span, err)
	}
	span.SetAttributes(attribute.Int("graphs_copied", len(copies)))
	return nil
}

// loadStaging clears and loads one graph of the staging repository.
// Retrying is safe because the repository is disposable and the graph is
// cleared before every attempt.
func (c *Coordinator) loadStaging(ctx context.Context, s *Session, graphURI string, doc *graph.Document) error {
	err := retry.Do(ctx, c.retry, func() error {
		if err := c.store.Clear(ctx, s.StagingRepository, graphURI); err != nil {
			return storage.RetryableOnly(err)
		}
		return storage.RetryableOnly(c.store.Load(ctx, s.StagingRepository, graphURI, doc))
	})
	if err != nil {
		return fmt.Errorf("load staging graph <%s>: %w", graphURI, err)
	}
	return nil
}

// validateStaged validates the staging repository's resolved view,
// including statements the reasoner derived from existing data.
func (c *Coordinator) validateStaged(ctx context.Context, s *Session, shapes *graph.Document) (validation.Report, error) {
	ctx, span := tracer.Start(ctx, "staging.validate")
	defer span.End()

	view, err := retry.DoWithResult(ctx, c.retry, func() (*graph.Document, error) {
		d, err := c.store.Export(ctx, s.StagingRepository, storage.ExportOptions{AllGraphs: true, IncludeInferred: true})
		return d, storage.RetryableOnly(err)
	})
	if err != nil {
		return validation.Report{}, spanError(span, fmt.Errorf("export staging view: %w", err))
	}
	report, err := c.validator.Validate(ctx, view, shapes)
	if err != nil {
		return validation.Report{}, spanError(span, fmt.Errorf("staged validation: %w", err))
	}
	span.SetAttributes(attribute.Int("violations", report.Len()))
	return report, nil
}

// promote replaces the target graph with candidate. Nothing here is
// retried except the rollback.
func (c *Coordinator) promote(ctx context.Context, r *run, candidate *graph.Document, logger *slog.Logger) error {
	ctx, span := tracer.Start(ctx, "staging.promote")
	defer span.End()

	graphURI := r.opts.GraphURI
	perr := &PromotionError{Repository: r.target, Graph: graphURI}

	snapshot, err := retry.DoWithResult(ctx, c.retry, func() (*graph.Document, error) {
		d, err := c.store.Export(ctx, r.target, storage.ExportOptions{Graph: graphURI})
		return d, storage.RetryableOnly(err)
	})
	if err != nil {
		// Nothing was touched yet, so this is not a promotion failure.
		return spanError(span, fmt.Errorf("%w of %s: %w", ErrSnapshot, r.target, err))
	}
	perr.SnapshotStatements = snapshot.Len()
	r.snap = snapshot.Len()
	logger.Info("Promoting", "graph", graphURI, "snapshot", snapshot.Len(), "statements", candidate.Len())

	stage, err := c.replace(ctx, r.target, graphURI, candidate)
	if err == nil {
		c.metrics.RecordPromotion(r.target, true)
		after, cerr := c.inference.Count(ctx, r.target)
		if cerr != nil {
			logger.Warn("Promoted but could not count target", "error", cerr)
		} else {
			r.result.After = after.Counts
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	c.metrics.RecordPromotion(r.target, false)
	perr.Stage, perr.Err = stage, err
	logger.Warn("Promotion failed, rolling back", "stage", stage, "error", err)

	if rerr := c.rollback(ctx, r.target, graphURI, snapshot); rerr != nil {
		perr.RollbackErr = rerr
		r.result.RollbackFailed = true
		r.outcome = journal.OutcomeRollbackFailed
		c.metrics.RecordRollback(r.target, false)
		logger.Error("Rollback failed, target graph is in an unknown state",
			"graph", graphURI, "snapshot", snapshot.Len(), "error", rerr)
	} else {
		perr.RolledBack = true
		r.result.RolledBack = true
		r.outcome = journal.OutcomeRolledBack
		c.metrics.RecordRollback(r.target, true)
		logger.Info("Rolled back", "graph", graphURI, "statements", snapshot.Len())
	}
	return spanError(span, perr)
}

// replace clears graphURI and loads doc, then checks the statement count.
func (c *Coordinator) replace(ctx context.Context, repo, graphURI string, doc *graph.Document) (Stage, error) {
	if err := c.store.Clear(ctx, repo, graphURI); err != nil {
		return StageClear, err
	}
	if err := c.store.Load(ctx, repo, graphURI, doc); err != nil {
		return StageLoad, err
	}
	loaded, err := c.store.Export(ctx, repo, storage.ExportOptions{Graph: graphURI})
	if err != nil {
		return StageVerify, err
	}
	if loaded.Len() != doc.Len() {
		return StageVerify, fmt.Errorf("graph holds %d statements, expected %d", loaded.Len(), doc.Len())
	}
	return "", nil
}

// rollback restores snapshot into graphURI. Each attempt clears first, so
// a retry after a partial restore does not leave duplicates behind.
func (c *Coordinator) rollback(ctx context.Context, repo, graphURI string, snapshot *graph.Document) error {
	ctx, span := tracer.Start(ctx, "staging.rollback")
	defer span.End()

	err := retry.Do(ctx, c.retry, func() error {
		if err := c.store.Clear(ctx, repo, graphURI); err != nil {
			return storage.RetryableOnly(err)
		}
		if snapshot.Len() == 0 {
			return nil
		}
		return storage.RetryableOnly(c.store.Load(ctx, repo, graphURI, snapshot))
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// fail records err as the run's error.
func (r *run) fail(span trace.Span, err error) {
	r.err = err
	if r.outcome == "" {
		r.outcome = journal.OutcomeError
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// finish records metrics and the journal entry of a run.
func (c *Coordinator) finish(ctx context.Context, r *run) {
	if r.outcome == "" {
		r.outcome = journal.OutcomeError
	}
	finished := c.now()
	c.metrics.RecordRun(r.target, string(r.outcome), finished.Sub(r.started))

	if c.journal == nil {
		return
	}
	e := journal.Entry{
		SessionID:          r.result.SessionID,
		Repository:         r.target,
		Graph:              r.opts.GraphURI,
		StagingRepository:  r.result.StagingRepository,
		Outcome:            r.outcome,
		StartedAt:          r.started,
		FinishedAt:         finished,
		Blocking:           len(r.result.Report.Blocking()),
		Advisory:           len(r.result.Report.Advisory()),
		SnapshotStatements: r.snap,
		ExplicitBefore:     r.result.Before.Explicit,
		ExplicitAfter:      r.result.After.Explicit,
	}
	if r.err != nil {
		e.Error = r.err.Error()
	}
	if err := c.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn("Failed to journal update run", "session", e.SessionID, "error", err)
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ExitCode maps an ApplyUpdate outcome to a process exit status: 0 on
// success, 1 when validation failed, 2 when promotion failed, 3 for any
// other error.
func ExitCode(res UpdateResult, err error) int {
	var perr *PromotionError
	switch {
	case err == nil && res.OK:
		return 0
	case err == nil:
		return 1
	case errors.As(err, &perr):
		return 2
	default:
		return 3
	}
}
