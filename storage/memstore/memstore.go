// Package memstore is an in-memory, provenance-tracking implementation of
// storage.Store. Explicit statements are kept per graph; inferred statements
// are kept apart and tagged with the ruleset that produced them.
//
// The reasoner applies RDFS entailment for subClassOf, subPropertyOf,
// domain and range whenever the ruleset is not "empty".
package memstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/storage"
)

// Op names a store operation, for fault injection.
type Op string

const (
	OpCreate       Op = "create"
	OpDrop         Op = "drop"
	OpExists       Op = "exists"
	OpListGraphs   Op = "list_graphs"
	OpLoad         Op = "load"
	OpClear        Op = "clear"
	OpExport       Op = "export"
	OpCount        Op = "count"
	OpRuleset      Op = "ruleset"
	OpSetRuleset   Op = "set_ruleset"
	OpReinfer      Op = "reinfer"
	OpCapabilities Op = "capabilities"
)

// ErrPartialWrite, when returned (or wrapped) by a FaultFunc for OpLoad,
// makes the store apply the first half of the document before failing.
var ErrPartialWrite = errors.New("partial write")

// FaultFunc is consulted before every operation. A non-nil error aborts it.
type FaultFunc func(op Op, repo, graphURI string) error

// Option configures a Store.
type Option func(*Store)

// WithoutProvenance makes the store report that it cannot distinguish
// explicit from inferred statements.
func WithoutProvenance() Option {
	return func(s *Store) { s.provenance = false }
}

// WithFault installs a fault hook.
func WithFault(f FaultFunc) Option {
	return func(s *Store) { s.fault = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	repos      map[string]*repository
	provenance bool
	fault      FaultFunc
	blankSeq   int
	logger     *slog.Logger
}

type repository struct {
	cfg             storage.RepositoryConfig
	ruleset         storage.RulesetConfiguration
	graphs          map[string]*graph.Document
	inferred        *graph.Document
	inferredRuleset string
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		repos:      make(map[string]*repository),
		provenance: true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault replaces the fault hook. A nil hook disables injection.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Repositories lists repository ids in sorted order.
func (s *Store) Repositories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.repos))
	for id := range s.repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) check(ctx context.Context, op Op, repo, graphURI string) error {
	if err := ctx.Err(); err != nil {
		return storage.NewTransientError(fmt.Errorf("%s %s: %w", op, repo, err))
	}
	if s.fault != nil {
		if err := s.fault(op, repo, graphURI); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) get(repo string) (*repository, error) {
	r, ok := s.repos[repo]
	if !ok {
		return nil, storage.NewFatalError(fmt.Errorf("%w: %s", storage.ErrRepositoryNotFound, repo))
	}
	return r, nil
}

func (s *Store) CreateRepository(ctx context.Context, cfg storage.RepositoryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpCreate, cfg.ID, ""); err != nil {
		return err
	}
	if _, ok := s.repos[cfg.ID]; ok {
		return storage.NewFatalError(fmt.Errorf("%w: %s", storage.ErrRepositoryExists, cfg.ID))
	}
	s.repos[cfg.ID] = &repository{
		cfg:      cfg,
		ruleset:  cfg.Ruleset,
		graphs:   make(map[string]*graph.Document),
		inferred: graph.NewDocument(),
	}
	s.logger.Debug("Created repository", "repository", cfg.ID, "ruleset", cfg.Ruleset.StoreName())
	return nil
}

func (s *Store) DropRepository(ctx context.Context, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpDrop, repo, ""); err != nil {
		return err
	}
	if _, err := s.get(repo); err != nil {
		return err
	}
	delete(s.repos, repo)
	return nil
}

func (s *Store) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpExists, repo, ""); err != nil {
		return false, err
	}
	_, ok := s.repos[repo]
	return ok, nil
}

func (s *Store) ListGraphs(ctx context.Context, repo string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpListGraphs, repo, ""); err != nil {
		return nil, err
	}
	r, err := s.get(repo)
	if err != nil {
		return nil, err
	}
	var out []string
	for uri, doc := range r.graphs {
		if uri != "" && doc.Len() > 0 {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load adds doc to the graph. Blank nodes get store-wide labels so that
// statements from different loads never share a blank node.
func (s *Store) Load(ctx context.Context, repo, graphURI string, doc *graph.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.get(repo)
	if err != nil {
		return err
	}
	triples := doc.Triples()
	if err := s.check(ctx, OpLoad, repo, graphURI); err != nil {
		if errors.Is(err, ErrPartialWrite) {
			s.addTriples(r, graphURI, triples[:len(triples)/2])
			s.materialize(r)
		}
		return err
	}
	s.addTriples(r, graphURI, triples)
	s.materialize(r)
	s.logger.Debug("Loaded statements", "repository", repo, "graph", graphURI, "statements", len(triples))
	return nil
}

func (s *Store) addTriples(r *repository, graphURI string, triples []graph.Triple) {
	target := r.graphs[graphURI]
	if target == nil {
		target = graph.NewDocument()
		r.graphs[graphURI] = target
	}
	blanks := make(map[graph.Term]graph.Term)
	remap := func(t graph.Term) graph.Term {
		if !t.IsBlank() {
			return t
		}
		if b, ok := blanks[t]; ok {
			return b
		}
		s.blankSeq++
		b := graph.Blank("m" + strconv.Itoa(s.blankSeq))
		blanks[t] = b
		return b
	}
	for _, t := range triples {
		target.Add(remap(t.Subject), remap(t.Predicate), remap(t.Object))
	}
}

func (s *Store) Clear(ctx context.Context, repo, graphURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpClear, repo, graphURI); err != nil {
		return err
	}
	r, err := s.get(repo)
	if err != nil {
		return err
	}
	delete(r.graphs, graphURI)
	s.materialize(r)
	return nil
}

func (s *Store) Export(ctx context.Context, repo string, opts storage.ExportOptions) (*graph.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpExport, repo, opts.Graph); err != nil {
		return nil, err
	}
	r, err := s.get(repo)
	if err != nil {
		return nil, err
	}
	out := graph.NewDocument()
	add := func(doc *graph.Document) {
		if doc == nil {
			return
		}
		for _, t := range doc.Triples() {
			out.AddTriple(t)
		}
	}
	if opts.AllGraphs {
		for _, uri := range sortedKeys(r.graphs) {
			add(r.graphs[uri])
		}
	} else {
		add(r.graphs[opts.Graph])
	}
	if opts.IncludeInferred && (opts.AllGraphs || opts.Graph == "") {
		add(r.inferred)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, repo string) (storage.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpCount, repo, ""); err != nil {
		return storage.Counts{}, err
	}
	r, err := s.get(repo)
	if err != nil {
		return storage.Counts{}, err
	}
	// A triple asserted in several graphs counts once, as in GraphDB's
	// explicit pseudo-graph.
	explicit := graph.NewDocument()
	for _, doc := range r.graphs {
		for _, t := range doc.Triples() {
			explicit.AddTriple(t)
		}
	}
	return storage.Counts{Explicit: explicit.Len(), Inferred: r.inferred.Len()}, nil
}

func (s *Store) Ruleset(ctx context.Context, repo string) (storage.RulesetConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpRuleset, repo, ""); err != nil {
		return storage.RulesetConfiguration{}, err
	}
	r, err := s.get(repo)
	if err != nil {
		return storage.RulesetConfiguration{}, err
	}
	return r.ruleset, nil
}

// SetRuleset changes the ruleset. Previously inferred statements remain until
// Reinfer is called.
func (s *Store) SetRuleset(ctx context.Context, repo string, rs storage.RulesetConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpSetRuleset, repo, ""); err != nil {
		return err
	}
	r, err := s.get(repo)
	if err != nil {
		return err
	}
	r.ruleset = rs
	return nil
}

func (s *Store) Reinfer(ctx context.Context, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpReinfer, repo, ""); err != nil {
		return err
	}
	r, err := s.get(repo)
	if err != nil {
		return err
	}
	if !r.ruleset.Enabled {
		r.inferred = graph.NewDocument()
		r.inferredRuleset = ""
		return nil
	}
	s.recompute(r)
	return nil
}

func (s *Store) Capabilities(ctx context.Context, repo string) (storage.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpCapabilities, repo, ""); err != nil {
		return storage.Capabilities{}, err
	}
	if _, err := s.get(repo); err != nil {
		return storage.Capabilities{}, err
	}
	return storage.Capabilities{ProvenanceTracking: s.provenance}, nil
}

// InferredRuleset returns the ruleset that produced the current inferred
// statements of repo.
func (s *Store) InferredRuleset(repo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[repo]; ok {
		return r.inferredRuleset
	}
	return ""
}

// materialize keeps inferred statements current after explicit changes,
// as long as reasoning is enabled.
func (s *Store) materialize(r *repository) {
	if r.ruleset.Enabled {
		s.recompute(r)
	}
}

func (s *Store) recompute(r *repository) {
	explicit := graph.NewDocument()
	for _, uri := range sortedKeys(r.graphs) {
		for _, t := range r.graphs[uri].Triples() {
			explicit.AddTriple(t)
		}
	}
	closure := entail(explicit)
	inferred := graph.NewDocument()
	for _, t := range closure.Triples() {
		if !explicit.Has(t.Subject, t.Predicate, t.Object) {
			inferred.AddTriple(t)
		}
	}
	r.inferred = inferred
	r.inferredRuleset = r.ruleset.RulesetName
}

func sortedKeys(m map[string]*graph.Document) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
