// Package plan validates and repairs check-in plan documents.
//
// A plan is a graph document whose root node is typed both
// guidance:IntegrationProcess and checkin:CheckinPlan, with steps reachable
// through checkin:hasStep. Validation is purely structural; it does not use
// SHACL shapes.
package plan

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/semstreams/vocabulary"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/metrics"
	"github.com/c360studio/semguard/vocabulary/checkin"
)

// DefaultBackupSuffix is appended to a plan path to name its backup.
const DefaultBackupSuffix = ".bak"

// ErrNoPlan is the cause of the violation reported for a document without a
// plan root.
var ErrNoPlan = errors.New("no valid check-in plan found")

// Plan is the structural view of one plan root.
type Plan struct {
	Root  graph.Term
	Steps []Step
}

// Step is one node linked from a plan through checkin:hasStep.
type Step struct {
	Node        graph.Term
	Label       string
	Description string

	// Order is meaningful only when HasOrder and ValidOrder are both true.
	Order      int
	HasOrder   bool
	ValidOrder bool

	DependsOn []graph.Term
}

// Validator checks plan documents. It holds no per-document state and is
// safe for concurrent use.
type Validator struct {
	required     []checkin.Prefix
	fixPrefixes  []checkin.Prefix
	backupSuffix string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithRequiredPrefixes replaces the prefix bindings every plan must carry.
// The same bindings are added by Fix.
func WithRequiredPrefixes(prefixes []checkin.Prefix) Option {
	return func(v *Validator) {
		v.required = prefixes
		v.fixPrefixes = prefixes
	}
}

// WithBackupSuffix sets the suffix of backup files written by FixFile.
func WithBackupSuffix(suffix string) Option {
	return func(v *Validator) {
		if suffix != "" {
			v.backupSuffix = suffix
		}
	}
}

// WithMetrics records file-level results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewValidator creates a plan validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		required:     checkin.RequiredPrefixes,
		fixPrefixes:  checkin.FixPrefixes,
		backupSuffix: DefaultBackupSuffix,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var (
	typePred        = graph.IRI(graph.RDFType)
	labelPred       = graph.IRI(vocabulary.RdfsLabel)
	commentPred     = graph.IRI(vocabulary.RdfsComment)
	versionPred     = graph.IRI(graph.OWLVersionInfo)
	hasStepPred     = mustPredicate(checkin.PredicateHasStep)
	orderPred       = mustPredicate(checkin.PredicateStepOrder)
	descriptionPred = mustPredicate(checkin.PredicateStepDescription)
	dependsOnPred   = mustPredicate(checkin.PredicateDependsOn)

	rootTypes = []graph.Term{
		graph.IRI(checkin.IntegrationProcess),
		graph.IRI(checkin.CheckinPlan),
	}
	stepType = graph.IRI(checkin.IntegrationStep)
)

// mustPredicate resolves a registered checkin predicate to its IRI term.
func mustPredicate(name string) graph.Term {
	iri := checkin.PredicateIRI(name)
	if iri == "" {
		panic(fmt.Sprintf("plan: predicate %s is not registered with an IRI", name))
	}
	return graph.IRI(iri)
}

// Roots returns every subject typed with at least one plan root type, in
// document order.
func Roots(doc *graph.Document) []graph.Term {
	seen := make(map[graph.Term]bool)
	var roots []graph.Term
	for _, s := range doc.AllSubjects() {
		for _, rt := range rootTypes {
			if doc.Has(s, typePred, rt) && !seen[s] {
				seen[s] = true
				roots = append(roots, s)
			}
		}
	}
	return roots
}

// Load extracts the plan rooted at root. Steps keep document order.
func Load(doc *graph.Document, root graph.Term) Plan {
	p := Plan{Root: root}
	for _, node := range doc.Objects(root, hasStepPred) {
		s := Step{Node: node}
		if l, ok := doc.Object(node, labelPred); ok {
			s.Label = l.Value
		}
		if d, ok := doc.Object(node, descriptionPred); ok {
			s.Description = d.Value
		}
		if o, ok := doc.Object(node, orderPred); ok {
			s.HasOrder = true
			s.Order, s.ValidOrder = o.Int()
		}
		s.DependsOn = doc.Objects(node, dependsOnPred)
		p.Steps = append(p.Steps, s)
	}
	return p
}

// nodeName renders a node for messages and cycle paths.
func nodeName(t graph.Term) string {
	if t.IsBlank() {
		return "_:" + t.Value
	}
	return t.Value
}
