// Package storage defines the remote triple store contract used by the
// staging and inference components.
package storage

import (
	"context"

	"github.com/c360studio/semguard/graph"
)

// DisabledRuleset is the ruleset name that turns reasoning off.
const DisabledRuleset = "empty"

// RulesetConfiguration is the reasoning configuration of a repository.
type RulesetConfiguration struct {
	Enabled     bool   `json:"enabled"`
	RulesetName string `json:"ruleset_name,omitempty"`
}

// RulesetFromName builds a configuration from a store ruleset name.
func RulesetFromName(name string) RulesetConfiguration {
	if name == "" || name == DisabledRuleset {
		return RulesetConfiguration{}
	}
	return RulesetConfiguration{Enabled: true, RulesetName: name}
}

// StoreName returns the name the store uses for this configuration.
func (r RulesetConfiguration) StoreName() string {
	if !r.Enabled || r.RulesetName == "" {
		return DisabledRuleset
	}
	return r.RulesetName
}

// Counts separates explicit from inferred statements.
type Counts struct {
	Explicit int `json:"explicit"`
	Inferred int `json:"inferred"`
}

// Total returns explicit plus inferred.
func (c Counts) Total() int { return c.Explicit + c.Inferred }

// Capabilities describes optional store features.
type Capabilities struct {
	// ProvenanceTracking is true when the store tags each statement as
	// explicit or inferred, so inferred statements can be removed without
	// touching an identical explicit one.
	ProvenanceTracking bool `json:"provenance_tracking"`
}

// ExportOptions selects the statements returned by Store.Export.
type ExportOptions struct {
	// Graph restricts the export to one named graph. Empty with AllGraphs
	// unset selects the default graph.
	Graph string

	// AllGraphs exports every graph, ignoring Graph.
	AllGraphs bool

	// IncludeInferred adds reasoner-derived statements.
	IncludeInferred bool
}

// RepositoryConfig describes a repository to create.
type RepositoryConfig struct {
	ID      string
	Title   string
	Ruleset RulesetConfiguration
}

// Store is the remote triple store.
//
// The graph argument of Load and Clear names a graph; the empty string is the
// default graph. Implementations apply a bounded timeout to every call and
// report failures as TransientError or FatalError.
type Store interface {
	CreateRepository(ctx context.Context, cfg RepositoryConfig) error
	DropRepository(ctx context.Context, repo string) error
	RepositoryExists(ctx context.Context, repo string) (bool, error)

	// ListGraphs returns the named graphs holding explicit statements.
	ListGraphs(ctx context.Context, repo string) ([]string, error)

	Load(ctx context.Context, repo, graphURI string, doc *graph.Document) error
	Clear(ctx context.Context, repo, graphURI string) error
	Export(ctx context.Context, repo string, opts ExportOptions) (*graph.Document, error)
	Count(ctx context.Context, repo string) (Counts, error)

	Ruleset(ctx context.Context, repo string) (RulesetConfiguration, error)

	// SetRuleset changes the ruleset without recomputing inferred statements.
	SetRuleset(ctx context.Context, repo string, rs RulesetConfiguration) error

	// Reinfer recomputes inferred statements under the current ruleset.
	Reinfer(ctx context.Context, repo string) error

	Capabilities(ctx context.Context, repo string) (Capabilities, error)
}

// Repository is an explicit snapshot of a repository's reasoning state.
type Repository struct {
	ID      string               `json:"id"`
	Ruleset RulesetConfiguration `json:"ruleset"`
	Counts  Counts               `json:"counts"`

	// ReinferencePending is set after a ruleset change until a count
	// confirms that re-materialization completed.
	ReinferencePending bool `json:"reinference_pending"`
}

// StaleInferred reports whether inferred statements linger while reasoning
// is disabled.
func (r Repository) StaleInferred() bool {
	return !r.Ruleset.Enabled && r.Counts.Inferred > 0
}
