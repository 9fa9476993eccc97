package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/storage"
)

const ontology = `
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix ex: <http://example.org/> .
ex:Dog rdfs:subClassOf ex:Mammal .
ex:Mammal rdfs:subClassOf ex:Animal .
ex:rex a ex:Dog .
ex:rex a ex:Animal .
`

func newRepo(t *testing.T, s *Store, ruleset string) {
	t.Helper()
	require.NoError(t, s.CreateRepository(context.Background(), storage.RepositoryConfig{
		ID:      "repo",
		Ruleset: storage.RulesetFromName(ruleset),
	}))
}

func load(t *testing.T, s *Store, graphURI, src string) {
	t.Helper()
	doc, err := graph.ParseString(src, "")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), "repo", graphURI, doc))
}

func TestStore_InferenceKeepsProvenance(t *testing.T) {
	ctx := context.Background()
	s := New()
	newRepo(t, s, "rdfs")
	load(t, s, "", ontology)

	c, err := s.Count(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Explicit)
	// Dog ⊑ Animal, rex a Mammal. "rex a Animal" is explicit and not
	// counted again even though it is derivable.
	assert.Equal(t, 2, c.Inferred)
	assert.Equal(t, "rdfs", s.InferredRuleset("repo"))

	explicit, err := s.Export(ctx, "repo", storage.ExportOptions{AllGraphs: true})
	require.NoError(t, err)
	assert.True(t, explicit.Has(graph.IRI("http://example.org/rex"), graph.IRI(graph.RDFType), graph.IRI("http://example.org/Animal")))
	assert.Equal(t, 4, explicit.Len())

	all, err := s.Export(ctx, "repo", storage.ExportOptions{AllGraphs: true, IncludeInferred: true})
	require.NoError(t, err)
	assert.Equal(t, 6, all.Len())
}

func TestStore_DisabledRulesetInfersNothing(t *testing.T) {
	s := New()
	newRepo(t, s, "empty")
	load(t, s, "", ontology)

	c, err := s.Count(context.Background(), "repo")
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{Explicit: 4, Inferred: 0}, c)
}

func TestStore_SetRulesetDoesNotReinfer(t *testing.T) {
	ctx := context.Background()
	s := New()
	newRepo(t, s, "rdfs")
	load(t, s, "", ontology)

	require.NoError(t, s.SetRuleset(ctx, "repo", storage.RulesetConfiguration{}))
	c, _ := s.Count(ctx, "repo")
	assert.Equal(t, 2, c.Inferred, "inferred statements become stale, not absent")

	require.NoError(t, s.Reinfer(ctx, "repo"))
	c, _ = s.Count(ctx, "repo")
	assert.Equal(t, 0, c.Inferred)
	assert.Equal(t, 4, c.Explicit)
}

func TestStore_NamedGraphs(t *testing.T) {
	ctx := context.Background()
	s := New()
	newRepo(t, s, "empty")
	load(t, s, "http://g/1", `<http://e/a> <http://e/p> "1" .`)
	load(t, s, "http://g/2", `<http://e/b> <http://e/p> "2" .`)
	load(t, s, "", `<http://e/c> <http://e/p> "3" .`)

	graphs, err := s.ListGraphs(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://g/1", "http://g/2"}, graphs)

	require.NoError(t, s.Clear(ctx, "repo", "http://g/1"))
	c, _ := s.Count(ctx, "repo")
	assert.Equal(t, 2, c.Explicit)

	g2, err := s.Export(ctx, "repo", storage.ExportOptions{Graph: "http://g/2"})
	require.NoError(t, err)
	assert.Equal(t, 1, g2.Len())
}

func TestStore_BlankNodesDoNotAliasAcrossLoads(t *testing.T) {
	ctx := context.Background()
	s := New()
	newRepo(t, s, "empty")
	load(t, s, "", `_:x <http://e/p> "1" .`)
	load(t, s, "", `_:x <http://e/p> "2" .`)

	doc, err := s.Export(ctx, "repo", storage.ExportOptions{})
	require.NoError(t, err)
	assert.Len(t, doc.Subjects(graph.IRI("http://e/p"), graph.Term{}), 2)
}

func TestStore_Faults(t *testing.T) {
	ctx := context.Background()
	boom := storage.NewTransientError(errors.New("connection reset"))
	s := New(WithFault(func(op Op, repo, _ string) error {
		if op == OpCount {
			return boom
		}
		return nil
	}))
	newRepo(t, s, "empty")

	_, err := s.Count(ctx, "repo")
	assert.True(t, storage.IsTransient(err))

	s.SetFault(func(op Op, _, _ string) error {
		if op == OpLoad {
			return ErrPartialWrite
		}
		return nil
	})
	doc, err := graph.ParseString(`<http://e/a> <http://e/p> "1" . <http://e/a> <http://e/p> "2" .`, "")
	require.NoError(t, err)
	err = s.Load(ctx, "repo", "", doc)
	require.ErrorIs(t, err, ErrPartialWrite)

	s.SetFault(nil)
	c, err := s.Count(ctx, "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Explicit, "half of the document was written")
}

func TestStore_RepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(WithoutProvenance())
	newRepo(t, s, "empty")

	err := s.CreateRepository(ctx, storage.RepositoryConfig{ID: "repo"})
	assert.ErrorIs(t, err, storage.ErrRepositoryExists)
	assert.True(t, storage.IsFatal(err))

	caps, err := s.Capabilities(ctx, "repo")
	require.NoError(t, err)
	assert.False(t, caps.ProvenanceTracking)

	require.NoError(t, s.DropRepository(ctx, "repo"))
	ok, err := s.RepositoryExists(ctx, "repo")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Count(ctx, "repo")
	assert.ErrorIs(t, err, storage.ErrRepositoryNotFound)
}

func TestStore_CountsTripleInSeveralGraphsOnce(t *testing.T) {
	s := New()
	newRepo(t, s, "empty")
	load(t, s, "", `<http://e/a> <http://e/p> <http://e/b> .`)
	load(t, s, "http://g/1", `<http://e/a> <http://e/p> <http://e/b> .`)

	c, err := s.Count(context.Background(), "repo")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Explicit)
}
