package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_AddRemove(t *testing.T) {
	d := NewDocument()
	s, p := IRI("http://e/s"), IRI("http://e/p")

	assert.True(t, d.Add(s, p, Literal("a")))
	assert.False(t, d.Add(s, p, Literal("a")), "duplicate statement")
	assert.True(t, d.Add(s, p, Literal("b")))
	assert.True(t, d.Add(IRI("http://e/t"), p, Literal("c")))
	assert.Equal(t, 3, d.Len())

	assert.True(t, d.Remove(s, p, Literal("a")))
	assert.False(t, d.Remove(s, p, Literal("a")))
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []Term{Literal("b")}, d.Objects(s, p))

	assert.Equal(t, 1, d.RemoveSubject(s))
	assert.Equal(t, 1, d.Len())
	assert.Empty(t, d.Match(s, Term{}, Term{}))
}

func TestDocument_Bind(t *testing.T) {
	d := NewDocument()
	require.NoError(t, d.Bind("ex", "http://e/"))
	require.NoError(t, d.Bind("ex", "http://e/"))

	err := d.Bind("ex", "http://other/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrefixConflict))
	ns, _ := d.Namespace("ex")
	assert.Equal(t, "http://e/", ns)
}

func TestDocument_CloneIsIndependent(t *testing.T) {
	d := NewDocument()
	d.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("x"))
	c := d.Clone()
	c.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("y"))
	require.NoError(t, c.Bind("ex", "http://e/"))

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 2, c.Len())
	_, ok := d.Namespace("ex")
	assert.False(t, ok)
}

func TestDocument_MergeRemapsBlankNodes(t *testing.T) {
	a, err := ParseString(`_:n <http://e/p> "from a" .`, "")
	require.NoError(t, err)
	b, err := ParseString(`_:n <http://e/p> "from b" .`, "")
	require.NoError(t, err)

	added, err := a.Merge(b)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	subjects := a.Subjects(IRI("http://e/p"), Term{})
	require.Len(t, subjects, 2, "blank nodes from different documents must stay distinct")
	assert.NotEqual(t, subjects[0], subjects[1])
}

func TestDocument_Digest(t *testing.T) {
	a := NewDocument()
	a.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("1"))
	a.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("2"))

	b := NewDocument()
	b.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("2"))
	b.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("1"))

	assert.Equal(t, a.Digest(), b.Digest())
	b.Add(IRI("http://e/s"), IRI("http://e/p"), Literal("3"))
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestMergeShapes_ReplacesExistingShapes(t *testing.T) {
	ontology, err := ParseString(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://e/> .
ex:Thing a ex:Class .
ex:OldShape a sh:NodeShape ;
    sh:targetClass ex:Thing ;
    sh:property [ sh:path ex:old ; sh:minCount 1 ] .
`, "")
	require.NoError(t, err)

	shapes, err := ParseString(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://e/> .
ex:NewShape a sh:NodeShape ;
    sh:targetClass ex:Thing ;
    sh:property [ sh:path ex:label ; sh:minCount 1 ] .
`, "")
	require.NoError(t, err)

	merged, err := MergeShapes(ontology, shapes)
	require.NoError(t, err)

	assert.True(t, merged.Has(IRI("http://e/Thing"), IRI(RDFType), IRI("http://e/Class")))
	assert.Empty(t, merged.Match(IRI("http://e/OldShape"), Term{}, Term{}))
	assert.Empty(t, merged.Match(Term{}, IRI(SH+"path"), IRI("http://e/old")), "owned blank nodes are removed")
	assert.NotEmpty(t, merged.Match(IRI("http://e/NewShape"), Term{}, Term{}))
	assert.NotEmpty(t, merged.Match(Term{}, IRI(SH+"path"), IRI("http://e/label")))

	assert.NotEmpty(t, ontology.Match(IRI("http://e/OldShape"), Term{}, Term{}), "input is not mutated")
}

func TestDocument_MergeReportsPrefixConflict(t *testing.T) {
	a, err := ParseString(`@prefix ex: <http://e/a#> . ex:s ex:p "a" .`, "")
	require.NoError(t, err)
	b, err := ParseString(`
@prefix ex: <http://e/b#> .
@prefix other: <http://e/other#> .
ex:s ex:p "b" .
`, "")
	require.NoError(t, err)

	added, err := a.Merge(b)
	assert.True(t, errors.Is(err, ErrPrefixConflict))
	assert.Contains(t, err.Error(), "http://e/b#")
	assert.Equal(t, 1, added, "statements are merged despite the conflict")

	ns, _ := a.Namespace("ex")
	assert.Equal(t, "http://e/a#", ns, "existing binding wins")
	ns, ok := a.Namespace("other")
	require.True(t, ok)
	assert.Equal(t, "http://e/other#", ns)
	assert.True(t, a.Has(IRI("http://e/b#s"), IRI("http://e/b#p"), Literal("b")))
}

func TestMergeShapes_ReportsPrefixConflict(t *testing.T) {
	ontology, err := ParseString(`@prefix ex: <http://e/> . ex:Thing a ex:Class .`, "")
	require.NoError(t, err)
	shapes, err := ParseString(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://other/> .
ex:Shape a sh:NodeShape .
`, "")
	require.NoError(t, err)

	merged, err := MergeShapes(ontology, shapes)
	require.ErrorIs(t, err, ErrPrefixConflict)
	require.NotNil(t, merged)
	assert.True(t, merged.Has(IRI("http://other/Shape"), IRI(RDFType), IRI(SH+"NodeShape")))
	ns, _ := merged.Namespace("ex")
	assert.Equal(t, "http://e/", ns)
}
