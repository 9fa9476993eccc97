package graph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TurtleFeatures(t *testing.T) {
	src := `
@prefix ex: <http://example.org/> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>

# a comment
ex:Widget a rdfs:Class ;
    rdfs:label "Widget"@EN , "Gadget" ;
    rdfs:comment """multi
line""" ;
    ex:weight 1.5 ;
    ex:count 3 ;
    ex:ratio 2e10 ;
    ex:active true ;
    ex:code "007"^^xsd:string ;
    ex:parts ( ex:a ex:b ) ;
    ex:owner [ ex:name 'Ann' ] .

<http://example.org/other> ex:ref _:x .
_:x ex:ref _:x .
`
	doc, err := ParseString(src, "")
	require.NoError(t, err)

	w := IRI("http://example.org/Widget")
	ex := func(l string) Term { return IRI("http://example.org/" + l) }

	assert.True(t, doc.Has(w, IRI(RDFType), IRI(RDFSClass)))
	assert.True(t, doc.Has(w, IRI(RDFSLabel), LangLiteral("Widget", "en")))
	assert.True(t, doc.Has(w, IRI(RDFSLabel), Literal("Gadget")))
	assert.True(t, doc.Has(w, IRI(RDFSComment), Literal("multi\nline")))
	assert.True(t, doc.Has(w, ex("weight"), TypedLiteral("1.5", XSDDecimal)))
	assert.True(t, doc.Has(w, ex("count"), IntegerLiteral(3)))
	assert.True(t, doc.Has(w, ex("ratio"), TypedLiteral("2e10", XSDDouble)))
	assert.True(t, doc.Has(w, ex("active"), TypedLiteral("true", XSDBoolean)))
	assert.True(t, doc.Has(w, ex("code"), Literal("007")))

	list, ok := doc.Object(w, ex("parts"))
	require.True(t, ok)
	assert.True(t, list.IsBlank())
	first, _ := doc.Object(list, IRI(RDFFirst))
	assert.Equal(t, ex("a"), first)

	owner, ok := doc.Object(w, ex("owner"))
	require.True(t, ok)
	assert.True(t, doc.Has(owner, ex("name"), Literal("Ann")))

	ref, ok := doc.Object(ex("other"), ex("ref"))
	require.True(t, ok)
	assert.True(t, doc.Has(ref, ex("ref"), ref), "same label resolves to the same node")

	assert.Equal(t, "http://example.org/", doc.Prefixes()["ex"])
}

func TestParse_NTriples(t *testing.T) {
	src := `<http://e/s> <http://e/p> "a \"quoted\" é" .
<http://e/s> <http://e/p> "5"^^<http://www.w3.org/2001/XMLSchema#integer> .
_:b1 <http://e/p> <http://e/o> .
`
	doc, err := ParseString(src, "")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Len())
	assert.True(t, doc.Has(IRI("http://e/s"), IRI("http://e/p"), Literal(`a "quoted" é`)))
	n, ok := TypedLiteral("5", XSDInteger).Int()
	assert.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestParse_RelativeIRIs(t *testing.T) {
	doc, err := ParseString(`<#a> <p> <../b> .`, "http://example.org/dir/doc.ttl")
	require.NoError(t, err)
	assert.True(t, doc.Has(
		IRI("http://example.org/dir/doc.ttl#a"),
		IRI("http://example.org/dir/p"),
		IRI("http://example.org/b"),
	))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"undeclared prefix", "ex:a ex:b ex:c .", "undeclared prefix"},
		{"missing terminator", "<http://a> <http://b> <http://c>", "expected '.'"},
		{"unterminated string", `<http://a> <http://b> "oops .`, "unterminated string"},
		{"unterminated iri", `<http://a`, "unterminated IRI"},
		{"missing object", "<http://a> <http://b> .", "invalid numeric literal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.src, "")
			require.Error(t, err)
			assert.True(t, IsParseError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ConflictingPrefix(t *testing.T) {
	src := "@prefix ex: <http://a/> .\n@prefix ex: <http://b/> .\n"
	_, err := ParseString(src, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
	assert.True(t, errors.Is(err, ErrPrefixConflict))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
}

func TestParse_SamePrefixTwiceIsFine(t *testing.T) {
	src := "@prefix ex: <http://a/> .\n@prefix ex: <http://a/> .\nex:s ex:p ex:o .\n"
	doc, err := ParseString(src, "")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Len())
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ttl")
	require.NoError(t, os.WriteFile(path, []byte("@prefix ex: <http://e/> .\nex:s ex:p\n"), 0o644))

	_, err := ParseFile(path)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, path, pe.File)
	assert.True(t, strings.HasPrefix(pe.Error(), "parse error at "+path))

	_, err = ParseFile(filepath.Join(dir, "missing.ttl"))
	require.Error(t, err)
	assert.False(t, IsParseError(err))
}
