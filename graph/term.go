// Package graph provides the in-memory statement model used across semguard.
//
// A Document owns an arena of terms. Statements reference terms by TermID,
// so blank nodes are scoped to the document that created them and can never
// alias a node of another document without an explicit remapping step
// (see Document.Merge).
package graph

import (
	"strconv"
	"strings"
)

// Well-known namespaces.
const (
	RDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFS = "http://www.w3.org/2000/01/rdf-schema#"
	OWL  = "http://www.w3.org/2002/07/owl#"
	XSD  = "http://www.w3.org/2001/XMLSchema#"
	SH   = "http://www.w3.org/ns/shacl#"
)

// Frequently used IRIs.
const (
	RDFType       = RDF + "type"
	RDFFirst      = RDF + "first"
	RDFRest       = RDF + "rest"
	RDFNil        = RDF + "nil"
	RDFLangString = RDF + "langString"

	RDFSLabel         = RDFS + "label"
	RDFSComment       = RDFS + "comment"
	RDFSSubClassOf    = RDFS + "subClassOf"
	RDFSSubPropertyOf = RDFS + "subPropertyOf"
	RDFSDomain        = RDFS + "domain"
	RDFSRange         = RDFS + "range"
	RDFSClass         = RDFS + "Class"

	OWLClass       = OWL + "Class"
	OWLVersionInfo = OWL + "versionInfo"

	XSDString  = XSD + "string"
	XSDBoolean = XSD + "boolean"
	XSDInteger = XSD + "integer"
	XSDDecimal = XSD + "decimal"
	XSDDouble  = XSD + "double"
)

// TermKind discriminates the three RDF term kinds.
type TermKind uint8

const (
	KindIRI TermKind = iota + 1
	KindBlank
	KindLiteral
)

func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "invalid"
	}
}

// Term is an RDF term. For blank nodes Value is the document-local label.
// The zero Term is used as a wildcard by Document.Match.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

// IRI returns an IRI term.
func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

// Blank returns a blank node term with the given document-local label.
func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal returns a plain xsd:string literal.
func Literal(v string) Term { return Term{Kind: KindLiteral, Value: v, Datatype: XSDString} }

// TypedLiteral returns a literal with an explicit datatype IRI.
func TypedLiteral(v, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// LangLiteral returns a language-tagged string.
func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Datatype: RDFLangString, Lang: strings.ToLower(lang)}
}

// IntegerLiteral returns an xsd:integer literal.
func IntegerLiteral(n int) Term { return TypedLiteral(strconv.Itoa(n), XSDInteger) }

// IsZero reports whether t is the wildcard term.
func (t Term) IsZero() bool { return t.Kind == 0 }

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// Int parses an integer-valued literal. Only xsd:integer and its common
// derived types are accepted.
func (t Term) Int() (int, bool) {
	if t.Kind != KindLiteral {
		return 0, false
	}
	switch t.Datatype {
	case XSDInteger, XSD + "int", XSD + "long", XSD + "short",
		XSD + "nonNegativeInteger", XSD + "positiveInteger":
	default:
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(t.Value))
	if err != nil {
		return 0, false
	}
	return n, true
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + EscapeString(t.Value) + `"`
		switch {
		case t.Lang != "":
			return s + "@" + t.Lang
		case t.Datatype != "" && t.Datatype != XSDString:
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return "?"
	}
}

// LocalName returns the fragment or last path segment of an IRI.
func LocalName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

// EscapeString escapes a literal's lexical form for N-Triples and Turtle.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}

// Triple is a statement resolved to its terms.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func (t Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}
