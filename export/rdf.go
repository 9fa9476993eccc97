// Package export serializes graph documents to Turtle and N-Triples.
package export

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/c360studio/semguard/graph"
)

// defaultPrefixes returns the standard namespace prefixes used to compact
// IRIs when a document does not bind them itself.
func defaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":  graph.RDF,
		"rdfs": graph.RDFS,
		"owl":  graph.OWL,
		"xsd":  graph.XSD,
		"sh":   graph.SH,
	}
}

// Serialize renders doc in the given format.
func Serialize(doc *graph.Document, format Format) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, doc, format); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Write renders doc to w.
func Write(w io.Writer, doc *graph.Document, format Format) error {
	var out string
	switch format {
	case FormatTurtle:
		tw := NewTurtleWriter()
		for p, ns := range doc.Prefixes() {
			tw.SetPrefix(p, ns)
		}
		tw.WriteDocument(doc)
		out = tw.String()
	case FormatNTriples:
		nw := NewNTriplesWriter()
		nw.WriteDocument(doc)
		out = nw.String()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	_, err := io.WriteString(w, out)
	return err
}

// WriteFile renders doc to path using the format implied by its extension.
func WriteFile(path string, doc *graph.Document) error {
	data, err := Serialize(doc, FormatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// TurtleWriter writes RDF in Turtle format.
type TurtleWriter struct {
	prefixes map[string]string
	explicit map[string]bool
	used     map[string]bool
	body     strings.Builder
}

// NewTurtleWriter creates a new Turtle writer with default prefixes.
func NewTurtleWriter() *TurtleWriter {
	return &TurtleWriter{
		prefixes: defaultPrefixes(),
		explicit: make(map[string]bool),
		used:     make(map[string]bool),
	}
}

// SetPrefix sets a namespace prefix, replacing any default with the same name.
func (w *TurtleWriter) SetPrefix(prefix, iri string) {
	w.prefixes[prefix] = iri
	w.explicit[prefix] = true
}

// WriteDocument writes every statement of doc grouped by subject. Subjects
// and predicates are sorted so equal documents produce equal output.
func (w *TurtleWriter) WriteDocument(doc *graph.Document) {
	bySubject := make(map[graph.Term][]graph.Triple)
	var subjects []graph.Term
	for _, t := range doc.Triples() {
		if _, ok := bySubject[t.Subject]; !ok {
			subjects = append(subjects, t.Subject)
		}
		bySubject[t.Subject] = append(bySubject[t.Subject], t)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].String() < subjects[j].String() })

	for _, s := range subjects {
		w.writeSubject(s, bySubject[s])
	}
}

func (w *TurtleWriter) writeSubject(s graph.Term, triples []graph.Triple) {
	byPredicate := make(map[graph.Term][]graph.Term)
	var preds []graph.Term
	for _, t := range triples {
		if _, ok := byPredicate[t.Predicate]; !ok {
			preds = append(preds, t.Predicate)
		}
		byPredicate[t.Predicate] = append(byPredicate[t.Predicate], t.Object)
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Value == graph.RDFType {
			return preds[j].Value != graph.RDFType
		}
		if preds[j].Value == graph.RDFType {
			return false
		}
		return preds[i].Value < preds[j].Value
	})

	w.body.WriteString(w.term(s))
	w.body.WriteString("\n")
	for i, p := range preds {
		objs := byPredicate[p]
		rendered := make([]string, len(objs))
		for j, o := range objs {
			rendered[j] = w.term(o)
		}
		sort.Strings(rendered)

		verb := w.term(p)
		if p.Value == graph.RDFType {
			verb = "a"
		}
		terminator := " ;"
		if i == len(preds)-1 {
			terminator = " ."
		}
		fmt.Fprintf(&w.body, "    %s %s%s\n", verb, strings.Join(rendered, " , "), terminator)
	}
	w.body.WriteString("\n")
}

var (
	localNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
	integerPattern   = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalPattern   = regexp.MustCompile(`^[+-]?[0-9]*\.[0-9]+$`)
)

func (w *TurtleWriter) term(t graph.Term) string {
	switch t.Kind {
	case graph.KindIRI:
		return w.compact(t.Value)
	case graph.KindLiteral:
		return w.literal(t)
	default:
		return t.String()
	}
}

// compact shortens iri to a prefixed name when a bound namespace covers it.
// The longest matching namespace wins.
func (w *TurtleWriter) compact(iri string) string {
	best, bestNS := "", ""
	for p, ns := range w.prefixes {
		if !strings.HasPrefix(iri, ns) || len(ns) <= len(bestNS) {
			continue
		}
		local := iri[len(ns):]
		if local != "" && !localNamePattern.MatchString(local) {
			continue
		}
		best, bestNS = p, ns
	}
	if bestNS == "" {
		return "<" + iri + ">"
	}
	w.used[best] = true
	return best + ":" + iri[len(bestNS):]
}

func (w *TurtleWriter) literal(t graph.Term) string {
	switch {
	case t.Lang != "":
		return `"` + graph.EscapeString(t.Value) + `"@` + t.Lang
	case t.Datatype == graph.XSDInteger && integerPattern.MatchString(t.Value):
		return t.Value
	case t.Datatype == graph.XSDDecimal && decimalPattern.MatchString(t.Value):
		return t.Value
	case t.Datatype == graph.XSDBoolean && (t.Value == "true" || t.Value == "false"):
		return t.Value
	case t.Datatype == "" || t.Datatype == graph.XSDString:
		return `"` + graph.EscapeString(t.Value) + `"`
	}
	return `"` + graph.EscapeString(t.Value) + `"^^` + w.compact(t.Datatype)
}

// String returns the accumulated Turtle output, preceded by the declarations
// of every prefix that is either used or was set explicitly.
func (w *TurtleWriter) String() string {
	defaults := defaultPrefixes()
	keys := make([]string, 0, len(w.prefixes))
	for p, ns := range w.prefixes {
		if d, isDefault := defaults[p]; isDefault && d == ns && !w.used[p] && !w.explicit[p] {
			continue
		}
		keys = append(keys, p)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, p := range keys {
		fmt.Fprintf(&sb, "@prefix %s: <%s> .\n", p, w.prefixes[p])
	}
	if len(keys) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(w.body.String())
	return sb.String()
}

// NTriplesWriter writes RDF in N-Triples format.
type NTriplesWriter struct {
	lines []string
}

// NewNTriplesWriter creates a new N-Triples writer.
func NewNTriplesWriter() *NTriplesWriter {
	return &NTriplesWriter{}
}

// WriteTriple writes a single triple.
func (w *NTriplesWriter) WriteTriple(t graph.Triple) {
	w.lines = append(w.lines, t.String())
}

// WriteDocument writes every statement of doc.
func (w *NTriplesWriter) WriteDocument(doc *graph.Document) {
	for _, t := range doc.Triples() {
		w.WriteTriple(t)
	}
}

// String returns the accumulated N-Triples output in sorted line order.
func (w *NTriplesWriter) String() string {
	lines := make([]string, len(w.lines))
	copy(lines, w.lines)
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
