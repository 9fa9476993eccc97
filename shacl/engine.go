// Package shacl evaluates a subset of SHACL Core shapes in memory.
//
// Supported targets: sh:targetClass (including subclasses), implicit class
// targets, sh:targetNode, sh:targetSubjectsOf and sh:targetObjectsOf.
// Supported paths: predicate, inverse, sequence, alternative, zeroOrMore,
// oneOrMore and zeroOrOne. Supported constraints are listed in
// constraints.go. Unsupported constraint components are ignored.
package shacl

import (
	"context"
	"log/slog"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/validation"
)

var (
	rdfType       = graph.IRI(graph.RDFType)
	subClassOf    = graph.IRI(graph.RDFSSubClassOf)
	rdfsClass     = graph.IRI(graph.RDFSClass)
	owlClass      = graph.IRI(graph.OWLClass)
	nodeShape     = graph.IRI(graph.SH + "NodeShape")
	propertyShape = graph.IRI(graph.SH + "PropertyShape")
)

func sh(local string) graph.Term { return graph.IRI(graph.SH + local) }

// Engine implements validation.ConstraintChecker.
type Engine struct {
	logger *slog.Logger
}

// New returns an Engine. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// evaluation holds the state of one CheckConstraints call.
type evaluation struct {
	data   *graph.Document
	shapes *graph.Document
	supers map[graph.Term][]graph.Term
	out    []validation.Violation
}

// CheckConstraints evaluates every active node shape in shapes against data.
func (e *Engine) CheckConstraints(ctx context.Context, data, shapes *graph.Document) ([]validation.Violation, error) {
	ev := &evaluation{data: data, shapes: shapes, supers: make(map[graph.Term][]graph.Term)}
	for _, doc := range []*graph.Document{data, shapes} {
		for _, t := range doc.Match(graph.Term{}, subClassOf, graph.Term{}) {
			ev.supers[t.Subject] = append(ev.supers[t.Subject], t.Object)
		}
	}

	for _, s := range ev.nodeShapes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ev.deactivated(s) {
			continue
		}
		focus := ev.focusNodes(s)
		e.logger.Debug("Evaluating shape", "shape", s.String(), "focus_nodes", len(focus))
		for _, f := range focus {
			ev.checkShapeAt(s, f, nil)
		}
	}
	return ev.out, nil
}

// nodeShapes returns every shape that can select focus nodes.
func (ev *evaluation) nodeShapes() []graph.Term {
	seen := make(map[graph.Term]bool)
	var out []graph.Term
	add := func(ts ...graph.Term) {
		for _, t := range ts {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(ev.shapes.Subjects(rdfType, nodeShape)...)
	add(ev.shapes.Subjects(rdfType, propertyShape)...)
	for _, target := range []string{"targetClass", "targetNode", "targetSubjectsOf", "targetObjectsOf"} {
		add(ev.shapes.Subjects(sh(target), graph.Term{})...)
	}
	return out
}

func (ev *evaluation) deactivated(s graph.Term) bool {
	v, ok := ev.shapes.Object(s, sh("deactivated"))
	return ok && v.Value == "true"
}

func (ev *evaluation) focusNodes(s graph.Term) []graph.Term {
	seen := make(map[graph.Term]bool)
	var out []graph.Term
	add := func(ts ...graph.Term) {
		for _, t := range ts {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	classes := ev.shapes.Objects(s, sh("targetClass"))
	if ev.shapes.Has(s, rdfType, rdfsClass) || ev.shapes.Has(s, rdfType, owlClass) {
		classes = append(classes, s)
	}
	for _, c := range classes {
		add(ev.instancesOf(c)...)
	}
	add(ev.shapes.Objects(s, sh("targetNode"))...)
	for _, p := range ev.shapes.Objects(s, sh("targetSubjectsOf")) {
		add(ev.data.Subjects(p, graph.Term{})...)
	}
	for _, p := range ev.shapes.Objects(s, sh("targetObjectsOf")) {
		for _, t := range ev.data.Match(graph.Term{}, p, graph.Term{}) {
			add(t.Object)
		}
	}
	return out
}

// instancesOf returns the nodes typed with c or one of its subclasses.
func (ev *evaluation) instancesOf(c graph.Term) []graph.Term {
	var out []graph.Term
	for _, t := range ev.data.Match(graph.Term{}, rdfType, graph.Term{}) {
		if ev.isSubClass(t.Object, c) {
			out = append(out, t.Subject)
		}
	}
	return out
}

func (ev *evaluation) isSubClass(sub, super graph.Term) bool {
	if sub == super {
		return true
	}
	seen := map[graph.Term]bool{sub: true}
	queue := []graph.Term{sub}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range ev.supers[cur] {
			if s == super {
				return true
			}
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	return false
}

func (ev *evaluation) hasType(node, class graph.Term) bool {
	for _, t := range ev.data.Objects(node, rdfType) {
		if ev.isSubClass(t, class) {
			return true
		}
	}
	return false
}

// checkShapeAt evaluates shape s with focus node f. For property shapes the
// value nodes are the path's values; for node shapes it is f itself.
// parent is the enclosing node shape, used for reporting.
func (ev *evaluation) checkShapeAt(s, f graph.Term, parent *graph.Term) {
	pathTerm, isProperty := ev.shapes.Object(s, sh("path"))
	values := []graph.Term{f}
	pathLabel := ""
	if isProperty {
		values = ev.evalPath(pathTerm, f)
		pathLabel = ev.pathString(pathTerm)
	}

	ctx := constraintContext{
		ev:       ev,
		shape:    s,
		focus:    f,
		path:     pathLabel,
		values:   values,
		severity: ev.severity(s),
		message:  ev.message(s),
	}
	if parent != nil {
		ctx.reportShape = *parent
	} else {
		ctx.reportShape = s
	}
	ctx.run()

	if !isProperty {
		for _, ps := range ev.shapes.Objects(s, sh("property")) {
			if ev.deactivated(ps) {
				continue
			}
			ev.checkShapeAt(ps, f, &s)
		}
	}
}

func (ev *evaluation) severity(s graph.Term) validation.Severity {
	v, ok := ev.shapes.Object(s, sh("severity"))
	if ok && (v == sh("Warning") || v == sh("Info")) {
		return validation.SeverityAdvisory
	}
	return validation.SeverityBlocking
}

func (ev *evaluation) message(s graph.Term) string {
	v, ok := ev.shapes.Object(s, sh("message"))
	if !ok {
		return ""
	}
	return v.Value
}
