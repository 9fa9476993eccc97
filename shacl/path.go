package shacl

import (
	"strings"

	"github.com/c360studio/semguard/graph"
)

// evalPath returns the value nodes reached from focus along path.
func (ev *evaluation) evalPath(path, focus graph.Term) []graph.Term {
	return dedupe(ev.step(path, []graph.Term{focus}))
}

func (ev *evaluation) step(path graph.Term, from []graph.Term) []graph.Term {
	if path.IsIRI() {
		var out []graph.Term
		for _, n := range from {
			out = append(out, ev.data.Objects(n, path)...)
		}
		return out
	}

	if inv, ok := ev.shapes.Object(path, sh("inversePath")); ok {
		var out []graph.Term
		for _, n := range from {
			out = append(out, ev.data.Subjects(inv, n)...)
		}
		return out
	}
	if alts, ok := ev.shapes.Object(path, sh("alternativePath")); ok {
		var out []graph.Term
		for _, alt := range ev.shapes.List(alts) {
			out = append(out, ev.step(alt, from)...)
		}
		return out
	}
	if inner, ok := ev.shapes.Object(path, sh("zeroOrMorePath")); ok {
		return ev.closure(inner, from, true)
	}
	if inner, ok := ev.shapes.Object(path, sh("oneOrMorePath")); ok {
		return ev.closure(inner, from, false)
	}
	if inner, ok := ev.shapes.Object(path, sh("zeroOrOnePath")); ok {
		return append(append([]graph.Term{}, from...), ev.step(inner, from)...)
	}

	// Sequence path: an RDF list of paths.
	if seq := ev.shapes.List(path); len(seq) > 0 {
		cur := from
		for _, p := range seq {
			cur = dedupe(ev.step(p, cur))
		}
		return cur
	}
	return nil
}

func (ev *evaluation) closure(inner graph.Term, from []graph.Term, includeSelf bool) []graph.Term {
	seen := make(map[graph.Term]bool)
	var out []graph.Term
	if includeSelf {
		for _, n := range from {
			seen[n] = true
			out = append(out, n)
		}
	}
	frontier := from
	for len(frontier) > 0 {
		var next []graph.Term
		for _, n := range ev.step(inner, frontier) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out
}

// pathString renders a path in a SPARQL-like property path syntax.
func (ev *evaluation) pathString(path graph.Term) string {
	if path.IsIRI() {
		return path.Value
	}
	if inv, ok := ev.shapes.Object(path, sh("inversePath")); ok {
		return "^" + ev.pathString(inv)
	}
	if alts, ok := ev.shapes.Object(path, sh("alternativePath")); ok {
		var parts []string
		for _, a := range ev.shapes.List(alts) {
			parts = append(parts, ev.pathString(a))
		}
		return "(" + strings.Join(parts, "|") + ")"
	}
	for suffix, pred := range map[string]string{"*": "zeroOrMorePath", "+": "oneOrMorePath", "?": "zeroOrOnePath"} {
		if inner, ok := ev.shapes.Object(path, sh(pred)); ok {
			return ev.pathString(inner) + suffix
		}
	}
	if seq := ev.shapes.List(path); len(seq) > 0 {
		parts := make([]string, len(seq))
		for i, p := range seq {
			parts[i] = ev.pathString(p)
		}
		return strings.Join(parts, "/")
	}
	return path.String()
}

func dedupe(ts []graph.Term) []graph.Term {
	seen := make(map[graph.Term]bool, len(ts))
	out := ts[:0:0]
	for _, t := range ts {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
