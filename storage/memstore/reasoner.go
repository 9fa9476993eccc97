package memstore

import "github.com/c360studio/semguard/graph"

var (
	rdfType       = graph.IRI(graph.RDFType)
	subClassOf    = graph.IRI(graph.RDFSSubClassOf)
	subPropertyOf = graph.IRI(graph.RDFSSubPropertyOf)
	domain        = graph.IRI(graph.RDFSDomain)
	rangeOf       = graph.IRI(graph.RDFSRange)
)

// entail returns the RDFS closure of explicit (explicit statements included).
func entail(explicit *graph.Document) *graph.Document {
	g := explicit.Clone()
	for {
		var derived []graph.Triple

		for _, sc := range g.Match(graph.Term{}, subClassOf, graph.Term{}) {
			// rdfs11: subClassOf is transitive.
			for _, up := range g.Match(sc.Object, subClassOf, graph.Term{}) {
				derived = append(derived, graph.Triple{Subject: sc.Subject, Predicate: subClassOf, Object: up.Object})
			}
			// rdfs9: instances of a subclass are instances of the superclass.
			for _, inst := range g.Match(graph.Term{}, rdfType, sc.Subject) {
				derived = append(derived, graph.Triple{Subject: inst.Subject, Predicate: rdfType, Object: sc.Object})
			}
		}

		for _, sp := range g.Match(graph.Term{}, subPropertyOf, graph.Term{}) {
			// rdfs5
			for _, up := range g.Match(sp.Object, subPropertyOf, graph.Term{}) {
				derived = append(derived, graph.Triple{Subject: sp.Subject, Predicate: subPropertyOf, Object: up.Object})
			}
			// rdfs7
			for _, use := range g.Match(graph.Term{}, sp.Subject, graph.Term{}) {
				derived = append(derived, graph.Triple{Subject: use.Subject, Predicate: sp.Object, Object: use.Object})
			}
		}

		for _, d := range g.Match(graph.Term{}, domain, graph.Term{}) {
			// rdfs2
			for _, use := range g.Match(graph.Term{}, d.Subject, graph.Term{}) {
				derived = append(derived, graph.Triple{Subject: use.Subject, Predicate: rdfType, Object: d.Object})
			}
		}
		for _, r := range g.Match(graph.Term{}, rangeOf, graph.Term{}) {
			// rdfs3
			for _, use := range g.Match(graph.Term{}, r.Subject, graph.Term{}) {
				if use.Object.IsLiteral() {
					continue
				}
				derived = append(derived, graph.Triple{Subject: use.Object, Predicate: rdfType, Object: r.Object})
			}
		}

		added := 0
		for _, t := range derived {
			if t.Subject.IsLiteral() || !t.Predicate.IsIRI() {
				continue
			}
			if g.AddTriple(t) {
				added++
			}
		}
		if added == 0 {
			return g
		}
	}
}
