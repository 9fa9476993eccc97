package graph

// List returns the members of the RDF collection starting at head. It
// stops at rdf:nil, at a malformed cell, or on a cycle.
func (d *Document) List(head Term) []Term {
	var out []Term
	seen := make(map[Term]bool)
	first, rest, nilT := IRI(RDFFirst), IRI(RDFRest), IRI(RDFNil)
	for cur := head; cur != nilT && !seen[cur]; {
		seen[cur] = true
		item, ok := d.Object(cur, first)
		if !ok {
			break
		}
		out = append(out, item)
		next, ok := d.Object(cur, rest)
		if !ok {
			break
		}
		cur = next
	}
	return out
}
