package graph

// Shape classes recognised by MergeShapes.
var (
	shNodeShape     = IRI(SH + "NodeShape")
	shPropertyShape = IRI(SH + "PropertyShape")
)

// MergeShapes returns a copy of ontology in which every existing shape
// (subjects typed sh:NodeShape or sh:PropertyShape, together with the blank
// nodes they own) is replaced by the statements of shapes. The merged
// document is always returned; a shapes prefix that the ontology binds to a
// different namespace keeps the ontology's binding and is reported with
// ErrPrefixConflict.
func MergeShapes(ontology, shapes *Document) (*Document, error) {
	out := ontology.Clone()
	if shapes == nil {
		return out, nil
	}
	rdfType := IRI(RDFType)
	var roots []Term
	roots = append(roots, out.Subjects(rdfType, shNodeShape)...)
	roots = append(roots, out.Subjects(rdfType, shPropertyShape)...)
	for _, s := range roots {
		removeClosure(out, s, make(map[Term]bool))
	}
	_, err := out.Merge(shapes)
	return out, err
}

// removeClosure deletes the statements of s and, recursively, of every blank
// node s points to that is not referenced from elsewhere.
func removeClosure(d *Document, s Term, seen map[Term]bool) {
	if seen[s] {
		return
	}
	seen[s] = true
	var owned []Term
	for _, t := range d.Match(s, Term{}, Term{}) {
		if t.Object.IsBlank() {
			owned = append(owned, t.Object)
		}
	}
	d.RemoveSubject(s)
	for _, b := range owned {
		if len(d.Match(Term{}, Term{}, b)) == 0 {
			removeClosure(d, b, seen)
		}
	}
}
