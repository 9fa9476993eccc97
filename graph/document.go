package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrPrefixConflict is returned when a prefix is rebound to a different namespace.
var ErrPrefixConflict = errors.New("conflicting prefix binding")

// TermID indexes a term in a Document's arena.
type TermID int32

// Statement is a triple of arena indices.
type Statement struct {
	Subject   TermID
	Predicate TermID
	Object    TermID
}

// Document is a set of statements plus prefix bindings.
// It is not safe for concurrent mutation.
type Document struct {
	terms    []Term
	index    map[Term]TermID
	stmts    []Statement
	pos      map[Statement]int
	subjects map[TermID]map[Statement]struct{}
	prefixes map[string]string
	blankSeq int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		index:    make(map[Term]TermID),
		pos:      make(map[Statement]int),
		subjects: make(map[TermID]map[Statement]struct{}),
		prefixes: make(map[string]string),
	}
}

// Bind declares prefix → namespace. Rebinding a prefix to the same namespace
// is a no-op; rebinding it to a different one fails with ErrPrefixConflict.
func (d *Document) Bind(prefix, namespace string) error {
	if existing, ok := d.prefixes[prefix]; ok && existing != namespace {
		return fmt.Errorf("%w: %q bound to <%s>, not <%s>", ErrPrefixConflict, prefix, existing, namespace)
	}
	d.prefixes[prefix] = namespace
	return nil
}

// Namespace returns the namespace bound to prefix.
func (d *Document) Namespace(prefix string) (string, bool) {
	ns, ok := d.prefixes[prefix]
	return ns, ok
}

// Prefixes returns a copy of the prefix bindings.
func (d *Document) Prefixes() map[string]string {
	out := make(map[string]string, len(d.prefixes))
	for k, v := range d.prefixes {
		out[k] = v
	}
	return out
}

// Intern returns the arena index of t, adding it if necessary.
func (d *Document) Intern(t Term) TermID {
	if id, ok := d.index[t]; ok {
		return id
	}
	id := TermID(len(d.terms))
	d.terms = append(d.terms, t)
	d.index[t] = id
	return id
}

// Lookup returns the arena index of t without adding it.
func (d *Document) Lookup(t Term) (TermID, bool) {
	id, ok := d.index[t]
	return id, ok
}

// Term resolves an arena index.
func (d *Document) Term(id TermID) Term {
	if id < 0 || int(id) >= len(d.terms) {
		return Term{}
	}
	return d.terms[id]
}

// Resolve converts a statement to its terms.
func (d *Document) Resolve(st Statement) Triple {
	return Triple{Subject: d.Term(st.Subject), Predicate: d.Term(st.Predicate), Object: d.Term(st.Object)}
}

// Add inserts a statement and reports whether it was new.
func (d *Document) Add(s, p, o Term) bool {
	st := Statement{Subject: d.Intern(s), Predicate: d.Intern(p), Object: d.Intern(o)}
	return d.addStatement(st)
}

// AddTriple inserts t.
func (d *Document) AddTriple(t Triple) bool {
	return d.Add(t.Subject, t.Predicate, t.Object)
}

func (d *Document) addStatement(st Statement) bool {
	if _, ok := d.pos[st]; ok {
		return false
	}
	d.pos[st] = len(d.stmts)
	d.stmts = append(d.stmts, st)
	set := d.subjects[st.Subject]
	if set == nil {
		set = make(map[Statement]struct{})
		d.subjects[st.Subject] = set
	}
	set[st] = struct{}{}
	return true
}

// Remove deletes a statement and reports whether it was present.
func (d *Document) Remove(s, p, o Term) bool {
	st, ok := d.statementOf(s, p, o)
	if !ok {
		return false
	}
	return d.removeStatement(st)
}

func (d *Document) removeStatement(st Statement) bool {
	i, ok := d.pos[st]
	if !ok {
		return false
	}
	last := len(d.stmts) - 1
	if i != last {
		moved := d.stmts[last]
		d.stmts[i] = moved
		d.pos[moved] = i
	}
	d.stmts = d.stmts[:last]
	delete(d.pos, st)
	if set := d.subjects[st.Subject]; set != nil {
		delete(set, st)
		if len(set) == 0 {
			delete(d.subjects, st.Subject)
		}
	}
	return true
}

func (d *Document) statementOf(s, p, o Term) (Statement, bool) {
	si, ok1 := d.index[s]
	pi, ok2 := d.index[p]
	oi, ok3 := d.index[o]
	if !ok1 || !ok2 || !ok3 {
		return Statement{}, false
	}
	st := Statement{Subject: si, Predicate: pi, Object: oi}
	_, ok := d.pos[st]
	return st, ok
}

// Has reports whether the statement is present.
func (d *Document) Has(s, p, o Term) bool {
	_, ok := d.statementOf(s, p, o)
	return ok
}

// Len returns the number of statements.
func (d *Document) Len() int { return len(d.stmts) }

// Statements returns the statements in a stable order.
func (d *Document) Statements() []Statement {
	out := make([]Statement, len(d.stmts))
	copy(out, d.stmts)
	sortStatements(out)
	return out
}

// Triples returns every statement resolved to terms, in a stable order.
func (d *Document) Triples() []Triple {
	stmts := d.Statements()
	out := make([]Triple, len(stmts))
	for i, st := range stmts {
		out[i] = d.Resolve(st)
	}
	return out
}

// Match returns the statements matching the pattern. A zero Term matches anything.
func (d *Document) Match(s, p, o Term) []Triple {
	var candidates []Statement
	if !s.IsZero() {
		si, ok := d.index[s]
		if !ok {
			return nil
		}
		for st := range d.subjects[si] {
			candidates = append(candidates, st)
		}
	} else {
		candidates = d.stmts
	}

	var pi, oi TermID = -1, -1
	if !p.IsZero() {
		id, ok := d.index[p]
		if !ok {
			return nil
		}
		pi = id
	}
	if !o.IsZero() {
		id, ok := d.index[o]
		if !ok {
			return nil
		}
		oi = id
	}

	var matched []Statement
	for _, st := range candidates {
		if pi >= 0 && st.Predicate != pi {
			continue
		}
		if oi >= 0 && st.Object != oi {
			continue
		}
		matched = append(matched, st)
	}
	sortStatements(matched)
	out := make([]Triple, len(matched))
	for i, st := range matched {
		out[i] = d.Resolve(st)
	}
	return out
}

// Objects lists the objects of (s, p, *).
func (d *Document) Objects(s, p Term) []Term {
	ts := d.Match(s, p, Term{})
	out := make([]Term, len(ts))
	for i, t := range ts {
		out[i] = t.Object
	}
	return out
}

// Object returns the first object of (s, p, *).
func (d *Document) Object(s, p Term) (Term, bool) {
	objs := d.Objects(s, p)
	if len(objs) == 0 {
		return Term{}, false
	}
	return objs[0], true
}

// Subjects lists the distinct subjects of (*, p, o).
func (d *Document) Subjects(p, o Term) []Term {
	seen := make(map[Term]struct{})
	var out []Term
	for _, t := range d.Match(Term{}, p, o) {
		if _, ok := seen[t.Subject]; ok {
			continue
		}
		seen[t.Subject] = struct{}{}
		out = append(out, t.Subject)
	}
	return out
}

// AllSubjects lists every distinct subject in arena order.
func (d *Document) AllSubjects() []Term {
	ids := make([]TermID, 0, len(d.subjects))
	for id := range d.subjects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Term, len(ids))
	for i, id := range ids {
		out[i] = d.terms[id]
	}
	return out
}

// RemoveSubject deletes every statement with subject s and returns how many
// were removed.
func (d *Document) RemoveSubject(s Term) int {
	si, ok := d.index[s]
	if !ok {
		return 0
	}
	var victims []Statement
	for st := range d.subjects[si] {
		victims = append(victims, st)
	}
	for _, st := range victims {
		d.removeStatement(st)
	}
	return len(victims)
}

// NewBlank allocates a blank node that is unused in this document.
func (d *Document) NewBlank() Term {
	for {
		d.blankSeq++
		t := Blank("b" + strconv.Itoa(d.blankSeq))
		if _, taken := d.index[t]; !taken {
			d.Intern(t)
			return t
		}
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := &Document{
		terms:    make([]Term, len(d.terms)),
		index:    make(map[Term]TermID, len(d.index)),
		stmts:    make([]Statement, len(d.stmts)),
		pos:      make(map[Statement]int, len(d.pos)),
		subjects: make(map[TermID]map[Statement]struct{}, len(d.subjects)),
		prefixes: d.Prefixes(),
		blankSeq: d.blankSeq,
	}
	copy(c.terms, d.terms)
	copy(c.stmts, d.stmts)
	for k, v := range d.index {
		c.index[k] = v
	}
	for k, v := range d.pos {
		c.pos[k] = v
	}
	for sid, set := range d.subjects {
		cs := make(map[Statement]struct{}, len(set))
		for st := range set {
			cs[st] = struct{}{}
		}
		c.subjects[sid] = cs
	}
	return c
}

// Merge copies every statement of other into d. Blank nodes of other are
// mapped to fresh blank nodes of d, so the two documents never share a blank
// identity. Prefixes of other are adopted unless d already binds them;
// a prefix that d binds to a different namespace keeps d's binding and is
// reported with ErrPrefixConflict. Statements are merged either way.
// It returns the number of statements added.
func (d *Document) Merge(other *Document) (int, error) {
	names := make([]string, 0, len(other.prefixes))
	for p := range other.prefixes {
		names = append(names, p)
	}
	sort.Strings(names)
	var conflicts []error
	for _, p := range names {
		if err := d.Bind(p, other.prefixes[p]); err != nil {
			conflicts = append(conflicts, err)
		}
	}
	blanks := make(map[TermID]Term)
	remap := func(id TermID) Term {
		t := other.terms[id]
		if !t.IsBlank() {
			return t
		}
		if b, ok := blanks[id]; ok {
			return b
		}
		b := d.NewBlank()
		blanks[id] = b
		return b
	}
	added := 0
	for _, st := range other.Statements() {
		if d.Add(remap(st.Subject), remap(st.Predicate), remap(st.Object)) {
			added++
		}
	}
	return added, errors.Join(conflicts...)
}

// Digest returns a hex SHA-256 of the document's sorted N-Triples lines.
// Blank labels are included as-is, so digests are only comparable between
// documents that share blank identities (e.g. the same store export).
func (d *Document) Digest() string {
	lines := make([]string, 0, len(d.stmts))
	for _, st := range d.stmts {
		lines = append(lines, d.Resolve(st).String())
	}
	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])
}

func sortStatements(stmts []Statement) {
	sort.Slice(stmts, func(i, j int) bool {
		a, b := stmts[i], stmts[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Predicate != b.Predicate {
			return a.Predicate < b.Predicate
		}
		return a.Object < b.Object
	})
}
