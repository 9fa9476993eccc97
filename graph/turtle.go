package graph

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a Turtle or N-Triples document. base resolves relative IRIs;
// it may be empty.
func Parse(r io.Reader, base string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ParseString(string(data), base)
}

// ParseString parses Turtle source held in memory.
func ParseString(src, base string) (*Document, error) {
	p := &parser{
		src:    []rune(src),
		doc:    NewDocument(),
		blanks: make(map[string]Term),
	}
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, &ParseError{Line: 1, Column: 1, Msg: "invalid base IRI " + base, Err: err}
		}
		p.base = u
	}
	if err := p.parseDocument(); err != nil {
		return nil, err
	}
	return p.doc, nil
}

// ParseFile parses the file at path. The file's absolute location is used
// as the base IRI.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc, err := Parse(f, "file://"+filepath.ToSlash(abs))
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return nil, err
	}
	return doc, nil
}

type parser struct {
	src    []rune
	pos    int
	doc    *Document
	base   *url.URL
	blanks map[string]Term
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	line, col := 1, 1
	for i := 0; i < p.pos && i < len(p.src); i++ {
		if p.src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &ParseError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(off int) rune {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *parser) hasPrefix(s string) bool {
	rs := []rune(s)
	if p.pos+len(rs) > len(p.src) {
		return false
	}
	for i, r := range rs {
		if p.src[p.pos+i] != r {
			return false
		}
	}
	return true
}

// hasKeyword matches a case-insensitive keyword followed by whitespace.
func (p *parser) hasKeyword(kw string) bool {
	if p.pos+len(kw) > len(p.src) {
		return false
	}
	if !strings.EqualFold(string(p.src[p.pos:p.pos+len(kw)]), kw) {
		return false
	}
	next := p.peekAt(len(kw))
	return next == 0 || unicode.IsSpace(next) || next == '<'
}

func (p *parser) skipWS() {
	for !p.eof() {
		r := p.peek()
		switch {
		case unicode.IsSpace(r):
			p.pos++
		case r == '#':
			for !p.eof() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) expect(r rune) error {
	p.skipWS()
	if p.peek() != r {
		if p.eof() {
			return p.errorf("expected %q, found end of input", r)
		}
		return p.errorf("expected %q, found %q", r, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) parseDocument() error {
	for {
		p.skipWS()
		if p.eof() {
			return nil
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
}

func (p *parser) parseStatement() error {
	switch {
	case p.hasPrefix("@prefix"):
		p.pos += len("@prefix")
		if err := p.parsePrefixDecl(); err != nil {
			return err
		}
		return p.expect('.')
	case p.hasPrefix("@base"):
		p.pos += len("@base")
		if err := p.parseBaseDecl(); err != nil {
			return err
		}
		return p.expect('.')
	case p.hasKeyword("PREFIX"):
		p.pos += len("PREFIX")
		return p.parsePrefixDecl()
	case p.hasKeyword("BASE"):
		p.pos += len("BASE")
		return p.parseBaseDecl()
	}
	if err := p.parseTriples(); err != nil {
		return err
	}
	return p.expect('.')
}

func (p *parser) parsePrefixDecl() error {
	p.skipWS()
	start := p.pos
	for !p.eof() && p.peek() != ':' {
		if !isPNChar(p.peek()) && p.peek() != '.' {
			return p.errorf("invalid prefix name")
		}
		p.pos++
	}
	if p.eof() {
		return p.errorf("expected ':' in prefix declaration")
	}
	prefix := string(p.src[start:p.pos])
	p.pos++ // ':'
	p.skipWS()
	ns, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	if err := p.doc.Bind(prefix, ns); err != nil {
		pe := p.errorf("%v", err)
		pe.Err = err
		return pe
	}
	return nil
}

func (p *parser) parseBaseDecl() error {
	p.skipWS()
	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	u, err := url.Parse(iri)
	if err != nil {
		return p.errorf("invalid base IRI %s", iri)
	}
	p.base = u
	return nil
}

func (p *parser) parseTriples() error {
	p.skipWS()
	if p.peek() == '[' && !p.isEmptyBrackets() {
		subj, err := p.parseBlankPropertyList()
		if err != nil {
			return err
		}
		p.skipWS()
		if p.peek() == '.' {
			return nil
		}
		return p.parsePredicateObjectList(subj)
	}
	subj, err := p.parseSubject()
	if err != nil {
		return err
	}
	return p.parsePredicateObjectList(subj)
}

func (p *parser) isEmptyBrackets() bool {
	i := p.pos + 1
	for i < len(p.src) && unicode.IsSpace(p.src[i]) {
		i++
	}
	return i < len(p.src) && p.src[i] == ']'
}

func (p *parser) parseSubject() (Term, error) {
	p.skipWS()
	switch r := p.peek(); {
	case r == '<':
		iri, err := p.parseIRIRef()
		return IRI(iri), err
	case r == '_' && p.peekAt(1) == ':':
		return p.parseBlankLabel()
	case r == '[':
		p.pos++
		if err := p.expect(']'); err != nil {
			return Term{}, err
		}
		return p.doc.NewBlank(), nil
	case r == '(':
		return p.parseCollection()
	case r == 0:
		return Term{}, p.errorf("unexpected end of input")
	default:
		return p.parsePrefixedName()
	}
}

func (p *parser) parsePredicateObjectList(subj Term) error {
	for {
		p.skipWS()
		pred, err := p.parseVerb()
		if err != nil {
			return err
		}
		if err := p.parseObjectList(subj, pred); err != nil {
			return err
		}
		p.skipWS()
		if p.peek() != ';' {
			return nil
		}
		for p.peek() == ';' {
			p.pos++
			p.skipWS()
		}
		// A trailing ';' may close the list.
		if r := p.peek(); r == '.' || r == ']' {
			return nil
		}
	}
}

func (p *parser) parseVerb() (Term, error) {
	p.skipWS()
	if p.peek() == 'a' {
		next := p.peekAt(1)
		if next == 0 || unicode.IsSpace(next) || next == '<' || next == '"' || next == '[' || next == '(' {
			p.pos++
			return IRI(RDFType), nil
		}
	}
	if p.peek() == '<' {
		iri, err := p.parseIRIRef()
		return IRI(iri), err
	}
	t, err := p.parsePrefixedName()
	if err != nil {
		return Term{}, err
	}
	return t, nil
}

func (p *parser) parseObjectList(subj, pred Term) error {
	for {
		obj, err := p.parseObject()
		if err != nil {
			return err
		}
		p.doc.Add(subj, pred, obj)
		p.skipWS()
		if p.peek() != ',' {
			return nil
		}
		p.pos++
	}
}

func (p *parser) parseObject() (Term, error) {
	p.skipWS()
	r := p.peek()
	switch {
	case r == '<':
		iri, err := p.parseIRIRef()
		return IRI(iri), err
	case r == '_' && p.peekAt(1) == ':':
		return p.parseBlankLabel()
	case r == '[':
		if p.isEmptyBrackets() {
			p.pos++
			if err := p.expect(']'); err != nil {
				return Term{}, err
			}
			return p.doc.NewBlank(), nil
		}
		return p.parseBlankPropertyList()
	case r == '(':
		return p.parseCollection()
	case r == '"' || r == '\'':
		return p.parseRDFLiteral()
	case r == '+' || r == '-' || r == '.' || (r >= '0' && r <= '9'):
		return p.parseNumber()
	case r == 0:
		return Term{}, p.errorf("unexpected end of input")
	}
	if p.hasWord("true") {
		p.pos += 4
		return TypedLiteral("true", XSDBoolean), nil
	}
	if p.hasWord("false") {
		p.pos += 5
		return TypedLiteral("false", XSDBoolean), nil
	}
	return p.parsePrefixedName()
}

func (p *parser) hasWord(w string) bool {
	if !p.hasPrefix(w) {
		return false
	}
	next := p.peekAt(len(w))
	return next == 0 || !(isPNChar(next) || next == ':')
}

func (p *parser) parseBlankPropertyList() (Term, error) {
	p.pos++ // '['
	node := p.doc.NewBlank()
	if err := p.parsePredicateObjectList(node); err != nil {
		return Term{}, err
	}
	if err := p.expect(']'); err != nil {
		return Term{}, err
	}
	return node, nil
}

func (p *parser) parseCollection() (Term, error) {
	p.pos++ // '('
	var items []Term
	for {
		p.skipWS()
		if p.peek() == ')' {
			p.pos++
			break
		}
		if p.eof() {
			return Term{}, p.errorf("unterminated collection")
		}
		item, err := p.parseObject()
		if err != nil {
			return Term{}, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return IRI(RDFNil), nil
	}
	head := p.doc.NewBlank()
	cur := head
	for i, item := range items {
		p.doc.Add(cur, IRI(RDFFirst), item)
		if i == len(items)-1 {
			p.doc.Add(cur, IRI(RDFRest), IRI(RDFNil))
			break
		}
		next := p.doc.NewBlank()
		p.doc.Add(cur, IRI(RDFRest), next)
		cur = next
	}
	return head, nil
}

func (p *parser) parseBlankLabel() (Term, error) {
	p.pos += 2 // "_:"
	start := p.pos
	for !p.eof() && (isPNChar(p.peek()) || p.peek() == '.') {
		p.pos++
	}
	for p.pos > start && p.src[p.pos-1] == '.' {
		p.pos--
	}
	if p.pos == start {
		return Term{}, p.errorf("empty blank node label")
	}
	label := string(p.src[start:p.pos])
	if t, ok := p.blanks[label]; ok {
		return t, nil
	}
	t := p.doc.NewBlank()
	p.blanks[label] = t
	return t, nil
}

func (p *parser) parseIRIRef() (string, error) {
	if p.peek() != '<' {
		return "", p.errorf("expected IRI")
	}
	p.pos++
	var sb strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated IRI")
		}
		r := p.peek()
		if r == '>' {
			p.pos++
			break
		}
		if r == '\\' {
			dec, err := p.parseEscape(false)
			if err != nil {
				return "", err
			}
			sb.WriteRune(dec)
			continue
		}
		if r == ' ' || r == '\n' || r == '<' || r == '"' || r == '{' || r == '}' || r == '|' || r == '^' || r == '`' {
			return "", p.errorf("invalid character %q in IRI", r)
		}
		sb.WriteRune(r)
		p.pos++
	}
	return p.resolve(sb.String()), nil
}

func (p *parser) resolve(iri string) string {
	if p.base == nil {
		return iri
	}
	ref, err := url.Parse(iri)
	if err != nil || ref.IsAbs() {
		return iri
	}
	if iri == "" {
		return p.base.String()
	}
	if strings.HasPrefix(iri, "#") {
		b := *p.base
		b.Fragment = ""
		return b.String() + iri
	}
	return p.base.ResolveReference(ref).String()
}

func (p *parser) parsePrefixedName() (Term, error) {
	start := p.pos
	for !p.eof() && p.peek() != ':' {
		if !isPNChar(p.peek()) && p.peek() != '.' {
			break
		}
		p.pos++
	}
	if p.peek() != ':' {
		p.pos = start
		if p.eof() {
			return Term{}, p.errorf("unexpected end of input")
		}
		return Term{}, p.errorf("unexpected %q", p.peek())
	}
	prefix := string(p.src[start:p.pos])
	ns, ok := p.doc.Namespace(prefix)
	if !ok {
		return Term{}, p.errorf("undeclared prefix %q", prefix)
	}
	p.pos++ // ':'

	var local strings.Builder
	for !p.eof() {
		r := p.peek()
		switch {
		case isPNChar(r) || r == ':':
			local.WriteRune(r)
			p.pos++
		case r == '.':
			next := p.peekAt(1)
			if !(isPNChar(next) || next == ':' || next == '%' || next == '\\') {
				return IRI(ns + local.String()), nil
			}
			local.WriteRune(r)
			p.pos++
		case r == '%':
			if !isHex(p.peekAt(1)) || !isHex(p.peekAt(2)) {
				return Term{}, p.errorf("invalid percent escape in local name")
			}
			local.WriteString(string(p.src[p.pos : p.pos+3]))
			p.pos += 3
		case r == '\\':
			next := p.peekAt(1)
			if !strings.ContainsRune(`_~.-!$&'()*+,;=/?#@%`, next) {
				return Term{}, p.errorf("invalid escape in local name")
			}
			local.WriteRune(next)
			p.pos += 2
		default:
			return IRI(ns + local.String()), nil
		}
	}
	return IRI(ns + local.String()), nil
}

func (p *parser) parseRDFLiteral() (Term, error) {
	lex, err := p.parseString()
	if err != nil {
		return Term{}, err
	}
	switch {
	case p.peek() == '@':
		p.pos++
		start := p.pos
		for !p.eof() && (isAlnum(p.peek()) || p.peek() == '-') {
			p.pos++
		}
		if p.pos == start {
			return Term{}, p.errorf("empty language tag")
		}
		return LangLiteral(lex, string(p.src[start:p.pos])), nil
	case p.hasPrefix("^^"):
		p.pos += 2
		var dt Term
		if p.peek() == '<' {
			iri, err := p.parseIRIRef()
			if err != nil {
				return Term{}, err
			}
			dt = IRI(iri)
		} else {
			dt, err = p.parsePrefixedName()
			if err != nil {
				return Term{}, err
			}
		}
		return TypedLiteral(lex, dt.Value), nil
	}
	return Literal(lex), nil
}

func (p *parser) parseString() (string, error) {
	q := p.peek()
	long := p.hasPrefix(strings.Repeat(string(q), 3))
	if long {
		p.pos += 3
	} else {
		p.pos++
	}
	var sb strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}
		r := p.peek()
		if long {
			if p.hasPrefix(strings.Repeat(string(q), 3)) {
				p.pos += 3
				// Quotes directly before the closing delimiter belong to the content.
				for p.peek() == q {
					sb.WriteRune(q)
					p.pos++
				}
				return sb.String(), nil
			}
		} else {
			if r == q {
				p.pos++
				return sb.String(), nil
			}
			if r == '\n' || r == '\r' {
				return "", p.errorf("newline in short string")
			}
		}
		if r == '\\' {
			dec, err := p.parseEscape(true)
			if err != nil {
				return "", err
			}
			sb.WriteRune(dec)
			continue
		}
		sb.WriteRune(r)
		p.pos++
	}
}

// parseEscape decodes an escape sequence at the current '\'.
func (p *parser) parseEscape(allowChar bool) (rune, error) {
	p.pos++ // '\'
	r := p.peek()
	switch r {
	case 'u', 'U':
		n := 4
		if r == 'U' {
			n = 8
		}
		if p.pos+1+n > len(p.src) {
			return 0, p.errorf("truncated unicode escape")
		}
		hex := string(p.src[p.pos+1 : p.pos+1+n])
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, p.errorf("invalid unicode escape \\%c%s", r, hex)
		}
		p.pos += 1 + n
		return rune(v), nil
	}
	if !allowChar {
		return 0, p.errorf("invalid escape in IRI")
	}
	var dec rune
	switch r {
	case 't':
		dec = '\t'
	case 'b':
		dec = '\b'
	case 'n':
		dec = '\n'
	case 'r':
		dec = '\r'
	case 'f':
		dec = '\f'
	case '"', '\'', '\\':
		dec = r
	default:
		return 0, p.errorf("invalid escape \\%c", r)
	}
	p.pos++
	return dec, nil
}

func (p *parser) parseNumber() (Term, error) {
	start := p.pos
	if r := p.peek(); r == '+' || r == '-' {
		p.pos++
	}
	digits := func() int {
		n := 0
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
			n++
		}
		return n
	}
	intDigits := digits()
	datatype := XSDInteger
	if p.peek() == '.' && p.peekAt(1) >= '0' && p.peekAt(1) <= '9' {
		p.pos++
		digits()
		datatype = XSDDecimal
	} else if intDigits == 0 {
		p.pos = start
		return Term{}, p.errorf("invalid numeric literal")
	}
	if r := p.peek(); r == 'e' || r == 'E' {
		save := p.pos
		p.pos++
		if r := p.peek(); r == '+' || r == '-' {
			p.pos++
		}
		if digits() == 0 {
			p.pos = save
		} else {
			datatype = XSDDouble
		}
	}
	return TypedLiteral(string(p.src[start:p.pos]), datatype), nil
}

func isPNChar(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) || r == 0x00B7
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
