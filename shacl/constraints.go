package shacl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/validation"
)

// constraintContext evaluates the constraints of one shape at one focus node.
type constraintContext struct {
	ev          *evaluation
	shape       graph.Term
	reportShape graph.Term
	focus       graph.Term
	path        string
	values      []graph.Term
	severity    validation.Severity
	message     string
}

func (c *constraintContext) param(name string) (graph.Term, bool) {
	return c.ev.shapes.Object(c.shape, sh(name))
}

func (c *constraintContext) violate(component, defaultMsg string) {
	msg := c.message
	if msg == "" {
		msg = defaultMsg
	}
	c.ev.out = append(c.ev.out, validation.Violation{
		Focus:        termLabel(c.focus),
		Path:         c.path,
		Shape:        termLabel(c.reportShape),
		ConstraintID: "sh:" + component,
		Message:      msg,
		Severity:     c.severity,
	})
}

func (c *constraintContext) run() {
	c.cardinality()
	for _, v := range c.values {
		c.valueType(v)
		c.stringBased(v)
		c.valueRange(v)
	}
	c.in()
	c.hasValue()
}

func (c *constraintContext) cardinality() {
	n := len(c.values)
	if p, ok := c.param("minCount"); ok {
		if min, ok := p.Int(); ok && n < min {
			c.violate("MinCountConstraintComponent",
				fmt.Sprintf("%s has %d value(s) for %s, at least %d required", termLabel(c.focus), n, c.path, min))
		}
	}
	if p, ok := c.param("maxCount"); ok {
		if max, ok := p.Int(); ok && n > max {
			c.violate("MaxCountConstraintComponent",
				fmt.Sprintf("%s has %d value(s) for %s, at most %d allowed", termLabel(c.focus), n, c.path, max))
		}
	}
}

func (c *constraintContext) valueType(v graph.Term) {
	if dt, ok := c.param("datatype"); ok {
		if !v.IsLiteral() || v.Datatype != dt.Value {
			c.violate("DatatypeConstraintComponent",
				fmt.Sprintf("value %s does not have datatype %s", v, dt.Value))
		}
	}
	for _, cls := range c.ev.shapes.Objects(c.shape, sh("class")) {
		if v.IsLiteral() || !c.ev.hasType(v, cls) {
			c.violate("ClassConstraintComponent",
				fmt.Sprintf("value %s is not an instance of %s", v, cls.Value))
		}
	}
	if kind, ok := c.param("nodeKind"); ok && !nodeKindMatches(kind, v) {
		c.violate("NodeKindConstraintComponent",
			fmt.Sprintf("value %s does not match node kind %s", v, graph.LocalName(kind.Value)))
	}
}

func nodeKindMatches(kind, v graph.Term) bool {
	switch graph.LocalName(kind.Value) {
	case "IRI":
		return v.IsIRI()
	case "BlankNode":
		return v.IsBlank()
	case "Literal":
		return v.IsLiteral()
	case "BlankNodeOrIRI":
		return v.IsBlank() || v.IsIRI()
	case "BlankNodeOrLiteral":
		return v.IsBlank() || v.IsLiteral()
	case "IRIOrLiteral":
		return v.IsIRI() || v.IsLiteral()
	}
	return true
}

func (c *constraintContext) stringBased(v graph.Term) {
	if v.IsBlank() {
		return
	}
	n := utf8.RuneCountInString(v.Value)
	if p, ok := c.param("minLength"); ok {
		if min, ok := p.Int(); ok && n < min {
			c.violate("MinLengthConstraintComponent",
				fmt.Sprintf("value %s is shorter than %d characters", v, min))
		}
	}
	if p, ok := c.param("maxLength"); ok {
		if max, ok := p.Int(); ok && n > max {
			c.violate("MaxLengthConstraintComponent",
				fmt.Sprintf("value %s is longer than %d characters", v, max))
		}
	}
	if p, ok := c.param("pattern"); ok {
		expr := p.Value
		if flags, ok := c.param("flags"); ok && strings.Contains(flags.Value, "i") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			c.violate("PatternConstraintComponent",
				fmt.Sprintf("invalid pattern %q: %v", p.Value, err))
			return
		}
		if !re.MatchString(v.Value) {
			c.violate("PatternConstraintComponent",
				fmt.Sprintf("value %s does not match pattern %q", v, p.Value))
		}
	}
}

func (c *constraintContext) valueRange(v graph.Term) {
	bounds := []struct {
		param     string
		component string
		ok        func(cmp int) bool
		verb      string
	}{
		{"minInclusive", "MinInclusiveConstraintComponent", func(cmp int) bool { return cmp >= 0 }, ">="},
		{"maxInclusive", "MaxInclusiveConstraintComponent", func(cmp int) bool { return cmp <= 0 }, "<="},
		{"minExclusive", "MinExclusiveConstraintComponent", func(cmp int) bool { return cmp > 0 }, ">"},
		{"maxExclusive", "MaxExclusiveConstraintComponent", func(cmp int) bool { return cmp < 0 }, "<"},
	}
	for _, b := range bounds {
		limit, ok := c.param(b.param)
		if !ok {
			continue
		}
		cmp, numeric := compareNumeric(v, limit)
		if !numeric || !b.ok(cmp) {
			c.violate(b.component,
				fmt.Sprintf("value %s is not %s %s", v, b.verb, limit.Value))
		}
	}
}

func compareNumeric(a, b graph.Term) (int, bool) {
	if !a.IsLiteral() || !b.IsLiteral() {
		return 0, false
	}
	x, err1 := strconv.ParseFloat(a.Value, 64)
	y, err2 := strconv.ParseFloat(b.Value, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func (c *constraintContext) in() {
	list, ok := c.param("in")
	if !ok {
		return
	}
	allowed := make(map[graph.Term]bool)
	for _, t := range c.ev.shapes.List(list) {
		allowed[t] = true
	}
	for _, v := range c.values {
		if !allowed[v] {
			c.violate("InConstraintComponent",
				fmt.Sprintf("value %s is not one of the allowed values", v))
		}
	}
}

func (c *constraintContext) hasValue() {
	want, ok := c.param("hasValue")
	if !ok {
		return
	}
	for _, v := range c.values {
		if v == want {
			return
		}
	}
	c.violate("HasValueConstraintComponent",
		fmt.Sprintf("%s is missing required value %s", termLabel(c.focus), want))
}

func termLabel(t graph.Term) string {
	switch t.Kind {
	case graph.KindIRI:
		return t.Value
	case graph.KindBlank:
		return "_:" + t.Value
	}
	return t.String()
}
