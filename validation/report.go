// Package validation holds the uniform violation report shared by the shape
// validator and the plan validator, plus the local (in-memory) validator.
package validation

import (
	"errors"
	"sort"
)

// Severity distinguishes violations that block an update from those that
// are only reported.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Violation is one failed constraint.
type Violation struct {
	// Focus is the node the constraint was evaluated on.
	Focus string `json:"focus,omitempty"`

	// Path is the property path (or check name) that failed.
	Path string `json:"path"`

	// Shape identifies the shape or rule that produced the violation.
	Shape string `json:"shape,omitempty"`

	// ConstraintID names the constraint component, e.g. "sh:MinCountConstraintComponent".
	ConstraintID string `json:"constraint_id"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Cause carries a typed error (StructuralError, DependencyCycleError)
	// when the violation originates from one.
	Cause error `json:"-"`
}

// IsBlocking reports whether v blocks acceptance.
func (v Violation) IsBlocking() bool { return v.Severity != SeverityAdvisory }

// Report is an ordered list of violations. An empty report passes.
type Report struct {
	Violations []Violation `json:"violations"`
}

// Add appends violations.
func (r *Report) Add(v ...Violation) {
	r.Violations = append(r.Violations, v...)
}

// Merge appends every violation of other.
func (r *Report) Merge(other Report) {
	r.Violations = append(r.Violations, other.Violations...)
}

// Len returns the number of violations.
func (r Report) Len() int { return len(r.Violations) }

// Passed reports whether no blocking violation is present.
func (r Report) Passed() bool {
	for _, v := range r.Violations {
		if v.IsBlocking() {
			return false
		}
	}
	return true
}

// Blocking returns the blocking violations.
func (r Report) Blocking() []Violation {
	return r.filter(true)
}

// Advisory returns the advisory violations.
func (r Report) Advisory() []Violation {
	return r.filter(false)
}

func (r Report) filter(blocking bool) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.IsBlocking() == blocking {
			out = append(out, v)
		}
	}
	return out
}

// Err joins the typed causes of blocking violations, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, v := range r.Blocking() {
		if v.Cause != nil {
			errs = append(errs, v.Cause)
		}
	}
	return errors.Join(errs...)
}

// Sort orders violations by focus node, path and constraint.
func (r *Report) Sort() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		a, b := r.Violations[i], r.Violations[j]
		if a.Focus != b.Focus {
			return a.Focus < b.Focus
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.ConstraintID < b.ConstraintID
	})
}
