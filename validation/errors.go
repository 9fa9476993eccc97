package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semguard/graph"
)

// Sentinel errors for errors.Is.
var (
	ErrStructural = errors.New("structural error")
	ErrCycle      = errors.New("dependency cycle")
)

// ParseError is the malformed-input precondition failure.
type ParseError = graph.ParseError

// StructuralError reports that a document (or the store) lacks a structure
// an operation relies on.
type StructuralError struct {
	Kind    string
	Subject string
	Msg     string
	Err     error
}

func (e *StructuralError) Error() string {
	var sb strings.Builder
	sb.WriteString("structural error")
	if e.Kind != "" {
		sb.WriteString(" (" + e.Kind + ")")
	}
	if e.Subject != "" {
		sb.WriteString(" at " + e.Subject)
	}
	sb.WriteString(": " + e.Msg)
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *StructuralError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStructural, e.Err}
	}
	return []error{ErrStructural}
}

// DependencyCycleError reports a cycle in a dependency relation. Cycle lists
// the nodes in traversal order, with the first node repeated at the end.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

func (e *DependencyCycleError) Unwrap() error { return ErrCycle }
