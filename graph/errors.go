package graph

import (
	"errors"
	"fmt"
)

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports malformed document syntax. It is a precondition
// failure: nothing downstream runs on a document that failed to parse.
type ParseError struct {
	File   string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Line, e.Column)
	if e.File != "" {
		loc = e.File + ":" + loc
	}
	return fmt.Sprintf("parse error at %s: %s", loc, e.Msg)
}

// Unwrap exposes both ErrParse and the underlying cause, if any.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrParse, e.Err}
	}
	return []error{ErrParse}
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
