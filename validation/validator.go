package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/semguard/graph"
)

// ConstraintChecker evaluates shapes against a data graph. Implementations
// must not retain or mutate either document.
type ConstraintChecker interface {
	CheckConstraints(ctx context.Context, data, shapes *graph.Document) ([]Violation, error)
}

// CheckerFunc adapts a function to ConstraintChecker.
type CheckerFunc func(ctx context.Context, data, shapes *graph.Document) ([]Violation, error)

func (f CheckerFunc) CheckConstraints(ctx context.Context, data, shapes *graph.Document) ([]Violation, error) {
	return f(ctx, data, shapes)
}

// LocalValidator validates documents in memory, with no network access.
type LocalValidator struct {
	checker ConstraintChecker
	logger  *slog.Logger
}

// Option configures a LocalValidator.
type Option func(*LocalValidator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *LocalValidator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewLocalValidator returns a validator running checker.
func NewLocalValidator(checker ConstraintChecker, opts ...Option) *LocalValidator {
	v := &LocalValidator{checker: checker, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks data against shapes. An empty or nil shapes document
// trivially passes. The error return is reserved for checker failures; shape
// violations are always reported in the Report.
func (v *LocalValidator) Validate(ctx context.Context, data, shapes *graph.Document) (Report, error) {
	if shapes == nil || shapes.Len() == 0 {
		return Report{}, nil
	}
	if data == nil {
		data = graph.NewDocument()
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	found, err := v.checker.CheckConstraints(ctx, data.Clone(), shapes.Clone())
	if err != nil {
		return Report{}, fmt.Errorf("check constraints: %w", err)
	}

	report := Normalize(found)
	v.logger.Debug("Local validation complete",
		"statements", data.Len(),
		"shape_statements", shapes.Len(),
		"violations", report.Len(),
		"passed", report.Passed())
	return report, nil
}

// ValidateFiles parses both files and validates. Malformed input yields a
// *ParseError and no report.
func (v *LocalValidator) ValidateFiles(ctx context.Context, dataPath, shapesPath string) (Report, error) {
	data, err := graph.ParseFile(dataPath)
	if err != nil {
		return Report{}, err
	}
	shapes, err := graph.ParseFile(shapesPath)
	if err != nil {
		return Report{}, err
	}
	return v.Validate(ctx, data, shapes)
}

// Normalize fills defaults and orders violations deterministically.
func Normalize(vs []Violation) Report {
	report := Report{Violations: make([]Violation, 0, len(vs))}
	for _, vi := range vs {
		switch vi.Severity {
		case SeverityBlocking, SeverityAdvisory:
		default:
			vi.Severity = SeverityBlocking
		}
		if vi.ConstraintID == "" {
			vi.ConstraintID = "unknown"
		}
		if vi.Message == "" {
			vi.Message = fmt.Sprintf("constraint %s violated", vi.ConstraintID)
		}
		report.Add(vi)
	}
	report.Sort()
	return report
}
