package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds concurrent file validations.
const batchConcurrency = 8

// ExpandPatterns resolves glob patterns, including recursive ** segments, to
// a sorted list of distinct files.
func ExpandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				abs = m
			}
			if !seen[abs] {
				seen[abs] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ValidateGlob validates every file matched by patterns. Per-file read and
// parse failures are reported in FileReport.Err; the returned error is set
// only for bad patterns or cancellation. Reports follow the sorted file
// order.
func (v *Validator) ValidateGlob(ctx context.Context, patterns ...string) ([]FileReport, error) {
	files, err := ExpandPatterns(patterns)
	if err != nil {
		return nil, err
	}

	reports := make([]FileReport, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := v.ValidateFile(path)
			reports[i] = FileReport{Path: path, Report: r, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range reports {
		if !r.Passed() {
			failed++
		}
	}
	v.logger.Info("Plan batch validated", "files", len(files), "failed", failed)
	return reports, nil
}
