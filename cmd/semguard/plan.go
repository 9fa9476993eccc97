package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360studio/semguard/plan"
)

// fileResult is the printable form of a plan.FileReport.
type fileResult struct {
	plan.FileReport
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

func newFileResult(r plan.FileReport) fileResult {
	out := fileResult{FileReport: r, Passed: r.Passed()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func planCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and repair check-in plans",
	}
	cmd.AddCommand(planValidateCmd(g), planFixCmd(g), planWatchCmd(g))
	return cmd
}

func planValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pattern...]",
		Short: "Validate plan files matched by glob patterns",
		Long: `Validate checks every matched plan file for required prefixes, types and
properties, unique step orders, declared dependencies and dependency cycles.
Patterns support ** and default to plan.patterns from the config.

Exit codes: 0 all passed, 1 a plan failed, 3 a file could not be read or parsed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			defer a.close()

			patterns := args
			if len(patterns) == 0 {
				patterns = a.cfg.Plan.Patterns
			}
			reports, err := a.planValidator().ValidateGlob(cmd.Context(), patterns...)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			if len(reports) == 0 {
				return &exitError{code: 3, err: fmt.Errorf("no plan files match %v", patterns)}
			}

			results := make([]fileResult, len(reports))
			code := 0
			for i, r := range reports {
				results[i] = newFileResult(r)
				switch {
				case r.Err != nil:
					code = 3
				case !r.Passed() && code == 0:
					code = 1
				}
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					printFileResult(out, r)
				}
			}
			if code != 0 {
				return &exitError{code: code, err: errors.New("plan validation failed")}
			}
			return nil
		},
	}
}

func planFixCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fix <file...>",
		Short: "Repair auto-fixable plan issues in place (a backup is written first)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			defer a.close()

			v := a.planValidator()
			out := cmd.OutOrStdout()
			var results []plan.FixResult
			code := 0
			for _, path := range args {
				res, err := v.FixFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					code = 3
					continue
				}
				if !res.After.Passed() && code == 0 {
					code = 1
				}
				results = append(results, res)
				if !g.jsonOutput {
					printFixResult(out, res)
				}
			}
			if g.jsonOutput {
				if err := printJSON(out, results); err != nil {
					return err
				}
			}
			if code != 0 {
				return &exitError{code: code, err: errors.New("some plans still fail after fixing")}
			}
			return nil
		},
	}
}

func planWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-validate plan files whenever they change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			defer a.close()

			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			w, err := a.planValidator().NewWatcher(plan.WatchConfig{
				Dir:      dir,
				Debounce: a.cfg.Plan.Debounce,
			})
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			ctx := cmd.Context()
			if err := w.Start(ctx); err != nil {
				_ = w.Stop()
				return &exitError{code: 3, err: err}
			}
			defer func() {
				_ = w.Stop()
				if n := w.Dropped(); n > 0 {
					a.logger.Warn("Plan reports dropped", "count", n)
				}
			}()

			out := cmd.OutOrStdout()
			for r := range w.Reports() {
				if g.jsonOutput {
					if err := printJSON(out, newFileResult(r)); err != nil {
						return err
					}
					continue
				}
				printFileResult(out, newFileResult(r))
			}
			return nil
		},
	}
}

func printFileResult(w io.Writer, r fileResult) {
	switch {
	case r.Error != "":
		fmt.Fprintf(w, "ERROR %s: %s\n", r.Path, r.Error)
	case r.Passed:
		fmt.Fprintf(w, "PASS  %s\n", r.Path)
	default:
		fmt.Fprintf(w, "FAIL  %s\n", r.Path)
	}
	printReport(w, r.Report)
}

func printFixResult(w io.Writer, res plan.FixResult) {
	if len(res.Fixes) == 0 {
		fmt.Fprintf(w, "%s: nothing to fix\n", res.Path)
	} else {
		fmt.Fprintf(w, "%s: %d fixes (backup %s)\n", res.Path, len(res.Fixes), res.BackupPath)
		for _, f := range res.Fixes {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if res.After.Len() > 0 {
		fmt.Fprintln(w, "remaining:")
		printReport(w, res.After)
	}
}
