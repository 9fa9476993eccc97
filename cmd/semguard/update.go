package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360studio/semguard/export"
	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/staging"
	"github.com/c360studio/semguard/validation"
)

func updateCmd(g *globalFlags) *cobra.Command {
	var (
		ontologyPath string
		shapesPath   string
		repository   string
		graphURI     string
		outputPath   string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Validate an ontology with new shapes and promote it to a repository",
		Long: `Update merges new shapes into an ontology, validates the result locally,
stages it in a scratch repository, validates it again with inference applied,
and replaces the target graph only when every check passes.

Exit codes: 0 success, 1 validation failed, 2 promotion failed, 3 other error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			defer a.close()

			ontology, err := graph.ParseFile(ontologyPath)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			shapes, err := graph.ParseFile(shapesPath)
			if err != nil {
				return &exitError{code: 3, err: err}
			}

			ctx := cmd.Context()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return &exitError{code: 3, err: err}
			}

			res, err := coord.ApplyUpdate(ctx, ontology, shapes, repository, staging.Options{
				GraphURI: graphURI,
				DryRun:   dryRun,
			})

			if outputPath != "" && res.Merged != nil {
				if werr := export.WriteFile(outputPath, res.Merged); werr != nil {
					a.logger.Warn("Failed to write merged ontology", "path", outputPath, "error", werr)
				} else {
					a.logger.Info("Wrote merged ontology", "path", outputPath)
				}
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if perr := printJSON(out, res); perr != nil {
					return perr
				}
			} else {
				printUpdateResult(out, repository, res)
			}

			if code := staging.ExitCode(res, err); code != 0 {
				if err == nil {
					err = errors.New("validation failed; no changes were made")
				}
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ontologyPath, "ontology", "", "Ontology file (Turtle or N-Triples)")
	cmd.Flags().StringVar(&shapesPath, "shapes", "", "SHACL shapes file (Turtle or N-Triples)")
	cmd.Flags().StringVarP(&repository, "repository", "r", "", "Target repository id")
	cmd.Flags().StringVar(&graphURI, "graph", "", "Named graph to replace (default graph if empty)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the merged ontology to this file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after staged validation")
	_ = cmd.MarkFlagRequired("ontology")
	_ = cmd.MarkFlagRequired("shapes")
	_ = cmd.MarkFlagRequired("repository")

	return cmd
}

func printUpdateResult(w io.Writer, repository string, res staging.UpdateResult) {
	switch {
	case res.OK && res.DryRun:
		fmt.Fprintf(w, "Dry run passed for %s (session %s)\n", repository, res.SessionID)
	case res.OK:
		fmt.Fprintf(w, "Promoted to %s (session %s)\n", repository, res.SessionID)
		fmt.Fprintf(w, "  explicit: %d -> %d\n", res.Before.Explicit, res.After.Explicit)
		fmt.Fprintf(w, "  inferred: %d -> %d\n", res.Before.Inferred, res.After.Inferred)
	case res.RollbackFailed:
		fmt.Fprintf(w, "Promotion to %s failed and rollback FAILED (session %s)\n", repository, res.SessionID)
	case res.RolledBack:
		fmt.Fprintf(w, "Promotion to %s failed and was rolled back (session %s)\n", repository, res.SessionID)
	default:
		fmt.Fprintf(w, "Update of %s rejected (session %s)\n", repository, res.SessionID)
	}
	printReport(w, res.Report)
}

func printReport(w io.Writer, r validation.Report) {
	if r.Len() == 0 {
		return
	}
	fmt.Fprintf(w, "%d blocking, %d advisory\n", len(r.Blocking()), len(r.Advisory()))
	for _, v := range r.Violations {
		focus := v.Focus
		if focus == "" {
			focus = "-"
		}
		fmt.Fprintf(w, "  [%s] %s %s %s: %s\n", v.Severity, v.ConstraintID, focus, v.Path, v.Message)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
