package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360studio/semguard/export"
	"github.com/c360studio/semguard/inference"
	"github.com/c360studio/semguard/storage"
)

func inferenceCmd(g *globalFlags) *cobra.Command {
	var repository string

	cmd := &cobra.Command{
		Use:   "inference",
		Short: "Manage the reasoner of a repository",
	}
	cmd.PersistentFlags().StringVarP(&repository, "repository", "r", "", "Repository id")
	_ = cmd.MarkPersistentFlagRequired("repository")

	// run builds the manager and prints the resulting repository state.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, a *app, m *inference.Manager) (storage.Repository, error)) error {
		a, err := newApp(g)
		if err != nil {
			return &exitError{code: 3, err: err}
		}
		defer a.close()

		ctx := cmd.Context()
		m, err := a.inferenceManager(ctx)
		if err != nil {
			return &exitError{code: 3, err: err}
		}
		rep, err := fn(ctx, a, m)
		if err != nil {
			return &exitError{code: 3, err: err}
		}
		a.metrics.RecordCounts(rep.ID, rep.Counts.Explicit, rep.Counts.Inferred)
		if g.jsonOutput {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printRepository(cmd.OutOrStdout(), rep)
		return nil
	}

	var (
		ruleset string
		wait    bool
	)
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Set a ruleset and re-infer",
		Long: `Enable sets the ruleset of a repository, which starts re-inference.

Re-inference is confirmed by polling the statement counts until two
consecutive polls agree. The pending state is held by this process only, so
pass --wait to confirm it; a later "inference count" cannot tell whether
re-inference has finished.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app, m *inference.Manager) (storage.Repository, error) {
				name := ruleset
				if name == "" {
					name = a.cfg.Inference.DefaultRuleset
				}
				rep, err := m.Enable(ctx, repository, name)
				if err != nil || !wait {
					return rep, err
				}
				return m.AwaitReinference(ctx, repository)
			})
		},
	}
	enable.Flags().StringVar(&ruleset, "ruleset", "", "Ruleset name (default from config)")
	enable.Flags().BoolVar(&wait, "wait", false, "Wait until re-inference is confirmed")

	var outputPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export explicit statements only",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			defer a.close()

			ctx := cmd.Context()
			m, err := a.inferenceManager(ctx)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			doc, err := m.ExportExplicitOnly(ctx, repository)
			if err != nil {
				return &exitError{code: 3, err: err}
			}
			if outputPath == "" {
				return export.Write(cmd.OutOrStdout(), doc, export.FormatTurtle)
			}
			if err := export.WriteFile(outputPath, doc); err != nil {
				return &exitError{code: 3, err: err}
			}
			a.logger.Info("Exported explicit statements", "repository", repository, "path", outputPath, "statements", doc.Len())
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (stdout if empty)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Switch reasoning off (inferred statements remain until cleared)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, a *app, m *inference.Manager) (storage.Repository, error) {
					return m.Disable(ctx, repository)
				})
			},
		},
		enable,
		&cobra.Command{
			Use:   "clear-inferred",
			Short: "Remove inferred statements and keep explicit ones",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, a *app, m *inference.Manager) (storage.Repository, error) {
					return m.ClearInferred(ctx, repository)
				})
			},
		},
		&cobra.Command{
			Use:   "count",
			Short: "Count explicit and inferred statements",
			Long: `Count prints the current explicit and inferred statement counts.

It does not confirm re-inference started by an earlier command; use
"inference enable --wait" for that.`,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(ctx context.Context, a *app, m *inference.Manager) (storage.Repository, error) {
					return m.Count(ctx, repository)
				})
			},
		},
		&cobra.Command{
			Use:   "ruleset",
			Short: "Show the current ruleset",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(g)
				if err != nil {
					return &exitError{code: 3, err: err}
				}
				defer a.close()

				m, err := a.inferenceManager(cmd.Context())
				if err != nil {
					return &exitError{code: 3, err: err}
				}
				rs, err := m.Ruleset(cmd.Context(), repository)
				if err != nil {
					return &exitError{code: 3, err: err}
				}
				if g.jsonOutput {
					return printJSON(cmd.OutOrStdout(), rs)
				}
				fmt.Fprintln(cmd.OutOrStdout(), rulesetName(rs))
				return nil
			},
		},
		exportCmd,
	)

	return cmd
}

func printRepository(w io.Writer, rep storage.Repository) {
	fmt.Fprintf(w, "%s\n", rep.ID)
	fmt.Fprintf(w, "  ruleset:  %s\n", rulesetName(rep.Ruleset))
	fmt.Fprintf(w, "  explicit: %d\n", rep.Counts.Explicit)
	fmt.Fprintf(w, "  inferred: %d\n", rep.Counts.Inferred)
	if rep.ReinferencePending {
		fmt.Fprintln(w, "  re-inference pending (confirm with: inference enable --wait)")
	}
	if rep.StaleInferred() {
		fmt.Fprintln(w, "  warning: inferred statements remain while reasoning is disabled")
	}
}

func rulesetName(rs storage.RulesetConfiguration) string {
	if !rs.Enabled {
		return "disabled"
	}
	return rs.RulesetName
}
