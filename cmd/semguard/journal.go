package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semguard/journal"
)

func journalCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded update runs",
	}

	var (
		repository string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent update runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, j, err := openJournal(g)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := j.Recent(cmd.Context(), repository, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOutput {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s  %-18s %s\n",
					e.StartedAt.Local().Format(time.DateTime), e.SessionID, e.Outcome, target(e))
			}
			return nil
		},
	}
	list.Flags().StringVarP(&repository, "repository", "r", "", "Only runs against this repository")
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")

	show := &cobra.Command{
		Use:   "show <session>",
		Short: "Show one update run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, j, err := openJournal(g)
			if err != nil {
				return err
			}
			defer a.close()

			e, err := j.Get(cmd.Context(), args[0])
			if errors.Is(err, journal.ErrNotFound) {
				return fmt.Errorf("no run recorded for session %s", args[0])
			}
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return printJSON(cmd.OutOrStdout(), e)
			}
			printEntry(cmd.OutOrStdout(), e)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func openJournal(g *globalFlags) (*app, *journal.Journal, error) {
	a, err := newApp(g)
	if err != nil {
		return nil, nil, err
	}
	j, err := a.runJournal()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	if j == nil {
		a.close()
		return nil, nil, errors.New("journal is disabled; set journal.path or --journal")
	}
	return a, j, nil
}

func target(e journal.Entry) string {
	if e.Graph == "" {
		return e.Repository
	}
	return e.Repository + " <" + e.Graph + ">"
}

func printEntry(w io.Writer, e journal.Entry) {
	fmt.Fprintf(w, "Session:    %s\n", e.SessionID)
	fmt.Fprintf(w, "Target:     %s\n", target(e))
	if e.StagingRepository != "" {
		fmt.Fprintf(w, "Staging:    %s\n", e.StagingRepository)
	}
	fmt.Fprintf(w, "Outcome:    %s\n", e.Outcome)
	fmt.Fprintf(w, "Started:    %s\n", e.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:   %s\n", e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Violations: %d blocking, %d advisory\n", e.Blocking, e.Advisory)
	fmt.Fprintf(w, "Explicit:   %d -> %d\n", e.ExplicitBefore, e.ExplicitAfter)
	if e.SnapshotStatements > 0 {
		fmt.Fprintf(w, "Snapshot:   %d statements\n", e.SnapshotStatements)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", e.Error)
	}
}
