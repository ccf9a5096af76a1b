package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"devrunner/internal/recovery/state"
	"devrunner/internal/workflow"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list the built-in tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			for _, def := range workflow.Definitions() {
				fmt.Fprintf(tw, "%s\t%s\n", def.Name, def.Doc)
			}
			return tw.Flush()
		},
	}
}

func newHistoryCommand(flags *Flags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "show recent runs and their outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := flags.Invocation("history")
			if err != nil {
				return err
			}
			st, err := state.NewStore(inv.WorkDir)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			runs, err := st.RecentRuns(limit)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tSTATUS\tCHECKPOINTS\tDETAIL")
			for _, r := range runs {
				detail := ""
				switch {
				case r.FailingTask != "":
					detail = fmt.Sprintf("%s (%s)", r.FailingTask, r.ErrorCode)
				case r.ErrorCode != "":
					detail = r.ErrorCode
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					shortRunID(r.RunID),
					r.StartTime.UTC().Format(time.RFC3339),
					r.Mode, r.Status, r.Checkpoints, detail)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to show")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}
