package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

const defaultRunsLimit = 20

// NewRunsCommand creates the runs command.
func NewRunsCommand(deps *Deps) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		Long: `List the most recent sync runs, newest first. Each sync records one row
per user with its window, counters, status and the time it reached through.`,
		Example: `  calinsight runs
  calinsight runs --limit 100 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd.Context(), cmd.OutOrStdout(), deps, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultRunsLimit, "Number of runs to show")
	return cmd
}

func runRuns(ctx context.Context, out io.Writer, deps *Deps, limit int) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return outputRuns(out, cfg.OutputFormat, runs)
}

func outputRuns(w io.Writer, format config.OutputFormat, runs []*meetings.SyncRun) error {
	if runs == nil {
		runs = []*meetings.SyncRun{}
	}
	if ok, err := WriteStructured(w, format, runs); ok {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No sync runs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-16s %-28s %-12s %-8s %-23s %7s %7s %7s %7s\n",
		"STARTED", "USER", "MODE", "STATUS", "WINDOW", "FETCHED", "INSERT", "UPDATE", "SKIP")
	for _, r := range runs {
		window := r.WindowStart.Format("2006-01-02") + ".." + r.WindowEnd.Format("2006-01-02")
		fmt.Fprintf(w, "%-16s %-28s %-12s %s%-8s%s %-23s %7d %7d %7d %7d\n",
			humanize.Time(r.StartedAt), truncate(r.UserEmail, 28), r.Mode,
			statusColor(r.Status), r.Status, colorReset, window,
			r.Fetched, r.Inserted, r.Updated, r.Skipped)
		if r.Error != "" {
			fmt.Fprintf(w, "  %s%s%s\n", colorRed, truncate(r.Error, 120), colorReset)
		}
	}
	if last := runs[0]; last.ReachedThrough != nil {
		fmt.Fprintf(w, "\nLatest run reached through %s.\n", last.ReachedThrough.Format(time.RFC3339))
	}
	return nil
}
