package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
	"github.com/otherjamesbrown/calinsight/pkg/syncer"
)

const metricsPushTimeout = 10 * time.Second

type syncFlags struct {
	years int
	days  int
	daily bool
	from  string
	to    string
	users []string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(deps *Deps) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync calendar events into the meetings table",
		Long: `Fetch calendar events for each configured user, normalize them into meeting
records and upsert them into the database.

Exactly one mode may be chosen:
  --years N        Full sync of the last N years (default mode, N from sync.default_years)
  --days N         The last N days
  --daily          Incremental: from the newest stored meeting minus the overlap margin
  --from/--to      An explicit date range; --to is inclusive and defaults to today

Re-running a sync never duplicates rows. Failed chunks and batches are reported in the
summary and the run still exits 0 as long as some progress was made. Authorization
failures stop the run and exit with code 2.`,
		Example: `  calinsight sync --daily
  calinsight sync --days 30 --user ana@example.com
  calinsight sync --from 2024-01-01 --to 2024-03-31 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd, deps)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cmd.OutOrStdout(), deps, req)
		},
	}

	cmd.Flags().IntVar(&flags.years, "years", 0, "Full sync of the last N years")
	cmd.Flags().IntVar(&flags.days, "days", 0, "Sync the last N days")
	cmd.Flags().BoolVar(&flags.daily, "daily", false, "Incremental sync from the newest stored meeting")
	cmd.Flags().StringVar(&flags.from, "from", "", "Range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "Range end date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&flags.users, "user", "u", nil, "User to sync (repeatable; default calendar.users)")

	return cmd
}

// request turns the flags into a sync request, enforcing a single mode.
func (f syncFlags) request(cmd *cobra.Command, deps *Deps) (syncer.Request, error) {
	cfg, err := deps.config()
	if err != nil {
		return syncer.Request{}, err
	}
	changed := cmd.Flags().Changed

	var modes []string
	if changed("years") {
		modes = append(modes, "--years")
	}
	if changed("days") {
		modes = append(modes, "--days")
	}
	if f.daily {
		modes = append(modes, "--daily")
	}
	if changed("from") || changed("to") {
		modes = append(modes, "--from/--to")
	}
	if len(modes) > 1 {
		return syncer.Request{}, fmt.Errorf("choose one sync mode, got %s: %w", strings.Join(modes, ", "), cierrors.ErrValidation)
	}

	req := syncer.Request{Mode: syncer.ModeFull, Years: cfg.Sync.DefaultYears}
	switch {
	case changed("years"):
		if f.years < 1 {
			return syncer.Request{}, fmt.Errorf("--years must be at least 1: %w", cierrors.ErrValidation)
		}
		req.Years = f.years
	case changed("days"):
		req = syncer.Request{Mode: syncer.ModeWindow, Days: f.days}
	case f.daily:
		req = syncer.Request{Mode: syncer.ModeIncremental}
	case changed("from") || changed("to"):
		if f.from == "" {
			return syncer.Request{}, fmt.Errorf("--to requires --from: %w", cierrors.ErrValidation)
		}
		from, err := parseDay(f.from)
		if err != nil {
			return syncer.Request{}, err
		}
		to := deps.now().UTC().Truncate(24 * time.Hour)
		if f.to != "" {
			if to, err = parseDay(f.to); err != nil {
				return syncer.Request{}, err
			}
		}
		req = syncer.Request{Mode: syncer.ModeRange, From: from, To: to.Add(24 * time.Hour)}
	}

	users := f.users
	if len(users) == 0 {
		users = cfg.Calendar.Users
	}
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		u = directory.NormalizeEmail(u)
		if u != "" && !seen[u] {
			seen[u] = true
			req.Users = append(req.Users, u)
		}
	}
	if len(req.Users) == 0 {
		return syncer.Request{}, fmt.Errorf("no users to sync: pass --user or set calendar.users: %w", cierrors.ErrValidation)
	}
	return req, req.Validate()
}

// runSync executes one sync run and prints its summary.
func runSync(ctx context.Context, out io.Writer, deps *Deps, req syncer.Request) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	logger := deps.logger()
	metrics := observability.NewSyncMetrics()

	newSource := deps.NewSource
	if newSource == nil {
		newSource = buildSource
	}
	source, err := newSource(cfg, metrics, logger)
	if err != nil {
		return err
	}

	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb := deps.redis()
	if rdb != nil {
		defer rdb.Close()
	}

	dir, err := openDirectory(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer dir.Close()

	options := []syncer.Option{
		syncer.WithLogger(logger),
		syncer.WithMetrics(metrics),
		syncer.WithClock(deps.now),
	}
	if rdb != nil {
		options = append(options,
			syncer.WithPublisher(observability.NewPublisher(rdb, logger)),
			syncer.WithLocker(observability.NewLocker(rdb)),
		)
	}

	normalizer := meetings.NewNormalizer(directory.Memo(dir), logger)
	s := syncer.New(source, st, normalizer, syncer.OptionsFromConfig(cfg), options...)
	sum, runErr := s.Run(ctx, req)

	if url := cfg.Metrics.PushgatewayURL; url != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
		if err := metrics.Push(pushCtx, url, cfg.Metrics.JobName); err != nil {
			logger.Warn("metrics push failed", logging.Err(err))
		}
		cancel()
	}

	if sum != nil {
		if err := outputSyncSummary(out, cfg.OutputFormat, sum); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("sync aborted: %w", runErr)
	}
	if sum.Status == meetings.RunFailed {
		return fmt.Errorf("sync failed: %s", failureReason(sum))
	}
	return nil
}

// failureReason describes a failed run from the per-user errors.
func failureReason(sum *syncer.Summary) string {
	if sum.Error != "" {
		return sum.Error
	}
	var reasons []string
	for _, u := range sum.Users {
		if u.Error != "" {
			reasons = append(reasons, u.User+": "+u.Error)
		}
	}
	if len(reasons) == 0 {
		return "no user synced"
	}
	return strings.Join(reasons, "; ")
}

func outputSyncSummary(w io.Writer, format config.OutputFormat, sum *syncer.Summary) error {
	if ok, err := WriteStructured(w, format, sum); ok {
		return err
	}

	fmt.Fprintf(w, "%sSync %s%s (%s, run %s)\n", colorBold, sum.Mode, colorReset, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond), sum.RunID)
	fmt.Fprintf(w, "  Status:     %s%s%s\n", statusColor(sum.Status), sum.Status, colorReset)
	fmt.Fprintf(w, "  Fetched:    %s\n", humanize.Comma(int64(sum.Fetched)))
	fmt.Fprintf(w, "  Inserted:   %s\n", humanize.Comma(int64(sum.Inserted)))
	fmt.Fprintf(w, "  Updated:    %s\n", humanize.Comma(int64(sum.Updated)))
	fmt.Fprintf(w, "  Unchanged:  %s\n", humanize.Comma(int64(sum.Unchanged)))
	fmt.Fprintf(w, "  Skipped:    %s\n", humanize.Comma(int64(sum.Skipped)))
	if len(sum.SkippedByReason) > 0 {
		reasons := make([]string, 0, len(sum.SkippedByReason))
		for r := range sum.SkippedByReason {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "    %-16s %d\n", r, sum.SkippedByReason[meetings.SkipReason(r)])
		}
	}
	if sum.FailedChunks > 0 || sum.FailedBatches > 0 {
		fmt.Fprintf(w, "  %sFailed:     %d chunks, %d batches%s\n", colorYellow, sum.FailedChunks, sum.FailedBatches, colorReset)
	}
	if sum.ReachedThrough != nil {
		fmt.Fprintf(w, "  Reached:    %s\n", sum.ReachedThrough.Format(time.RFC3339))
	}

	if len(sum.Users) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-32s %-8s %8s %8s %8s %8s\n", "USER", "STATUS", "FETCHED", "INSERTED", "UPDATED", "SKIPPED")
		for _, u := range sum.Users {
			fmt.Fprintf(w, "  %-32s %s%-8s%s %8d %8d %8d %8d\n",
				truncate(u.User, 32), statusColor(u.Status), u.Status, colorReset,
				u.Fetched, u.Inserted, u.Updated, u.Skipped)
		}
	}
	if sum.Error != "" {
		fmt.Fprintf(w, "\n  %sError:%s %s\n", colorRed, colorReset, sum.Error)
	}
	return nil
}
