package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/seed"
	"github.com/otherjamesbrown/calinsight/pkg/store"
)

type dbSeedFlags struct {
	users          int
	days           int
	meetingsPerDay int
	seed           uint64
	domain         string
	clear          bool
	statsOnly      bool
	yes            bool
}

// newDbSeedCommand creates the 'db seed' subcommand.
func newDbSeedCommand(deps *Deps) *cobra.Command {
	var flags dbSeedFlags

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with synthetic users and meetings",
		Long: `Generate a synthetic organization and its meeting history, for demos and
local development without calendar credentials.

Users are written to the users table and meetings go through the same
normalization and batched upsert as a sync, so every report and dashboard
query works on the result. The data is determined by --seed and the current
date: rerunning with the same values updates the same rows instead of adding
new ones.

Weekdays get --meetings-per-day meetings; a few weekend days get a tenth of
that. --clear deletes ALL meetings and users first.`,
		Example: `  calinsight db seed
  calinsight db seed --users 50 --days 30 --meetings-per-day 20
  calinsight db seed --clear --yes
  calinsight db seed --stats-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbSeed(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, flags)
		},
	}

	cmd.Flags().IntVar(&flags.users, "users", seed.DefaultUsers, "Number of users to generate")
	cmd.Flags().IntVar(&flags.days, "days", seed.DefaultDays, "Days of meeting history to generate")
	cmd.Flags().IntVar(&flags.meetingsPerDay, "meetings-per-day", seed.DefaultMeetingsPerDay, "Meetings per weekday across all users")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&flags.domain, "domain", seed.DefaultDomain, "Email domain of the generated users")
	cmd.Flags().BoolVar(&flags.clear, "clear", false, "Delete all meetings and users before seeding")
	cmd.Flags().BoolVar(&flags.statsOnly, "stats-only", false, "Only show database statistics")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Clear without asking for confirmation")

	return cmd
}

// seedStats summarizes the users and meetings tables.
type seedStats struct {
	Users        int        `json:"users" yaml:"users"`
	Departments  int        `json:"departments" yaml:"departments"`
	Meetings     int64      `json:"meetings" yaml:"meetings"`
	FirstMeeting *time.Time `json:"first_meeting,omitempty" yaml:"first_meeting,omitempty"`
	LastMeeting  *time.Time `json:"last_meeting,omitempty" yaml:"last_meeting,omitempty"`
}

// dbSeedReport is the structured form of 'db seed'. Stats describes the
// database after seeding, or as it is with --stats-only.
type dbSeedReport struct {
	Before          *seedStats            `json:"before,omitempty" yaml:"before,omitempty"`
	ClearedMeetings int64                 `json:"cleared_meetings,omitempty" yaml:"cleared_meetings,omitempty"`
	ClearedUsers    int64                 `json:"cleared_users,omitempty" yaml:"cleared_users,omitempty"`
	UsersWritten    int                   `json:"users_written" yaml:"users_written"`
	Meetings        meetings.UpsertResult `json:"meetings" yaml:"meetings"`
	Skipped         int                   `json:"skipped" yaml:"skipped"`
	Stats           seedStats             `json:"stats" yaml:"stats"`
	Options         *dbSeedReportOptions  `json:"options,omitempty" yaml:"options,omitempty"`
}

type dbSeedReportOptions struct {
	Users          int    `json:"users" yaml:"users"`
	Days           int    `json:"days" yaml:"days"`
	MeetingsPerDay int    `json:"meetings_per_day" yaml:"meetings_per_day"`
	Seed           uint64 `json:"seed" yaml:"seed"`
}

// runDbSeed executes the db seed command.
func runDbSeed(ctx context.Context, in io.Reader, out io.Writer, deps *Deps, flags dbSeedFlags) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	opts := seed.Options{
		Users:          flags.users,
		Days:           flags.days,
		MeetingsPerDay: flags.meetingsPerDay,
		Seed:           flags.seed,
		Now:            deps.now(),
		Domain:         flags.domain,
	}
	if !flags.statsOnly {
		if err := opts.Validate(); err != nil {
			return err
		}
	}

	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()
	dir, closeDir, err := openSQLDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	stats, err := collectSeedStats(ctx, st, dir)
	if err != nil {
		return err
	}
	if flags.statsOnly {
		return outputDbSeed(out, cfg.OutputFormat, dbSeedReport{Stats: stats})
	}

	report := dbSeedReport{
		Before:  &stats,
		Options: &dbSeedReportOptions{Users: opts.Users, Days: opts.Days, MeetingsPerDay: opts.MeetingsPerDay, Seed: opts.Seed},
	}
	log := deps.logger().With(logging.F("component", "seed"))

	if flags.clear {
		if !flags.yes && !confirm(in, out, "Delete ALL meetings and users?") {
			fmt.Fprintln(out, "Seed cancelled.")
			return nil
		}
		if report.ClearedMeetings, err = st.DeleteOlderThan(ctx, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
			return fmt.Errorf("clearing meetings: %w", err)
		}
		if report.ClearedUsers, err = dir.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clearing users: %w", err)
		}
		log.Info("cleared existing data", logging.F("meetings", report.ClearedMeetings), logging.F("users", report.ClearedUsers))
	}

	gen := seed.New(opts)
	users := gen.Users()
	if report.UsersWritten, err = dir.Upsert(ctx, users); err != nil {
		return fmt.Errorf("writing users: %w", err)
	}

	normalizer := meetings.NewNormalizer(directory.NewStatic(directory.File{Users: users}), log)
	batchSize := max(1, cfg.Sync.BatchSize)
	batch := make([]*meetings.Meeting, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := st.UpsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("writing meetings: %w", err)
		}
		report.Meetings.Add(res)
		batch = batch[:0]
		return nil
	}
	for _, oe := range gen.Events(users) {
		m, skip := normalizer.Normalize(ctx, oe.Owner, "primary", oe.Event)
		if skip != meetings.SkipNone {
			report.Skipped++
			continue
		}
		batch = append(batch, m)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	log.Info("seed finished",
		logging.F("users", report.UsersWritten),
		logging.F("inserted", report.Meetings.Inserted),
		logging.F("updated", report.Meetings.Updated),
		logging.F("unchanged", report.Meetings.Unchanged))

	if report.Stats, err = collectSeedStats(ctx, st, dir); err != nil {
		return err
	}
	return outputDbSeed(out, cfg.OutputFormat, report)
}

func collectSeedStats(ctx context.Context, st store.Store, dir *directory.SQLDirectory) (seedStats, error) {
	var s seedStats
	var err error
	if s.Users, s.Departments, err = dir.Stats(ctx); err != nil {
		return s, err
	}
	if s.Meetings, err = st.Count(ctx); err != nil {
		return s, fmt.Errorf("counting meetings: %w", err)
	}
	first, last, ok, err := st.DateRange(ctx)
	if err != nil {
		return s, fmt.Errorf("reading date range: %w", err)
	}
	if ok {
		s.FirstMeeting, s.LastMeeting = &first, &last
	}
	return s, nil
}

// outputDbSeed formats and outputs the seed report.
func outputDbSeed(out io.Writer, format config.OutputFormat, report dbSeedReport) error {
	if ok, err := WriteStructured(out, format, report); ok {
		return err
	}

	if report.Options != nil {
		if report.ClearedMeetings > 0 || report.ClearedUsers > 0 {
			fmt.Fprintf(out, "Cleared %s meeting(s) and %s user(s)\n",
				humanize.Comma(report.ClearedMeetings), humanize.Comma(report.ClearedUsers))
		}
		m := report.Meetings
		fmt.Fprintf(out, "%sSeeded %d user(s) and %s meeting(s)%s over %d days (seed %d)\n",
			colorGreen, report.UsersWritten, humanize.Comma(int64(m.Inserted+m.Updated+m.Unchanged)), colorReset,
			report.Options.Days, report.Options.Seed)
		fmt.Fprintf(out, "  Inserted:   %s\n", humanize.Comma(int64(m.Inserted)))
		fmt.Fprintf(out, "  Updated:    %s\n", humanize.Comma(int64(m.Updated)))
		fmt.Fprintf(out, "  Unchanged:  %s\n", humanize.Comma(int64(m.Unchanged)))
		if report.Skipped > 0 {
			fmt.Fprintf(out, "  Skipped:    %d\n", report.Skipped)
		}
		fmt.Fprintln(out)
	}

	s := report.Stats
	fmt.Fprintf(out, "%sDatabase statistics:%s\n", colorBold, colorReset)
	fmt.Fprintf(out, "  Users:        %s\n", humanize.Comma(int64(s.Users)))
	fmt.Fprintf(out, "  Meetings:     %s\n", humanize.Comma(s.Meetings))
	fmt.Fprintf(out, "  Departments:  %d\n", s.Departments)
	if s.FirstMeeting != nil && s.LastMeeting != nil {
		fmt.Fprintf(out, "  Date range:   %s to %s\n", s.FirstMeeting.Format("2006-01-02"), s.LastMeeting.Format("2006-01-02"))
	}
	return nil
}
