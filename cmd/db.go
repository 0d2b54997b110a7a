package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for calinsight.

Manage the schema of the meetings database, view migration status, apply
the retention policy and load synthetic data.

Migrations are embedded in the binary, one set per driver (postgres, sqlite),
named with numeric prefixes and tracked in the schema_migrations table.

Examples:
  # Show migration status
  calinsight db status

  # Apply all pending migrations
  calinsight db migrate

  # Delete meetings older than two years
  calinsight db cleanup --older-than-days 730

  # Generate synthetic users and meetings for a demo
  calinsight db seed --users 50 --days 30`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbCleanupCommand(deps))
	cmd.AddCommand(newDbSeedCommand(deps))

	return cmd
}

type dbMigrateFlags struct {
	dryRun bool
	target string
	yes    bool
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *Deps) *cobra.Command {
	var flags dbMigrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Migrations are executed in
version order, each in its own transaction, and recorded in schema_migrations.
If a migration fails, it is rolled back and no further migrations are attempted.`,
		Example: `  calinsight db migrate
  calinsight db migrate --dry-run
  calinsight db migrate --target 002 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied and are known to this binary
  - Pending: migrations that have not been applied yet
  - Drift: migrations that were applied but are unknown to this binary`,
		Example: `  calinsight db status
  calinsight db status -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

type dbCleanupFlags struct {
	olderThanDays int
	yes           bool
}

// newDbCleanupCommand creates the 'db cleanup' subcommand.
func newDbCleanupCommand(deps *Deps) *cobra.Command {
	var flags dbCleanupFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete meetings older than the retention period",
		Long: `Delete meetings whose start time is older than the given number of days.

Meetings are otherwise never deleted: events removed from a calendar keep their
last synced row. The default age comes from sync.retention_days.`,
		Example: `  calinsight db cleanup --older-than-days 730
  calinsight db cleanup --older-than-days 365 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbCleanup(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, flags)
		},
	}

	cmd.Flags().IntVar(&flags.olderThanDays, "older-than-days", 0, "Delete meetings starting more than N days ago (default sync.retention_days)")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Delete without asking for confirmation")

	return cmd
}

// confirm asks a yes/no question on in and reports whether the answer was y.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/N): ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, in io.Reader, out io.Writer, deps *Deps, flags dbMigrateFlags) error {
	st, err := deps.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := st.Migrator()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	status, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, p := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", p.Version, p.Name)
	}
	fmt.Fprintln(out)

	if flags.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !flags.yes && !confirm(in, out, "Apply these migrations?") {
		fmt.Fprintln(out, "Migration cancelled.")
		return nil
	}

	var result *db.MigrationResult
	if flags.target != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", flags.target)
		result, err = m.UpTo(ctx, flags.target)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
		result, err = m.Up(ctx)
	}

	if err != nil {
		fmt.Fprintf(out, "\n%sMigration failed:%s %v\n", colorRed, colorReset, err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  %s✓%s %s\n", colorGreen, colorReset, v)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintf(out, "%sSuccessfully applied %d migration(s):%s\n", colorGreen, len(result.Applied), colorReset)
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  %s✓%s %s\n", colorGreen, colorReset, v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%sMigrations completed successfully.%s\n", colorGreen, colorReset)
	return nil
}

// dbStatusReport is the structured form of 'db status'.
type dbStatusReport struct {
	Health     *db.HealthStatus    `json:"health" yaml:"health"`
	Migrations *db.MigrationStatus `json:"migrations" yaml:"migrations"`
	Meetings   int64               `json:"meetings" yaml:"meetings"`
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, out io.Writer, deps *Deps) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	report := dbStatusReport{Health: st.Health(ctx)}
	m, err := st.Migrator()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if report.Migrations, err = m.Status(ctx); err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	if len(report.Migrations.Pending) == 0 {
		if report.Meetings, err = st.Count(ctx); err != nil {
			return fmt.Errorf("counting meetings: %w", err)
		}
	}

	return outputDbStatus(out, cfg.OutputFormat, report)
}

// outputDbStatus formats and outputs database status.
func outputDbStatus(out io.Writer, format config.OutputFormat, report dbStatusReport) error {
	if ok, err := WriteStructured(out, format, report); ok {
		return err
	}

	h := report.Health
	if h.Healthy {
		fmt.Fprintf(out, "Database: %s%s%s (%s, %s)\n", colorGreen, "healthy", colorReset, h.Driver, h.Latency.Round(time.Microsecond))
	} else {
		fmt.Fprintf(out, "Database: %s%s%s (%s): %s\n", colorRed, "unhealthy", colorReset, h.Driver, h.Error)
	}
	fmt.Fprintf(out, "Meetings: %s\n\n", humanize.Comma(report.Meetings))

	status := report.Migrations
	printEntries := func(entries []db.MigrationStatusEntry, withApplied bool) {
		for _, e := range entries {
			appliedAt := "-"
			if e.AppliedAt != nil {
				appliedAt = e.AppliedAt.Format("2006-01-02 15:04:05")
			}
			if withApplied {
				fmt.Fprintf(out, "  %-10s %-33s %s\n", e.Version, truncate(e.Name, 33), appliedAt)
			} else {
				fmt.Fprintf(out, "  %-10s %s\n", e.Version, e.Name)
			}
		}
		fmt.Fprintln(out)
	}

	if len(status.Applied) > 0 {
		fmt.Fprintf(out, "%sApplied Migrations (%d):%s\n", colorGreen, len(status.Applied), colorReset)
		fmt.Fprintf(out, "  %-10s %-33s %s\n", "VERSION", "NAME", "APPLIED")
		printEntries(status.Applied, true)
	}
	if len(status.Pending) > 0 {
		fmt.Fprintf(out, "%sPending Migrations (%d):%s\n", colorYellow, len(status.Pending), colorReset)
		fmt.Fprintf(out, "  %-10s %s\n", "VERSION", "NAME")
		printEntries(status.Pending, false)
	}
	if len(status.Drift) > 0 {
		fmt.Fprintf(out, "%sDrift (%d) - applied but unknown to this binary:%s\n", colorRed, len(status.Drift), colorReset)
		fmt.Fprintf(out, "  %-10s %-33s %s\n", "VERSION", "NAME", "APPLIED")
		printEntries(status.Drift, true)
	}

	fmt.Fprintf(out, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(out, ", %s%d drift%s", colorRed, len(status.Drift), colorReset)
	}
	fmt.Fprintln(out)
	return nil
}

// runDbCleanup executes the db cleanup command.
func runDbCleanup(ctx context.Context, in io.Reader, out io.Writer, deps *Deps, flags dbCleanupFlags) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	days := flags.olderThanDays
	if days == 0 {
		days = cfg.Sync.RetentionDays
	}
	if days < 1 {
		return fmt.Errorf("--older-than-days must be at least 1: %w", cierrors.ErrValidation)
	}
	cutoff := deps.now().UTC().AddDate(0, 0, -days)

	if !flags.yes && !confirm(in, out, fmt.Sprintf("Delete meetings starting before %s?", cutoff.Format("2006-01-02"))) {
		fmt.Fprintln(out, "Cleanup cancelled.")
		return nil
	}

	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deleting old meetings: %w", err)
	}
	deps.logger().Info("retention cleanup finished", logging.F("deleted", n), logging.F("cutoff", cutoff))

	if ok, err := WriteStructured(out, cfg.OutputFormat, map[string]any{
		"deleted": n,
		"cutoff":  cutoff,
	}); ok {
		return err
	}
	fmt.Fprintf(out, "Deleted %s meeting(s) starting before %s.\n", humanize.Comma(n), cutoff.Format("2006-01-02"))
	return nil
}
