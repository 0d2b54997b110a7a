package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

type statsFlags struct {
	from        string
	to          string
	days        int
	departments []string
	divisions   []string
	users       []string
	oneOnOne    bool
	top         int
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(deps *Deps) *cobra.Command {
	var flags statsFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show meeting statistics",
		Long: `Show the dashboard figures for the stored meetings: overview, efficiency
score, department breakdown, top participants and size distribution.

Without date flags every stored meeting is included. --to is inclusive.`,
		Example: `  calinsight stats --days 30
  calinsight stats --from 2024-01-01 --to 2024-03-31 --department Engineering
  calinsight stats --user ana@example.com -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.filter(deps.now())
			if err != nil {
				return err
			}
			return runStats(cmd.Context(), cmd.OutOrStdout(), deps, f, flags.top)
		},
	}

	cmd.Flags().StringVar(&flags.from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "End date, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.days, "days", 0, "Only the last N days")
	cmd.Flags().StringSliceVar(&flags.departments, "department", nil, "Department filter (repeatable)")
	cmd.Flags().StringSliceVar(&flags.divisions, "division", nil, "Division filter (repeatable)")
	cmd.Flags().StringSliceVarP(&flags.users, "user", "u", nil, "User filter (repeatable)")
	cmd.Flags().BoolVar(&flags.oneOnOne, "one-on-one", false, "Only one-on-one meetings")
	cmd.Flags().IntVar(&flags.top, "top", analytics.DefaultTopParticipants, "Number of top participants to show")

	return cmd
}

func (f statsFlags) filter(now time.Time) (meetings.Filter, error) {
	out := meetings.Filter{
		Departments: f.departments,
		Divisions:   f.divisions,
		OneOnOne:    f.oneOnOne,
	}
	for _, u := range f.users {
		out.Users = append(out.Users, directory.NormalizeEmail(u))
	}

	if f.days > 0 && (f.from != "" || f.to != "") {
		return meetings.Filter{}, fmt.Errorf("--days cannot be combined with --from/--to: %w", cierrors.ErrValidation)
	}
	if f.days < 0 {
		return meetings.Filter{}, fmt.Errorf("--days must not be negative: %w", cierrors.ErrValidation)
	}
	if f.days > 0 {
		out.From = now.UTC().AddDate(0, 0, -f.days)
	}
	if f.from != "" {
		t, err := parseDay(f.from)
		if err != nil {
			return meetings.Filter{}, err
		}
		out.From = t
	}
	if f.to != "" {
		t, err := parseDay(f.to)
		if err != nil {
			return meetings.Filter{}, err
		}
		out.To = t.Add(24 * time.Hour)
	}
	if !out.From.IsZero() && !out.To.IsZero() && !out.To.After(out.From) {
		return meetings.Filter{}, fmt.Errorf("--to is before --from: %w", cierrors.ErrValidation)
	}
	return out, nil
}

// statsReport is the structured form of the stats command.
type statsReport struct {
	Filter       meetings.Filter             `json:"filter" yaml:"filter"`
	Overview     analytics.Overview          `json:"overview" yaml:"overview"`
	Efficiency   analytics.Efficiency        `json:"efficiency" yaml:"efficiency"`
	Departments  []analytics.DepartmentStat  `json:"departments" yaml:"departments"`
	Participants []analytics.ParticipantStat `json:"participants" yaml:"participants"`
	Sizes        []analytics.SizeBucket      `json:"sizes" yaml:"sizes"`
}

func runStats(ctx context.Context, out io.Writer, deps *Deps, f meetings.Filter, top int) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := analytics.NewService(st, analytics.WithLogger(deps.logger()))
	report := statsReport{Filter: f}
	if report.Overview, err = svc.Overview(ctx, f); err != nil {
		return err
	}
	if report.Efficiency, err = svc.Efficiency(ctx, f); err != nil {
		return err
	}
	if report.Departments, err = svc.DepartmentBreakdown(ctx, f); err != nil {
		return err
	}
	if report.Participants, err = svc.TopParticipants(ctx, f, top); err != nil {
		return err
	}
	if report.Sizes, err = svc.SizeDistribution(ctx, f); err != nil {
		return err
	}

	return outputStats(out, cfg.OutputFormat, report)
}

func outputStats(w io.Writer, format config.OutputFormat, r statsReport) error {
	if ok, err := WriteStructured(w, format, r); ok {
		return err
	}

	o := r.Overview
	if o.TotalMeetings == 0 {
		fmt.Fprintln(w, "No meetings match the filter.")
		return nil
	}

	fmt.Fprintf(w, "%sOverview%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "  Meetings:        %s\n", humanize.Comma(int64(o.TotalMeetings)))
	fmt.Fprintf(w, "  Hours:           %s\n", humanize.FormatFloat("#,###.#", o.TotalHours))
	fmt.Fprintf(w, "  Avg duration:    %.1f min\n", o.AvgDurationMinutes)
	fmt.Fprintf(w, "  Avg attendees:   %.1f\n", o.AvgAttendees)
	fmt.Fprintf(w, "  One-on-ones:     %d (%.1f%%)\n", o.OneOnOneCount, o.OneOnOnePercent)
	fmt.Fprintf(w, "  Users:           %d\n", o.UniqueUsers)
	fmt.Fprintf(w, "  Acceptance rate: %.1f%%\n", o.AcceptanceRate)
	fmt.Fprintln(w)

	e := r.Efficiency
	scoreColor := colorGreen
	switch {
	case e.Score < 60:
		scoreColor = colorRed
	case e.Score < 80:
		scoreColor = colorYellow
	}
	fmt.Fprintf(w, "%sEfficiency%s %s%d/100%s\n", colorBold, colorReset, scoreColor, e.Score, colorReset)
	fmt.Fprintf(w, "  Short (<%dm): %d   Medium: %d   Long (>%dm): %d (%.1f%%)\n",
		analytics.ShortMeetingMinutes, e.ShortMeetings, e.MediumMeetings,
		analytics.LongMeetingMinutes, e.LongMeetings, e.LongPercent)
	for _, finding := range e.Findings {
		fmt.Fprintf(w, "  - %s\n", finding)
	}
	fmt.Fprintln(w)

	if len(r.Departments) > 0 {
		fmt.Fprintf(w, "%sDepartments%s\n", colorBold, colorReset)
		fmt.Fprintf(w, "  %-24s %8s %8s %8s %6s %6s\n", "DEPARTMENT", "MEETINGS", "HOURS", "AVG MIN", "1:1", "USERS")
		for _, d := range r.Departments {
			fmt.Fprintf(w, "  %-24s %8d %8.1f %8.1f %6d %6d\n",
				truncate(d.Department, 24), d.Meetings, d.Hours, d.AvgDurationMinutes, d.OneOnOnes, d.Users)
		}
		fmt.Fprintln(w)
	}

	if len(r.Participants) > 0 {
		fmt.Fprintf(w, "%sTop participants%s\n", colorBold, colorReset)
		fmt.Fprintf(w, "  %-32s %-18s %8s %8s %6s\n", "USER", "DEPARTMENT", "MEETINGS", "HOURS", "1:1")
		for _, p := range r.Participants {
			fmt.Fprintf(w, "  %-32s %-18s %8d %8.1f %6d\n",
				truncate(p.UserEmail, 32), truncate(p.Department, 18), p.Meetings, p.Hours, p.OneOnOnes)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%sMeeting sizes%s\n", colorBold, colorReset)
	for _, s := range r.Sizes {
		bar := strings.Repeat("█", int(s.Percent/5))
		fmt.Fprintf(w, "  %-18s %6d %5.1f%% %s\n", s.Category, s.Meetings, s.Percent, bar)
	}
	return nil
}
