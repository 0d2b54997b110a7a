// Package store implements meetings.Repository on PostgreSQL and SQLite.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// Store is a Repository that also owns its schema and connection.
type Store interface {
	meetings.Repository

	// Driver returns config.DriverPostgres or config.DriverSQLite.
	Driver() string

	// Migrator returns the schema migrator for this database.
	Migrator() (*db.Migrator, error)

	// Health pings the database.
	Health(ctx context.Context) *db.HealthStatus
}

// Open connects to the database named by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		pool, err := db.Connect(ctx, db.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	case config.DriverSQLite:
		handle, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLite(handle), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenAndMigrate opens the database and applies pending migrations.
func OpenAndMigrate(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := s.Migrator()
	if err == nil {
		_, err = m.Up(ctx)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// insertColumns are written on every upsert, in argument order.
var insertColumns = []string{
	"event_id", "user_email", "calendar_id", "organizer_email",
	"start_time", "end_time", "duration_minutes",
	"attendees_count", "attendees_accepted", "attendees_tentative", "attendees_declined", "attendees_needs_action",
	"attendee_emails", "accepted_emails",
	"division", "department", "subdepartment", "is_manager",
	"unique_departments", "departments", "has_manager_attendee",
	"size_category", "is_one_on_one",
	"summary", "meet_link", "html_link",
}

// selectColumns adds the bookkeeping timestamps.
var selectColumns = append(slices.Clone(insertColumns), "created_at", "updated_at")

// updateColumns are every insert column except the key.
var updateColumns = insertColumns[2:]

// rowArgs returns the insert arguments for m. list encodes string slices for
// the dialect, ts encodes timestamps.
func rowArgs(m *meetings.Meeting, list func([]string) any, ts func(time.Time) any) []any {
	return []any{
		m.EventID, m.UserEmail, m.CalendarID, m.OrganizerEmail,
		ts(m.StartTime), ts(m.EndTime), m.DurationMinutes,
		m.AttendeesCount, m.AttendeesAccepted, m.AttendeesTentative, m.AttendeesDeclined, m.AttendeesNeedsAction,
		list(m.AttendeeEmails), list(m.AcceptedEmails),
		m.Division, m.Department, m.Subdepartment, m.IsManager,
		m.UniqueDepartments, list(m.Departments), m.HasManagerAttendee,
		m.SizeCategory, m.IsOneOnOne,
		m.Summary, m.MeetLink, m.HTMLLink,
	}
}

// query accumulates a WHERE clause with dialect-specific placeholders.
type query struct {
	placeholder func(n int) string
	ts          func(time.Time) any
	conds       []string
	args        []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return q.placeholder(len(q.args))
}

func (q *query) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = q.arg(v)
	}
	q.conds = append(q.conds, fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ", ")))
}

func (q *query) where(f meetings.Filter) string {
	if !f.From.IsZero() {
		q.conds = append(q.conds, "start_time >= "+q.arg(q.ts(f.From)))
	}
	if !f.To.IsZero() {
		q.conds = append(q.conds, "start_time < "+q.arg(q.ts(f.To)))
	}
	q.in("department", f.Departments)
	q.in("division", f.Divisions)
	q.in("user_email", f.Users)
	if f.OneOnOne {
		q.conds = append(q.conds, "is_one_on_one = "+q.arg(true))
	}
	if f.MinDuration > 0 {
		q.conds = append(q.conds, "duration_minutes >= "+q.arg(f.MinDuration))
	}
	if f.MaxDuration > 0 {
		q.conds = append(q.conds, "duration_minutes <= "+q.arg(f.MaxDuration))
	}
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func validDistinctColumn(column string) error {
	if !slices.Contains(meetings.DistinctColumns, column) {
		return fmt.Errorf("unsupported distinct column %q", column)
	}
	return nil
}
