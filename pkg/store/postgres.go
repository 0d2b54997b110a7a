package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// PostgresStore is the Repository backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connected pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the pool for metrics collection.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Driver() string { return config.DriverPostgres }

func (s *PostgresStore) Migrator() (*db.Migrator, error) { return db.NewPostgresMigrator(s.pool) }

func (s *PostgresStore) Health(ctx context.Context) *db.HealthStatus {
	return db.Check(ctx, config.DriverPostgres, s.pool)
}

func (s *PostgresStore) Close() error {
	db.Close(s.pool)
	return nil
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func pgTime(t time.Time) any { return t.UTC() }

func pgList(v []string) any {
	if v == nil {
		return []string{}
	}
	return v
}

// upsertSQL inserts a row, or updates it when any column differs. The
// RETURNING clause reports whether the row was freshly inserted; an
// unchanged row returns nothing.
var upsertSQL = func() string {
	ph := make([]string, len(insertColumns))
	for i := range insertColumns {
		ph[i] = pgPlaceholder(i + 1)
	}
	sets := make([]string, len(updateColumns))
	current := make([]string, len(updateColumns))
	incoming := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		sets[i] = c + " = EXCLUDED." + c
		current[i] = "meetings." + c
		incoming[i] = "EXCLUDED." + c
	}
	return fmt.Sprintf(`INSERT INTO meetings (%s, created_at, updated_at)
		VALUES (%s, NOW(), NOW())
		ON CONFLICT (event_id, user_email) DO UPDATE SET %s, updated_at = NOW()
		WHERE (%s) IS DISTINCT FROM (%s)
		RETURNING (xmax = 0) AS inserted`,
		strings.Join(insertColumns, ", "), strings.Join(ph, ", "), strings.Join(sets, ", "),
		strings.Join(current, ", "), strings.Join(incoming, ", "))
}()

// UpsertBatch implements meetings.Repository.
func (s *PostgresStore) UpsertBatch(ctx context.Context, batch []*meetings.Meeting) (meetings.UpsertResult, error) {
	var res meetings.UpsertResult
	batch = meetings.Dedupe(batch)
	if len(batch) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, cierrors.NewPersistenceError("upsert_batch", "beginning transaction", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	var counts meetings.UpsertResult
	for _, m := range batch {
		if err := m.Validate(); err != nil {
			return res, cierrors.NewPersistenceError("upsert_batch", "invalid record", err)
		}
		var inserted bool
		err := tx.QueryRow(ctx, upsertSQL, rowArgs(m, pgList, pgTime)...).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			counts.Unchanged++
		case err != nil:
			return res, cierrors.NewPersistenceError("upsert_batch", "writing "+m.Key().String(), err)
		case inserted:
			counts.Inserted++
		default:
			counts.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, cierrors.NewPersistenceError("upsert_batch", "committing", err)
	}
	return counts, nil
}

func scanPgMeeting(row pgx.Row) (*meetings.Meeting, error) {
	var m meetings.Meeting
	err := row.Scan(
		&m.EventID, &m.UserEmail, &m.CalendarID, &m.OrganizerEmail,
		&m.StartTime, &m.EndTime, &m.DurationMinutes,
		&m.AttendeesCount, &m.AttendeesAccepted, &m.AttendeesTentative, &m.AttendeesDeclined, &m.AttendeesNeedsAction,
		&m.AttendeeEmails, &m.AcceptedEmails,
		&m.Division, &m.Department, &m.Subdepartment, &m.IsManager,
		&m.UniqueDepartments, &m.Departments, &m.HasManagerAttendee,
		&m.SizeCategory, &m.IsOneOnOne,
		&m.Summary, &m.MeetLink, &m.HTMLLink,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.StartTime = m.StartTime.UTC()
	m.EndTime = m.EndTime.UTC()
	return &m, nil
}

// LatestStart implements meetings.Repository.
func (s *PostgresStore) LatestStart(ctx context.Context, user string) (time.Time, bool, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MAX(start_time) FROM meetings WHERE user_email = $1", user).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest start for %s: %w", user, err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// DateRange implements meetings.Repository.
func (s *PostgresStore) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var lo, hi *time.Time
	err := s.pool.QueryRow(ctx, "SELECT MIN(start_time), MAX(start_time) FROM meetings").Scan(&lo, &hi)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("meeting date range: %w", err)
	}
	if lo == nil || hi == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return lo.UTC(), hi.UTC(), true, nil
}

// DeleteOlderThan implements meetings.Repository.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM meetings WHERE start_time < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting meetings before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	return tag.RowsAffected(), nil
}

// List implements meetings.Repository.
func (s *PostgresStore) List(ctx context.Context, f meetings.Filter) ([]*meetings.Meeting, error) {
	q := &query{placeholder: pgPlaceholder, ts: pgTime}
	stmt := "SELECT " + strings.Join(selectColumns, ", ") + " FROM meetings" + q.where(f) + " ORDER BY start_time, event_id, user_email"
	if f.Limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := s.pool.Query(ctx, stmt, q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}
	defer rows.Close()

	var out []*meetings.Meeting
	for rows.Next() {
		m, err := scanPgMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count implements meetings.Repository.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM meetings").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting meetings: %w", err)
	}
	return n, nil
}

// RecordRun implements meetings.Repository.
func (s *PostgresStore) RecordRun(ctx context.Context, r *meetings.SyncRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (run_id, user_email, mode, window_start, window_end, started_at, finished_at,
			status, fetched, inserted, updated, skipped, failed_chunks, failed_batches, reached_through, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.RunID, r.UserEmail, r.Mode, r.WindowStart.UTC(), r.WindowEnd.UTC(), r.StartedAt.UTC(), r.FinishedAt.UTC(),
		string(r.Status), r.Fetched, r.Inserted, r.Updated, r.Skipped, r.FailedChunks, r.FailedBatches,
		r.ReachedThrough, r.Error)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRuns implements meetings.Repository.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*meetings.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, user_email, mode, window_start, window_end, started_at, finished_at,
			status, fetched, inserted, updated, skipped, failed_chunks, failed_batches, reached_through, error
		FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*meetings.SyncRun
	for rows.Next() {
		var r meetings.SyncRun
		var status string
		if err := rows.Scan(&r.RunID, &r.UserEmail, &r.Mode, &r.WindowStart, &r.WindowEnd, &r.StartedAt, &r.FinishedAt,
			&status, &r.Fetched, &r.Inserted, &r.Updated, &r.Skipped, &r.FailedChunks, &r.FailedBatches,
			&r.ReachedThrough, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = meetings.RunStatus(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DistinctValues implements meetings.Repository.
func (s *PostgresStore) DistinctValues(ctx context.Context, column string) ([]string, error) {
	if err := validDistinctColumn(column); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT %[1]s FROM meetings WHERE %[1]s <> '' ORDER BY %[1]s", column))
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
