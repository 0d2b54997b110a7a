package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// sqliteTime is a fixed-width UTC layout so timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000Z"

// SQLiteStore is the single-node Repository backed by modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps an open SQLite handle.
func NewSQLite(handle *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: handle, now: time.Now}
}

func (s *SQLiteStore) Driver() string { return config.DriverSQLite }

func (s *SQLiteStore) Migrator() (*db.Migrator, error) { return db.NewSQLiteMigrator(s.db) }

func (s *SQLiteStore) Health(ctx context.Context) *db.HealthStatus {
	return db.Check(ctx, config.DriverSQLite, db.SQLPinger{DB: s.db})
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeTime(t time.Time) any { return t.UTC().Format(sqliteTime) }

func encodeList(v []string) any {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeTime(s string) (time.Time, error) {
	if t, err := time.Parse(sqliteTime, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func sqlitePlaceholder(int) string { return "?" }

// UpsertBatch implements meetings.Repository. Each row is compared with the
// stored version inside the transaction to tell inserts, updates and
// unchanged rows apart.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, batch []*meetings.Meeting) (meetings.UpsertResult, error) {
	var res meetings.UpsertResult
	batch = meetings.Dedupe(batch)
	if len(batch) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, cierrors.NewPersistenceError("upsert_batch", "beginning transaction", err)
	}
	defer tx.Rollback() // nolint: errcheck

	selectSQL := "SELECT " + strings.Join(selectColumns, ", ") + " FROM meetings WHERE event_id = ? AND user_email = ?"
	insertSQL := fmt.Sprintf("INSERT INTO meetings (%s, created_at, updated_at) VALUES (%s, ?, ?)",
		strings.Join(insertColumns, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(insertColumns)), ", "))
	sets := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		sets[i] = c + " = ?"
	}
	updateSQL := "UPDATE meetings SET " + strings.Join(sets, ", ") + ", updated_at = ? WHERE event_id = ? AND user_email = ?"

	now := encodeTime(s.now())
	var counts meetings.UpsertResult
	for _, m := range batch {
		if err := m.Validate(); err != nil {
			return res, cierrors.NewPersistenceError("upsert_batch", "invalid record", err)
		}
		existing, err := scanSQLiteMeeting(tx.QueryRowContext(ctx, selectSQL, m.EventID, m.UserEmail))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			args := append(rowArgs(m, encodeList, encodeTime), now, now)
			if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
				return res, cierrors.NewPersistenceError("upsert_batch", "inserting "+m.Key().String(), err)
			}
			counts.Inserted++
		case err != nil:
			return res, cierrors.NewPersistenceError("upsert_batch", "reading "+m.Key().String(), err)
		case meetings.ContentEqual(existing, m):
			counts.Unchanged++
		default:
			args := rowArgs(m, encodeList, encodeTime)[2:]
			args = append(args, now, m.EventID, m.UserEmail)
			if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
				return res, cierrors.NewPersistenceError("upsert_batch", "updating "+m.Key().String(), err)
			}
			counts.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, cierrors.NewPersistenceError("upsert_batch", "committing", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMeeting(row rowScanner) (*meetings.Meeting, error) {
	var m meetings.Meeting
	var start, end, created, updated string
	var attendees, accepted, departments string
	err := row.Scan(
		&m.EventID, &m.UserEmail, &m.CalendarID, &m.OrganizerEmail,
		&start, &end, &m.DurationMinutes,
		&m.AttendeesCount, &m.AttendeesAccepted, &m.AttendeesTentative, &m.AttendeesDeclined, &m.AttendeesNeedsAction,
		&attendees, &accepted,
		&m.Division, &m.Department, &m.Subdepartment, &m.IsManager,
		&m.UniqueDepartments, &departments, &m.HasManagerAttendee,
		&m.SizeCategory, &m.IsOneOnOne,
		&m.Summary, &m.MeetLink, &m.HTMLLink,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	for _, p := range []struct {
		raw string
		dst *time.Time
	}{{start, &m.StartTime}, {end, &m.EndTime}, {created, &m.CreatedAt}, {updated, &m.UpdatedAt}} {
		if *p.dst, err = decodeTime(p.raw); err != nil {
			return nil, fmt.Errorf("decoding timestamp %q: %w", p.raw, err)
		}
	}
	for _, p := range []struct {
		raw string
		dst *[]string
	}{{attendees, &m.AttendeeEmails}, {accepted, &m.AcceptedEmails}, {departments, &m.Departments}} {
		if err := json.Unmarshal([]byte(p.raw), p.dst); err != nil {
			return nil, fmt.Errorf("decoding list %q: %w", p.raw, err)
		}
	}
	return &m, nil
}

// LatestStart implements meetings.Repository.
func (s *SQLiteStore) LatestStart(ctx context.Context, user string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT start_time FROM meetings WHERE user_email = ? ORDER BY start_time DESC LIMIT 1", user,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest start for %s: %w", user, err)
	}
	t, err := decodeTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// DateRange implements meetings.Repository.
func (s *SQLiteStore) DateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var lo, hi sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MIN(start_time), MAX(start_time) FROM meetings").Scan(&lo, &hi)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("meeting date range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	first, err := decodeTime(lo.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	last, err := decodeTime(hi.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return first, last, true, nil
}

// DeleteOlderThan implements meetings.Repository.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM meetings WHERE start_time < ?", encodeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting meetings before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	return res.RowsAffected()
}

// List implements meetings.Repository.
func (s *SQLiteStore) List(ctx context.Context, f meetings.Filter) ([]*meetings.Meeting, error) {
	q := &query{placeholder: sqlitePlaceholder, ts: encodeTime}
	stmt := "SELECT " + strings.Join(selectColumns, ", ") + " FROM meetings" + q.where(f) + " ORDER BY start_time, event_id, user_email"
	if f.Limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}
	defer rows.Close()

	var out []*meetings.Meeting
	for rows.Next() {
		m, err := scanSQLiteMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count implements meetings.Repository.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting meetings: %w", err)
	}
	return n, nil
}

// RecordRun implements meetings.Repository.
func (s *SQLiteStore) RecordRun(ctx context.Context, r *meetings.SyncRun) error {
	var reached any
	if r.ReachedThrough != nil {
		reached = encodeTime(*r.ReachedThrough)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, user_email, mode, window_start, window_end, started_at, finished_at,
			status, fetched, inserted, updated, skipped, failed_chunks, failed_batches, reached_through, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.UserEmail, r.Mode, encodeTime(r.WindowStart), encodeTime(r.WindowEnd),
		encodeTime(r.StartedAt), encodeTime(r.FinishedAt), string(r.Status),
		r.Fetched, r.Inserted, r.Updated, r.Skipped, r.FailedChunks, r.FailedBatches, reached, r.Error)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRuns implements meetings.Repository.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*meetings.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, user_email, mode, window_start, window_end, started_at, finished_at,
			status, fetched, inserted, updated, skipped, failed_chunks, failed_batches, reached_through, error
		FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*meetings.SyncRun
	for rows.Next() {
		var r meetings.SyncRun
		var status, ws, we, started, finished string
		var reached sql.NullString
		if err := rows.Scan(&r.RunID, &r.UserEmail, &r.Mode, &ws, &we, &started, &finished,
			&status, &r.Fetched, &r.Inserted, &r.Updated, &r.Skipped, &r.FailedChunks, &r.FailedBatches,
			&reached, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = meetings.RunStatus(status)
		for _, f := range []struct {
			dst *time.Time
			src string
		}{{&r.WindowStart, ws}, {&r.WindowEnd, we}, {&r.StartedAt, started}, {&r.FinishedAt, finished}} {
			t, err := decodeTime(f.src)
			if err != nil {
				return nil, fmt.Errorf("decoding run %s: %w", r.RunID, err)
			}
			*f.dst = t
		}
		if reached.Valid {
			t, err := decodeTime(reached.String)
			if err != nil {
				return nil, fmt.Errorf("decoding run %s: %w", r.RunID, err)
			}
			r.ReachedThrough = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DistinctValues implements meetings.Repository.
func (s *SQLiteStore) DistinctValues(ctx context.Context, column string) ([]string, error) {
	if err := validDistinctColumn(column); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
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
