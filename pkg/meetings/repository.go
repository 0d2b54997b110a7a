package meetings

import (
	"context"
	"slices"
	"time"
)

// Filter narrows the meetings returned by Repository.List. Zero values match everything.
type Filter struct {
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
	Departments []string  `json:"departments,omitempty"`
	Divisions   []string  `json:"divisions,omitempty"`
	Users       []string  `json:"users,omitempty"`
	OneOnOne    bool      `json:"one_on_one,omitempty"`
	MinDuration int       `json:"min_duration,omitempty"`
	MaxDuration int       `json:"max_duration,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// Match applies f to a single record. Stores use it where the predicate is
// not pushed down to SQL; Limit is not considered.
func (f Filter) Match(m *Meeting) bool {
	if !f.From.IsZero() && m.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.StartTime.Before(f.To) {
		return false
	}
	if len(f.Departments) > 0 && !slices.Contains(f.Departments, m.Department) {
		return false
	}
	if len(f.Divisions) > 0 && !slices.Contains(f.Divisions, m.Division) {
		return false
	}
	if len(f.Users) > 0 && !slices.Contains(f.Users, m.UserEmail) {
		return false
	}
	if f.OneOnOne && !m.IsOneOnOne {
		return false
	}
	if f.MinDuration > 0 && m.DurationMinutes < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && m.DurationMinutes > f.MaxDuration {
		return false
	}
	return true
}

// UpsertResult counts the outcome of one batch.
type UpsertResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Add accumulates o into r.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
}

// Dedupe collapses duplicate keys in batch, keeping the last occurrence in
// its original position.
func Dedupe(batch []*Meeting) []*Meeting {
	last := make(map[Key]int, len(batch))
	for i, m := range batch {
		last[m.Key()] = i
	}
	if len(last) == len(batch) {
		return batch
	}
	out := make([]*Meeting, 0, len(last))
	for i, m := range batch {
		if last[m.Key()] == i {
			out = append(out, m)
		}
	}
	return out
}

// RunStatus is the outcome of a sync run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// SyncRun is the persisted record of one sync invocation for one user.
type SyncRun struct {
	RunID          string     `json:"run_id" yaml:"run_id"`
	UserEmail      string     `json:"user_email" yaml:"user_email"`
	Mode           string     `json:"mode" yaml:"mode"`
	WindowStart    time.Time  `json:"window_start" yaml:"window_start"`
	WindowEnd      time.Time  `json:"window_end" yaml:"window_end"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time  `json:"finished_at" yaml:"finished_at"`
	Status         RunStatus  `json:"status" yaml:"status"`
	Fetched        int        `json:"fetched" yaml:"fetched"`
	Inserted       int        `json:"inserted" yaml:"inserted"`
	Updated        int        `json:"updated" yaml:"updated"`
	Skipped        int        `json:"skipped" yaml:"skipped"`
	FailedChunks   int        `json:"failed_chunks" yaml:"failed_chunks"`
	FailedBatches  int        `json:"failed_batches" yaml:"failed_batches"`
	ReachedThrough *time.Time `json:"reached_through,omitempty" yaml:"reached_through,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Repository persists meeting records. Implementations must make UpsertBatch
// atomic: either every row of the batch is written or none is.
type Repository interface {
	// UpsertBatch inserts or updates the batch keyed on (event_id, user_email).
	// Failures are returned as persistence errors.
	UpsertBatch(ctx context.Context, batch []*Meeting) (UpsertResult, error)

	// LatestStart returns the newest stored start time for user, or ok=false.
	LatestStart(ctx context.Context, user string) (t time.Time, ok bool, err error)

	// DateRange returns the earliest and latest stored start times, or ok=false
	// when the table is empty.
	DateRange(ctx context.Context) (first, last time.Time, ok bool, err error)

	// DeleteOlderThan removes meetings starting before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// List returns meetings matching f ordered by start time.
	List(ctx context.Context, f Filter) ([]*Meeting, error)

	// Count returns the number of stored meetings.
	Count(ctx context.Context) (int64, error)

	// RecordRun stores a sync run record.
	RecordRun(ctx context.Context, run *SyncRun) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	// DistinctValues returns the sorted distinct non-empty values of column,
	// which must be one of "department", "division" or "user_email".
	DistinctValues(ctx context.Context, column string) ([]string, error)

	Close() error
}

// DistinctColumns are the columns accepted by Repository.DistinctValues.
var DistinctColumns = []string{"department", "division", "user_email"}
