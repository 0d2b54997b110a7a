package syncer

import (
	"time"

	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// maxNotedErrors caps the error messages kept per user.
const maxNotedErrors = 5

// UserResult is the outcome of syncing one user.
type UserResult struct {
	User            string                      `json:"user" yaml:"user"`
	Window          calendar.Window             `json:"window" yaml:"window"`
	Status          meetings.RunStatus          `json:"status" yaml:"status"`
	TotalChunks     int                         `json:"total_chunks" yaml:"total_chunks"`
	CompletedChunks int                         `json:"completed_chunks" yaml:"completed_chunks"`
	Fetched         int                         `json:"fetched" yaml:"fetched"`
	Inserted        int                         `json:"inserted" yaml:"inserted"`
	Updated         int                         `json:"updated" yaml:"updated"`
	Unchanged       int                         `json:"unchanged" yaml:"unchanged"`
	Skipped         int                         `json:"skipped" yaml:"skipped"`
	SkippedByReason map[meetings.SkipReason]int `json:"skipped_by_reason,omitempty" yaml:"skipped_by_reason,omitempty"`
	FailedChunks    int                         `json:"failed_chunks" yaml:"failed_chunks"`
	FailedBatches   int                         `json:"failed_batches" yaml:"failed_batches"`
	// ReachedThrough is the end of the last chunk in the unbroken run of
	// clean chunks from the window start. Nil when the first chunk failed.
	ReachedThrough *time.Time `json:"reached_through,omitempty" yaml:"reached_through,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`

	errs []string
	// committedBatches counts batches written, including those of chunks
	// that did not complete cleanly.
	committedBatches int
}

func (r *UserResult) noteError(msg string) {
	if len(r.errs) < maxNotedErrors {
		r.errs = append(r.errs, msg)
	}
}

func (r *UserResult) finalize(err error) {
	if err != nil {
		r.noteError(err.Error())
	}
	if len(r.errs) > 0 {
		r.Error = joinErrors(r.errs)
	}
	switch {
	case err != nil:
		r.Status = meetings.RunFailed
	case r.FailedChunks == 0 && r.FailedBatches == 0:
		r.Status = meetings.RunSuccess
	case r.CompletedChunks == 0 && r.committedBatches == 0:
		r.Status = meetings.RunFailed
	default:
		r.Status = meetings.RunPartial
	}
}

func joinErrors(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}

// Summary is the outcome of one Run.
type Summary struct {
	RunID           string                      `json:"run_id" yaml:"run_id"`
	Mode            Mode                        `json:"mode" yaml:"mode"`
	Status          meetings.RunStatus          `json:"status" yaml:"status"`
	StartedAt       time.Time                   `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time                   `json:"finished_at" yaml:"finished_at"`
	Users           []*UserResult               `json:"users" yaml:"users"`
	Fetched         int                         `json:"fetched" yaml:"fetched"`
	Inserted        int                         `json:"inserted" yaml:"inserted"`
	Updated         int                         `json:"updated" yaml:"updated"`
	Unchanged       int                         `json:"unchanged" yaml:"unchanged"`
	Skipped         int                         `json:"skipped" yaml:"skipped"`
	SkippedByReason map[meetings.SkipReason]int `json:"skipped_by_reason" yaml:"skipped_by_reason"`
	FailedChunks    int                         `json:"failed_chunks" yaml:"failed_chunks"`
	FailedBatches   int                         `json:"failed_batches" yaml:"failed_batches"`
	// ReachedThrough is the earliest per-user reached-through time, nil if
	// any user made no contiguous progress.
	ReachedThrough *time.Time `json:"reached_through,omitempty" yaml:"reached_through,omitempty"`
	Aborted        bool       `json:"aborted" yaml:"aborted"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s *Summary) add(r *UserResult) {
	if r == nil {
		return
	}
	s.Users = append(s.Users, r)
	s.Fetched += r.Fetched
	s.Inserted += r.Inserted
	s.Updated += r.Updated
	s.Unchanged += r.Unchanged
	s.Skipped += r.Skipped
	for reason, n := range r.SkippedByReason {
		s.SkippedByReason[reason] += n
	}
	s.FailedChunks += r.FailedChunks
	s.FailedBatches += r.FailedBatches
}

func (s *Summary) finalize(runErr error) {
	var success, failed int
	reachedAll := len(s.Users) > 0
	for _, u := range s.Users {
		switch u.Status {
		case meetings.RunSuccess:
			success++
		case meetings.RunFailed:
			failed++
		}
		if u.ReachedThrough == nil {
			reachedAll = false
		} else if s.ReachedThrough == nil || u.ReachedThrough.Before(*s.ReachedThrough) {
			t := *u.ReachedThrough
			s.ReachedThrough = &t
		}
	}
	if !reachedAll {
		s.ReachedThrough = nil
	}

	switch {
	case runErr != nil:
		s.Status = meetings.RunFailed
		s.Aborted = true
		s.Error = runErr.Error()
	case success == len(s.Users):
		s.Status = meetings.RunSuccess
	case failed == len(s.Users):
		s.Status = meetings.RunFailed
		s.Error = s.userErrors()
	default:
		s.Status = meetings.RunPartial
	}
}

// userErrors joins the errors of the users that did not succeed.
func (s *Summary) userErrors() string {
	var errs []string
	for _, u := range s.Users {
		if u.Error != "" {
			errs = append(errs, u.User+": "+u.Error)
		}
	}
	if len(errs) == 0 {
		return ""
	}
	return joinErrors(errs)
}
