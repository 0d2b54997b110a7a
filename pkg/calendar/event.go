// Package calendar fetches raw calendar events for a user and time window.
//
// Sources return a lazy sequence of *Event values; pagination, per-call
// timeouts and retries happen inside the source. Failures are reported as
// categorized errors from pkg/errors (authorization, transient, permanent).
package calendar

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Event statuses reported by the Calendar API.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

// Attendee response statuses.
const (
	ResponseAccepted    = "accepted"
	ResponseTentative   = "tentative"
	ResponseDeclined    = "declined"
	ResponseNeedsAction = "needsAction"
)

// EventTime is either a timestamp (DateTime, RFC3339) or an all-day date (Date, YYYY-MM-DD).
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// IsZero reports whether neither field is set.
func (t *EventTime) IsZero() bool {
	return t == nil || (t.DateTime == "" && t.Date == "")
}

// Parse returns the instant described by t. All-day dates resolve to midnight UTC.
func (t *EventTime) Parse() (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("empty event time")
	}
	if t.DateTime != "" {
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse dateTime %q: %w", t.DateTime, err)
		}
		return ts, nil
	}
	ts, err := time.ParseInLocation("2006-01-02", t.Date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", t.Date, err)
	}
	return ts, nil
}

// Attendee is an invitee of an event.
type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	// Resource marks rooms and equipment.
	Resource  bool `json:"resource,omitempty"`
	Organizer bool `json:"organizer,omitempty"`
}

// EntryPoint is a conference entry point such as a video link.
type EntryPoint struct {
	Type string `json:"entryPointType"`
	URI  string `json:"uri"`
}

// Event is a provider-neutral raw calendar event.
type Event struct {
	ID             string       `json:"id"`
	Status         string       `json:"status,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Start          *EventTime   `json:"start,omitempty"`
	End            *EventTime   `json:"end,omitempty"`
	OrganizerEmail string       `json:"organizerEmail,omitempty"`
	Attendees      []Attendee   `json:"attendees,omitempty"`
	HangoutLink    string       `json:"hangoutLink,omitempty"`
	HTMLLink       string       `json:"htmlLink,omitempty"`
	EntryPoints    []EntryPoint `json:"entryPoints,omitempty"`
}

// Window is a half-open [Start, End) range.
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

func (w Window) String() string {
	return w.Start.UTC().Format(time.RFC3339) + ".." + w.End.UTC().Format(time.RFC3339)
}

// Split divides w into consecutive windows of at most size, oldest first.
func (w Window) Split(size time.Duration) []Window {
	if !w.Valid() {
		return nil
	}
	if size <= 0 {
		return []Window{w}
	}
	var out []Window
	for start := w.Start; start.Before(w.End); start = start.Add(size) {
		end := start.Add(size)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// Source yields the raw events of one user's calendar within a window.
// A non-nil error ends the sequence.
type Source interface {
	Events(ctx context.Context, user string, w Window) iter.Seq2[*Event, error]
}
