// Package meetings defines the normalized meeting record, the rules that turn
// raw calendar events into records, and the repository contract the stores
// implement.
package meetings

import (
	"fmt"
	"slices"
	"time"
)

// UnknownOrganizer is stored when an event has no organizer.
const UnknownOrganizer = "unknown@unknown"

// DefaultSummary is stored when an event has no title.
const DefaultSummary = "No Title"

// Size categories, keyed on the total number of invited attendees.
const (
	SizeOneOnOne  = "1-on-1"
	SizeSmall     = "Small (3-5)"
	SizeMedium    = "Medium (6-10)"
	SizeLarge     = "Large (11-20)"
	SizeVeryLarge = "Very Large (21+)"
)

// SizeCategories lists the categories from smallest to largest.
var SizeCategories = []string{SizeOneOnOne, SizeSmall, SizeMedium, SizeLarge, SizeVeryLarge}

// SizeCategory buckets an attendee count: 0-2, 3-5, 6-10, 11-20, 21+.
func SizeCategory(attendees int) string {
	switch {
	case attendees <= 2:
		return SizeOneOnOne
	case attendees <= 5:
		return SizeSmall
	case attendees <= 10:
		return SizeMedium
	case attendees <= 20:
		return SizeLarge
	default:
		return SizeVeryLarge
	}
}

// IsOneOnOne reports whether exactly two attendees accepted.
func IsOneOnOne(accepted int) bool {
	return accepted == 2
}

// Key identifies a meeting row.
type Key struct {
	EventID   string
	UserEmail string
}

func (k Key) String() string {
	return k.EventID + "/" + k.UserEmail
}

// Meeting is one calendar event as seen from one owning user's calendar.
type Meeting struct {
	EventID        string `json:"event_id" yaml:"event_id"`
	UserEmail      string `json:"user_email" yaml:"user_email"`
	CalendarID     string `json:"calendar_id" yaml:"calendar_id"`
	OrganizerEmail string `json:"organizer_email" yaml:"organizer_email"`

	StartTime       time.Time `json:"start_time" yaml:"start_time"`
	EndTime         time.Time `json:"end_time" yaml:"end_time"`
	DurationMinutes int       `json:"duration_minutes" yaml:"duration_minutes"`

	AttendeesCount       int      `json:"attendees_count" yaml:"attendees_count"`
	AttendeesAccepted    int      `json:"attendees_accepted" yaml:"attendees_accepted"`
	AttendeesTentative   int      `json:"attendees_tentative" yaml:"attendees_tentative"`
	AttendeesDeclined    int      `json:"attendees_declined" yaml:"attendees_declined"`
	AttendeesNeedsAction int      `json:"attendees_needs_action" yaml:"attendees_needs_action"`
	AttendeeEmails       []string `json:"attendee_emails" yaml:"attendee_emails"`
	AcceptedEmails       []string `json:"accepted_emails" yaml:"accepted_emails"`

	Division           string   `json:"division" yaml:"division"`
	Department         string   `json:"department" yaml:"department"`
	Subdepartment      string   `json:"subdepartment" yaml:"subdepartment"`
	IsManager          bool     `json:"is_manager" yaml:"is_manager"`
	UniqueDepartments  int      `json:"unique_departments" yaml:"unique_departments"`
	Departments        []string `json:"departments" yaml:"departments"`
	HasManagerAttendee bool     `json:"has_manager_attendee" yaml:"has_manager_attendee"`

	SizeCategory string `json:"size_category" yaml:"size_category"`
	IsOneOnOne   bool   `json:"is_one_on_one" yaml:"is_one_on_one"`

	Summary  string `json:"summary" yaml:"summary"`
	MeetLink string `json:"meet_link,omitempty" yaml:"meet_link,omitempty"`
	HTMLLink string `json:"html_link,omitempty" yaml:"html_link,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Key returns the unique key of m.
func (m *Meeting) Key() Key {
	return Key{EventID: m.EventID, UserEmail: m.UserEmail}
}

// Hours returns the duration in hours.
func (m *Meeting) Hours() float64 {
	return float64(m.DurationMinutes) / 60
}

// Validate checks the record invariants.
func (m *Meeting) Validate() error {
	switch {
	case m.EventID == "":
		return fmt.Errorf("meeting has no event id")
	case m.UserEmail == "":
		return fmt.Errorf("meeting %s has no user", m.EventID)
	case m.EndTime.Before(m.StartTime):
		return fmt.Errorf("meeting %s ends before it starts", m.Key())
	case m.DurationMinutes < 0:
		return fmt.Errorf("meeting %s has negative duration", m.Key())
	}
	counts := []int{m.AttendeesCount, m.AttendeesAccepted, m.AttendeesTentative, m.AttendeesDeclined, m.AttendeesNeedsAction}
	for _, c := range counts {
		if c < 0 {
			return fmt.Errorf("meeting %s has a negative attendee count", m.Key())
		}
	}
	if m.AttendeesAccepted+m.AttendeesTentative+m.AttendeesDeclined+m.AttendeesNeedsAction != m.AttendeesCount {
		return fmt.Errorf("meeting %s response counts do not sum to %d", m.Key(), m.AttendeesCount)
	}
	return nil
}

// ContentEqual reports whether a and b carry the same data, ignoring the
// bookkeeping timestamps. Stores use it to detect unchanged rows.
func ContentEqual(a, b *Meeting) bool {
	return a.EventID == b.EventID &&
		a.UserEmail == b.UserEmail &&
		a.CalendarID == b.CalendarID &&
		a.OrganizerEmail == b.OrganizerEmail &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime) &&
		a.DurationMinutes == b.DurationMinutes &&
		a.AttendeesCount == b.AttendeesCount &&
		a.AttendeesAccepted == b.AttendeesAccepted &&
		a.AttendeesTentative == b.AttendeesTentative &&
		a.AttendeesDeclined == b.AttendeesDeclined &&
		a.AttendeesNeedsAction == b.AttendeesNeedsAction &&
		equalStrings(a.AttendeeEmails, b.AttendeeEmails) &&
		equalStrings(a.AcceptedEmails, b.AcceptedEmails) &&
		a.Division == b.Division &&
		a.Department == b.Department &&
		a.Subdepartment == b.Subdepartment &&
		a.IsManager == b.IsManager &&
		a.UniqueDepartments == b.UniqueDepartments &&
		equalStrings(a.Departments, b.Departments) &&
		a.HasManagerAttendee == b.HasManagerAttendee &&
		a.SizeCategory == b.SizeCategory &&
		a.IsOneOnOne == b.IsOneOnOne &&
		a.Summary == b.Summary &&
		a.MeetLink == b.MeetLink &&
		a.HTMLLink == b.HTMLLink
}

// equalStrings treats nil and empty as equal.
func equalStrings(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}
