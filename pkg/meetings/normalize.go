package meetings

import (
	"context"
	"slices"
	"strings"

	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// SkipReason explains why an event produced no record.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipCancelled   SkipReason = "cancelled"
	SkipMissingID   SkipReason = "missing_id"
	SkipMissingTime SkipReason = "missing_time"
	SkipInvalidTime SkipReason = "invalid_time"
)

// Normalizer converts raw events into meeting records. It never fails: bad
// events are skipped with a reason, and directory errors degrade to unknown
// org fields.
type Normalizer struct {
	dir    directory.Directory
	logger logging.Logger
}

// NewNormalizer creates a Normalizer resolving org data through dir.
func NewNormalizer(dir directory.Directory, logger logging.Logger) *Normalizer {
	if dir == nil {
		dir = directory.Nop
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Normalizer{dir: dir, logger: logger}
}

// Normalize builds the record for ev as seen from owner's calendar.
func (n *Normalizer) Normalize(ctx context.Context, owner, calendarID string, ev *calendar.Event) (*Meeting, SkipReason) {
	if ev == nil || strings.TrimSpace(ev.ID) == "" {
		return nil, SkipMissingID
	}
	if ev.Status == calendar.StatusCancelled {
		return nil, SkipCancelled
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return nil, SkipMissingTime
	}
	start, err := ev.Start.Parse()
	if err != nil {
		return nil, SkipInvalidTime
	}
	end, err := ev.End.Parse()
	if err != nil {
		return nil, SkipInvalidTime
	}
	if end.Before(start) {
		return nil, SkipInvalidTime
	}

	owner = directory.NormalizeEmail(owner)
	m := &Meeting{
		EventID:         ev.ID,
		UserEmail:       owner,
		CalendarID:      calendarID,
		OrganizerEmail:  directory.NormalizeEmail(ev.OrganizerEmail),
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		DurationMinutes: int(end.Sub(start).Minutes()),
		Summary:         strings.TrimSpace(ev.Summary),
		MeetLink:        meetLink(ev),
		HTMLLink:        ev.HTMLLink,
	}
	if m.OrganizerEmail == "" {
		m.OrganizerEmail = UnknownOrganizer
	}
	if m.Summary == "" {
		m.Summary = DefaultSummary
	}

	for _, a := range ev.Attendees {
		if a.Resource {
			continue
		}
		email := directory.NormalizeEmail(a.Email)
		m.AttendeesCount++
		if email != "" {
			m.AttendeeEmails = append(m.AttendeeEmails, email)
		}
		switch a.ResponseStatus {
		case calendar.ResponseAccepted:
			m.AttendeesAccepted++
			if email != "" {
				m.AcceptedEmails = append(m.AcceptedEmails, email)
			}
		case calendar.ResponseTentative:
			m.AttendeesTentative++
		case calendar.ResponseDeclined:
			m.AttendeesDeclined++
		default:
			m.AttendeesNeedsAction++
		}
	}
	m.SizeCategory = SizeCategory(m.AttendeesCount)
	m.IsOneOnOne = IsOneOnOne(m.AttendeesAccepted)

	ownerInfo := n.resolve(ctx, owner)
	m.Division = ownerInfo.Division
	m.Department = ownerInfo.Department
	m.Subdepartment = ownerInfo.Subdepartment
	m.IsManager = ownerInfo.IsManager

	known := map[string]struct{}{}
	if ownerInfo.Department != directory.Unknown {
		known[ownerInfo.Department] = struct{}{}
	}
	for _, email := range m.AttendeeEmails {
		if email == owner {
			continue
		}
		info := n.resolve(ctx, email)
		if info.Department != directory.Unknown {
			known[info.Department] = struct{}{}
		}
		if info.IsManager {
			m.HasManagerAttendee = true
		}
	}
	if ownerInfo.IsManager && slices.Contains(m.AttendeeEmails, owner) {
		m.HasManagerAttendee = true
	}
	for d := range known {
		m.Departments = append(m.Departments, d)
	}
	slices.Sort(m.Departments)
	if len(m.Departments) == 0 {
		m.Departments = []string{directory.Unknown}
	}
	m.UniqueDepartments = len(m.Departments)

	return m, SkipNone
}

func (n *Normalizer) resolve(ctx context.Context, email string) directory.OrgInfo {
	info, err := n.dir.Resolve(ctx, email)
	if err != nil {
		n.logger.Debug("directory lookup failed", logging.F("email", email), logging.Err(err))
		return directory.UnknownOrg(email)
	}
	return info
}

func meetLink(ev *calendar.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	for _, ep := range ev.EntryPoints {
		if ep.Type == "video" && ep.URI != "" {
			return ep.URI
		}
	}
	return ""
}
