// Package seed generates synthetic users and calendar events for demos and
// local development. The output is fully determined by Options, so the same
// seed and reference time always produce the same event IDs and rows.
package seed

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
)

// Defaults used by the db seed command.
const (
	DefaultUsers          = 100
	DefaultDays           = 90
	DefaultMeetingsPerDay = 50
	DefaultDomain         = "example.com"
)

// Options controls the generated data set.
type Options struct {
	Users          int
	Days           int
	MeetingsPerDay int
	Seed           uint64
	// Now anchors the history: events fall on the Days days before Now's date.
	Now    time.Time
	Domain string
}

// Validate checks that the options describe a non-empty data set.
func (o Options) Validate() error {
	switch {
	case o.Users < 2:
		return fmt.Errorf("at least 2 users are needed: %w", cierrors.ErrValidation)
	case o.Days < 1:
		return fmt.Errorf("days must be at least 1: %w", cierrors.ErrValidation)
	case o.MeetingsPerDay < 1:
		return fmt.Errorf("meetings per day must be at least 1: %w", cierrors.ErrValidation)
	}
	return nil
}

// OwnedEvent is a raw event together with the calendar owner it is stored for.
type OwnedEvent struct {
	Owner string
	Event *calendar.Event
}

type department struct {
	name, division string
	subs           []string
}

var departments = []department{
	{"Engineering", "Technology", []string{"Backend", "Frontend", "DevOps", "Mobile", "Platform", "QA"}},
	{"Product", "Technology", []string{"Growth", "Core", "Platform", "Analytics"}},
	{"Design", "Technology", []string{"UX", "UI", "Research", "Brand"}},
	{"Security", "Technology", []string{"InfoSec", "Compliance", "Risk"}},
	{"Data Science", "Technology", []string{"Analytics", "ML", "Data Engineering"}},
	{"Marketing", "Growth", []string{"Digital", "Content", "Growth", "Brand"}},
	{"Sales", "Growth", []string{"Enterprise", "SMB", "Inside Sales", "Solutions"}},
	{"Customer Success", "Growth", []string{"Support", "Onboarding", "Account Management"}},
	{"HR", "Operations", []string{"Talent", "People Ops", "Learning"}},
	{"Finance", "Operations", []string{"Accounting", "FP&A", "Treasury"}},
	{"Legal", "Operations", []string{"Corporate", "Compliance", "IP"}},
	{"Operations", "Operations", []string{"IT", "Facilities", "Business Ops"}},
}

type meetingType struct {
	name       string
	minutes    int
	attendees  int
	acceptRate float64
}

var meetingTypes = []meetingType{
	{"Daily Standup", 15, 3, 0.8},
	{"Weekly Team Meeting", 60, 8, 0.7},
	{"Sprint Planning", 120, 6, 0.9},
	{"Sprint Retrospective", 60, 6, 0.8},
	{"Project Sync", 30, 4, 0.7},
	{"1:1 Meeting", 30, 2, 0.9},
	{"All Hands", 60, 50, 0.6},
	{"Architecture Review", 90, 5, 0.8},
	{"Code Review", 30, 3, 0.8},
	{"Client Meeting", 60, 4, 0.9},
	{"Design Review", 45, 4, 0.8},
	{"Product Demo", 30, 10, 0.7},
	{"Training Session", 90, 15, 0.6},
	{"Interview", 45, 3, 0.9},
	{"Board Meeting", 120, 8, 0.95},
	{"Strategy Session", 180, 6, 0.8},
	{"Town Hall", 45, 25, 0.5},
	{"Customer Call", 30, 3, 0.9},
	{"Vendor Meeting", 60, 4, 0.8},
	{"Emergency Meeting", 30, 5, 0.95},
}

var (
	firstNames = []string{"Ana", "Bo", "Cy", "Dana", "Eli", "Fay", "Gus", "Hana", "Ivo", "Jo",
		"Kai", "Lea", "Max", "Nia", "Oto", "Pia", "Quin", "Rae", "Sol", "Tia"}
	lastNames = []string{"Adams", "Baker", "Chen", "Diaz", "Evans", "Fischer", "Garcia", "Hughes",
		"Ito", "Jones", "Khan", "Lopez", "Moreau", "Novak", "Okafor", "Patel"}
	externalDomains = []string{"client-company.com", "vendor-corp.com", "partner.org", "contractor.net"}
)

var idNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9c2f-51e0d7a4b3c8")

// Generator produces a synthetic organization and its meeting history.
type Generator struct {
	opts Options
	rng  *rand.Rand
}

// New creates a Generator. Options are expected to be valid.
func New(opts Options) *Generator {
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	return &Generator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Users returns opts.Users people with unique emails spread over the
// departments; about 15% are managers.
func (g *Generator) Users() []directory.OrgInfo {
	users := make([]directory.OrgInfo, 0, g.opts.Users)
	seen := make(map[string]bool, g.opts.Users)
	for len(users) < g.opts.Users {
		local := strings.ToLower(pick(g.rng, firstNames) + "." + pick(g.rng, lastNames))
		email := local + "@" + g.opts.Domain
		for n := 2; seen[email]; n++ {
			email = fmt.Sprintf("%s%d@%s", local, n, g.opts.Domain)
		}
		seen[email] = true

		d := pick(g.rng, departments)
		users = append(users, directory.OrgInfo{
			Email:         email,
			Division:      d.division,
			Department:    d.name,
			Subdepartment: pick(g.rng, d.subs),
			IsManager:     g.rng.Float64() < 0.15,
		})
	}
	return users
}

// Events returns the meeting history of users, each event owned by its
// organizer. Weekdays get opts.MeetingsPerDay meetings; one weekend day in
// ten gets a tenth of that.
func (g *Generator) Events(users []directory.OrgInfo) []OwnedEvent {
	if len(users) == 0 {
		return nil
	}
	today := g.opts.Now.UTC().Truncate(24 * time.Hour)
	var out []OwnedEvent
	for i := g.opts.Days; i >= 1; i-- {
		day := today.AddDate(0, 0, -i)
		count := g.opts.MeetingsPerDay
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			if g.rng.Float64() >= 0.1 {
				continue
			}
			count = max(1, count/10)
		}
		for n := 0; n < count; n++ {
			out = append(out, g.meeting(users, day, n))
		}
	}
	return out
}

func (g *Generator) meeting(users []directory.OrgInfo, day time.Time, n int) OwnedEvent {
	mt := pick(g.rng, meetingTypes)
	minutes := max(15, mt.minutes+g.rng.IntN(31)-15)

	var hour int
	if g.rng.Float64() < 0.8 {
		hour = 8 + g.rng.IntN(10)
	} else {
		hour = pick(g.rng, []int{6, 7, 18, 19, 20, 21})
	}
	start := day.Add(time.Duration(hour)*time.Hour + time.Duration(15*g.rng.IntN(4))*time.Minute)
	end := start.Add(time.Duration(minutes) * time.Minute)

	organizer := pick(g.rng, users)
	invited := append([]string{organizer.Email}, g.colleagues(users, organizer, max(2, mt.attendees+g.rng.IntN(7)-2)-1)...)
	if g.rng.Float64() < 0.2 {
		for k := 1 + g.rng.IntN(3); k > 0; k-- {
			invited = append(invited, fmt.Sprintf("guest%d@%s", g.rng.IntN(1000), pick(g.rng, externalDomains)))
		}
	}

	id := uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%d/%s/%d", g.opts.Seed, day.Format("2006-01-02"), n))).String()
	return OwnedEvent{
		Owner: organizer.Email,
		Event: &calendar.Event{
			ID:             id,
			Status:         calendar.StatusConfirmed,
			Summary:        g.summary(mt.name, organizer.Department, day),
			Start:          &calendar.EventTime{DateTime: start.Format(time.RFC3339)},
			End:            &calendar.EventTime{DateTime: end.Format(time.RFC3339)},
			OrganizerEmail: organizer.Email,
			Attendees:      g.responses(invited, mt.acceptRate),
			HangoutLink:    "https://meet.google.com/" + g.meetCode(),
			HTMLLink:       "https://calendar.google.com/event?eid=" + id,
		},
	}
}

// colleagues picks n other users, about 70% from the organizer's department.
func (g *Generator) colleagues(users []directory.OrgInfo, organizer directory.OrgInfo, n int) []string {
	var same, other []string
	for _, u := range users {
		switch {
		case u.Email == organizer.Email:
		case u.Department == organizer.Department:
			same = append(same, u.Email)
		default:
			other = append(other, u.Email)
		}
	}
	n = min(n, len(users)-1)
	sameN := int(float64(n) * 0.7)
	out := sample(g.rng, same, sameN)
	return append(out, sample(g.rng, other, n-len(out))...)
}

// responses assigns statuses in order: the accepted share first, then random
// declines and tentatives, the rest needing action.
func (g *Generator) responses(emails []string, acceptRate float64) []calendar.Attendee {
	total := len(emails)
	accepted := int(float64(total) * acceptRate)
	declined := g.rng.IntN(total - accepted + 1)
	tentative := g.rng.IntN(total - accepted - declined + 1)

	out := make([]calendar.Attendee, total)
	for i, email := range emails {
		status := calendar.ResponseNeedsAction
		switch {
		case i < accepted:
			status = calendar.ResponseAccepted
		case i < accepted+declined:
			status = calendar.ResponseDeclined
		case i < accepted+declined+tentative:
			status = calendar.ResponseTentative
		}
		out[i] = calendar.Attendee{Email: email, ResponseStatus: status, Organizer: i == 0}
	}
	return out
}

func (g *Generator) summary(name, dept string, day time.Time) string {
	switch g.rng.IntN(6) {
	case 1:
		return name + " - " + dept
	case 2:
		return dept + " " + name
	case 3:
		return fmt.Sprintf("Q%d %s", (int(day.Month())-1)/3+1, name)
	case 4:
		return name + " (Weekly)"
	case 5:
		return name + " - Follow-up"
	default:
		return name
	}
}

func (g *Generator) meetCode() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 0, 12)
	for i, n := range []int{3, 4, 3} {
		if i > 0 {
			b = append(b, '-')
		}
		for ; n > 0; n-- {
			b = append(b, letters[g.rng.IntN(len(letters))])
		}
	}
	return string(b)
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}

// sample returns up to n distinct elements of xs.
func sample(rng *rand.Rand, xs []string, n int) []string {
	n = min(n, len(xs))
	out := make([]string, 0, n)
	for _, i := range rng.Perm(len(xs))[:n] {
		out = append(out, xs[i])
	}
	return out
}
