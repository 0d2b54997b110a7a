package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

var refNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Users: 20, Days: 14, MeetingsPerDay: 10, Seed: 7, Now: refNow}
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, testOptions().Validate())

	for name, mutate := range map[string]func(*Options){
		"one user": func(o *Options) { o.Users = 1 },
		"no days":  func(o *Options) { o.Days = 0 },
		"no meetings": func(o *Options) {
			o.MeetingsPerDay = 0
		},
	} {
		t.Run(name, func(t *testing.T) {
			o := testOptions()
			mutate(&o)
			assert.True(t, cierrors.IsValidation(o.Validate()))
		})
	}
}

func TestGenerator_UsersAreUniqueAndClassified(t *testing.T) {
	users := New(Options{Users: 200, Days: 1, MeetingsPerDay: 1, Seed: 1, Now: refNow}).Users()
	require.Len(t, users, 200)

	seen := map[string]bool{}
	managers := 0
	for _, u := range users {
		assert.False(t, seen[u.Email], "duplicate email %s", u.Email)
		seen[u.Email] = true
		assert.Contains(t, u.Email, "@"+DefaultDomain)
		assert.NotEmpty(t, u.Department)
		assert.NotEmpty(t, u.Division)
		assert.NotEmpty(t, u.Subdepartment)
		if u.IsManager {
			managers++
		}
	}
	assert.Greater(t, managers, 0)
	assert.Less(t, managers, 100)
}

func TestGenerator_IsDeterministic(t *testing.T) {
	a := New(testOptions())
	b := New(testOptions())
	usersA, usersB := a.Users(), b.Users()
	assert.Equal(t, usersA, usersB)
	assert.Equal(t, a.Events(usersA), b.Events(usersB))

	other := testOptions()
	other.Seed = 8
	assert.NotEqual(t, usersA, New(other).Users())
}

func TestGenerator_EventsCoverThePastDays(t *testing.T) {
	g := New(testOptions())
	users := g.Users()
	events := g.Events(users)

	// Two full weeks: ten weekdays plus at most four weekend days with one meeting each.
	assert.GreaterOrEqual(t, len(events), 100)
	assert.LessOrEqual(t, len(events), 104)

	first := refNow.Truncate(24*time.Hour).AddDate(0, 0, -14)
	ids := map[string]bool{}
	for _, oe := range events {
		ev := oe.Event
		assert.False(t, ids[ev.ID], "duplicate event id %s", ev.ID)
		ids[ev.ID] = true

		start, err := ev.Start.Parse()
		require.NoError(t, err)
		end, err := ev.End.Parse()
		require.NoError(t, err)
		assert.False(t, start.Before(first), "event %s starts before the history", ev.ID)
		assert.True(t, start.Before(refNow.Truncate(24*time.Hour)), "event %s is not in the past", ev.ID)
		assert.GreaterOrEqual(t, end.Sub(start), 15*time.Minute)

		assert.Equal(t, oe.Owner, ev.OrganizerEmail)
		require.GreaterOrEqual(t, len(ev.Attendees), 2)
		assert.Equal(t, oe.Owner, ev.Attendees[0].Email)
		assert.Equal(t, calendar.ResponseAccepted, ev.Attendees[0].ResponseStatus)
	}
}

func TestGenerator_EventsNormalizeAgainstTheirUsers(t *testing.T) {
	ctx := context.Background()
	g := New(testOptions())
	users := g.Users()
	n := meetings.NewNormalizer(directory.NewStatic(directory.File{Users: users}), nil)

	for _, oe := range g.Events(users) {
		m, skip := n.Normalize(ctx, oe.Owner, "primary", oe.Event)
		require.Equal(t, meetings.SkipNone, skip)
		require.NoError(t, m.Validate())
		assert.NotEqual(t, directory.Unknown, m.Department)
		assert.GreaterOrEqual(t, m.AttendeesAccepted, 1)
		assert.Equal(t, len(oe.Event.Attendees), m.AttendeesCount)
	}
}
