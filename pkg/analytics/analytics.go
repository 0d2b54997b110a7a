// Package analytics computes the dashboard aggregates over stored meetings.
//
// The Compute* functions are pure and operate on a slice of records; Service
// loads the records through a repository, applies the caller's filter and
// caches the JSON-encoded results.
package analytics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/otherjamesbrown/calinsight/pkg/directory"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

// LongMeetingMinutes is the duration above which a meeting counts as long.
const LongMeetingMinutes = 60

// ShortMeetingMinutes is the duration below which a meeting counts as short.
const ShortMeetingMinutes = 30

// Overview is the headline summary of a set of meetings.
type Overview struct {
	TotalMeetings      int     `json:"total_meetings" yaml:"total_meetings"`
	TotalHours         float64 `json:"total_hours" yaml:"total_hours"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
	AvgAttendees       float64 `json:"avg_attendees" yaml:"avg_attendees"`
	OneOnOneCount      int     `json:"one_on_one_count" yaml:"one_on_one_count"`
	OneOnOnePercent    float64 `json:"one_on_one_percent" yaml:"one_on_one_percent"`
	UniqueUsers        int     `json:"unique_users" yaml:"unique_users"`
	// AcceptanceRate is the share of invitations accepted, in percent.
	AcceptanceRate float64 `json:"acceptance_rate" yaml:"acceptance_rate"`
}

// WeekTrend aggregates one ISO week.
type WeekTrend struct {
	Week               string    `json:"week" yaml:"week"`
	WeekStart          time.Time `json:"week_start" yaml:"week_start"`
	Meetings           int       `json:"meetings" yaml:"meetings"`
	Hours              float64   `json:"hours" yaml:"hours"`
	AvgDurationMinutes float64   `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
}

// DepartmentStat aggregates the meetings of one department's calendars.
type DepartmentStat struct {
	Department         string  `json:"department" yaml:"department"`
	Meetings           int     `json:"meetings" yaml:"meetings"`
	Hours              float64 `json:"hours" yaml:"hours"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
	OneOnOnes          int     `json:"one_on_ones" yaml:"one_on_ones"`
	Users              int     `json:"users" yaml:"users"`
}

// ParticipantStat aggregates one calendar owner.
type ParticipantStat struct {
	UserEmail  string  `json:"user_email" yaml:"user_email"`
	Department string  `json:"department" yaml:"department"`
	Meetings   int     `json:"meetings" yaml:"meetings"`
	Hours      float64 `json:"hours" yaml:"hours"`
	OneOnOnes  int     `json:"one_on_ones" yaml:"one_on_ones"`
}

// SizeBucket counts meetings of one size category.
type SizeBucket struct {
	Category string  `json:"category" yaml:"category"`
	Meetings int     `json:"meetings" yaml:"meetings"`
	Percent  float64 `json:"percent" yaml:"percent"`
}

// HourBucket counts meetings starting in one hour of the day.
type HourBucket struct {
	Hour     int `json:"hour" yaml:"hour"`
	Meetings int `json:"meetings" yaml:"meetings"`
}

// DayBucket aggregates one weekday.
type DayBucket struct {
	Day      string  `json:"day" yaml:"day"`
	Meetings int     `json:"meetings" yaml:"meetings"`
	Hours    float64 `json:"hours" yaml:"hours"`
}

// Efficiency scores meeting hygiene out of 100.
type Efficiency struct {
	Score              int      `json:"score" yaml:"score"`
	AvgDurationMinutes float64  `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
	AvgAttendees       float64  `json:"avg_attendees" yaml:"avg_attendees"`
	ShortMeetings      int      `json:"short_meetings" yaml:"short_meetings"`
	MediumMeetings     int      `json:"medium_meetings" yaml:"medium_meetings"`
	LongMeetings       int      `json:"long_meetings" yaml:"long_meetings"`
	LongPercent        float64  `json:"long_percent" yaml:"long_percent"`
	Findings           []string `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// FilterOptions lists the values the dashboard filters can take.
type FilterOptions struct {
	Departments []string   `json:"departments" yaml:"departments"`
	Divisions   []string   `json:"divisions" yaml:"divisions"`
	Users       []string   `json:"users" yaml:"users"`
	MinDate     *time.Time `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate     *time.Time `json:"max_date,omitempty" yaml:"max_date,omitempty"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

func departmentOf(m *meetings.Meeting) string {
	if m.Department == "" {
		return directory.Unknown
	}
	return m.Department
}

// ComputeOverview summarizes ms.
func ComputeOverview(ms []*meetings.Meeting) Overview {
	var o Overview
	var minutes, attendees, accepted int
	users := make(map[string]struct{})
	for _, m := range ms {
		o.TotalMeetings++
		minutes += m.DurationMinutes
		attendees += m.AttendeesCount
		accepted += m.AttendeesAccepted
		if m.IsOneOnOne {
			o.OneOnOneCount++
		}
		users[m.UserEmail] = struct{}{}
	}
	n := float64(o.TotalMeetings)
	o.TotalHours = round(float64(minutes)/60, 1)
	o.AvgDurationMinutes = round(ratio(float64(minutes), n), 1)
	o.AvgAttendees = round(ratio(float64(attendees), n), 1)
	o.OneOnOnePercent = round(ratio(float64(o.OneOnOneCount), n)*100, 1)
	o.UniqueUsers = len(users)
	o.AcceptanceRate = round(ratio(float64(accepted), float64(attendees))*100, 1)
	return o
}

// isoWeekStart returns midnight of the Monday starting t's ISO week in loc.
func isoWeekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	y, mo, d := t.Date()
	return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
}

// ComputeWeeklyTrends groups ms by ISO week in loc, oldest first.
func ComputeWeeklyTrends(ms []*meetings.Meeting, loc *time.Location) []WeekTrend {
	if loc == nil {
		loc = time.UTC
	}
	byWeek := make(map[time.Time]*WeekTrend)
	minutes := make(map[time.Time]int)
	for _, m := range ms {
		start := isoWeekStart(m.StartTime, loc)
		w, ok := byWeek[start]
		if !ok {
			year, week := m.StartTime.In(loc).ISOWeek()
			w = &WeekTrend{Week: fmt.Sprintf("%04d-W%02d", year, week), WeekStart: start}
			byWeek[start] = w
		}
		w.Meetings++
		minutes[start] += m.DurationMinutes
	}

	out := make([]WeekTrend, 0, len(byWeek))
	for start, w := range byWeek {
		w.Hours = round(float64(minutes[start])/60, 1)
		w.AvgDurationMinutes = round(ratio(float64(minutes[start]), float64(w.Meetings)), 1)
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b WeekTrend) int { return a.WeekStart.Compare(b.WeekStart) })
	return out
}

// ComputeDepartmentBreakdown groups ms by the calendar owner's department,
// busiest first.
func ComputeDepartmentBreakdown(ms []*meetings.Meeting) []DepartmentStat {
	type acc struct {
		stat    DepartmentStat
		minutes int
		users   map[string]struct{}
	}
	byDept := make(map[string]*acc)
	for _, m := range ms {
		name := departmentOf(m)
		a, ok := byDept[name]
		if !ok {
			a = &acc{stat: DepartmentStat{Department: name}, users: map[string]struct{}{}}
			byDept[name] = a
		}
		a.stat.Meetings++
		a.minutes += m.DurationMinutes
		if m.IsOneOnOne {
			a.stat.OneOnOnes++
		}
		a.users[m.UserEmail] = struct{}{}
	}

	out := make([]DepartmentStat, 0, len(byDept))
	for _, a := range byDept {
		a.stat.Hours = round(float64(a.minutes)/60, 1)
		a.stat.AvgDurationMinutes = round(ratio(float64(a.minutes), float64(a.stat.Meetings)), 1)
		a.stat.Users = len(a.users)
		out = append(out, a.stat)
	}
	slices.SortFunc(out, func(a, b DepartmentStat) int {
		if c := cmp.Compare(b.Meetings, a.Meetings); c != 0 {
			return c
		}
		return cmp.Compare(a.Department, b.Department)
	})
	return out
}

// ComputeTopParticipants returns the limit busiest calendar owners. A
// non-positive limit returns everyone.
func ComputeTopParticipants(ms []*meetings.Meeting, limit int) []ParticipantStat {
	byUser := make(map[string]*ParticipantStat)
	minutes := make(map[string]int)
	for _, m := range ms {
		p, ok := byUser[m.UserEmail]
		if !ok {
			p = &ParticipantStat{UserEmail: m.UserEmail, Department: departmentOf(m)}
			byUser[m.UserEmail] = p
		}
		p.Meetings++
		minutes[m.UserEmail] += m.DurationMinutes
		if m.IsOneOnOne {
			p.OneOnOnes++
		}
	}

	out := make([]ParticipantStat, 0, len(byUser))
	for user, p := range byUser {
		p.Hours = round(float64(minutes[user])/60, 1)
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b ParticipantStat) int {
		if c := cmp.Compare(b.Meetings, a.Meetings); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Hours, a.Hours); c != 0 {
			return c
		}
		return cmp.Compare(a.UserEmail, b.UserEmail)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeSizeDistribution counts ms per size category. Every category is
// present, smallest first.
func ComputeSizeDistribution(ms []*meetings.Meeting) []SizeBucket {
	counts := make(map[string]int, len(meetings.SizeCategories))
	for _, m := range ms {
		cat := m.SizeCategory
		if cat == "" {
			cat = meetings.SizeCategory(m.AttendeesCount)
		}
		counts[cat]++
	}
	out := make([]SizeBucket, 0, len(meetings.SizeCategories))
	for _, cat := range meetings.SizeCategories {
		out = append(out, SizeBucket{
			Category: cat,
			Meetings: counts[cat],
			Percent:  round(ratio(float64(counts[cat]), float64(len(ms)))*100, 1),
		})
	}
	return out
}

// ComputeHourOfDay counts meeting starts per hour in loc. All 24 hours are present.
func ComputeHourOfDay(ms []*meetings.Meeting, loc *time.Location) []HourBucket {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]HourBucket, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, m := range ms {
		out[m.StartTime.In(loc).Hour()].Meetings++
	}
	return out
}

// ComputeDayOfWeek aggregates ms per weekday in loc, Monday first.
func ComputeDayOfWeek(ms []*meetings.Meeting, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]DayBucket, 7)
	minutes := make([]int, 7)
	for i := range out {
		out[i].Day = time.Weekday((i + 1) % 7).String()
	}
	for _, m := range ms {
		i := (int(m.StartTime.In(loc).Weekday()) + 6) % 7
		out[i].Meetings++
		minutes[i] += m.DurationMinutes
	}
	for i := range out {
		out[i].Hours = round(float64(minutes[i])/60, 1)
	}
	return out
}

// ComputeEfficiency scores ms. The score starts at 100 and loses 20 when
// the average meeting runs over an hour, 15 when more than 30% of meetings
// run over an hour, and 10 when the average meeting has more than 8
// attendees.
func ComputeEfficiency(ms []*meetings.Meeting) Efficiency {
	e := Efficiency{Score: 100}
	var minutes, attendees int
	for _, m := range ms {
		minutes += m.DurationMinutes
		attendees += m.AttendeesCount
		switch {
		case m.DurationMinutes > LongMeetingMinutes:
			e.LongMeetings++
		case m.DurationMinutes < ShortMeetingMinutes:
			e.ShortMeetings++
		default:
			e.MediumMeetings++
		}
	}
	n := float64(len(ms))
	avgDuration := ratio(float64(minutes), n)
	avgAttendees := ratio(float64(attendees), n)
	longShare := ratio(float64(e.LongMeetings), n)

	e.AvgDurationMinutes = round(avgDuration, 1)
	e.AvgAttendees = round(avgAttendees, 1)
	e.LongPercent = round(longShare*100, 1)

	if avgDuration > LongMeetingMinutes {
		e.Score -= 20
		e.Findings = append(e.Findings, fmt.Sprintf("average meeting runs %.0f minutes; consider 45-minute defaults", avgDuration))
	}
	if longShare > 0.3 {
		e.Score -= 15
		e.Findings = append(e.Findings, fmt.Sprintf("%.0f%% of meetings run longer than an hour", longShare*100))
	}
	if avgAttendees > 8 {
		e.Score -= 10
		e.Findings = append(e.Findings, fmt.Sprintf("average meeting has %.1f attendees; review invitation lists", avgAttendees))
	}
	return e
}
