package calendar

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// ICalSource reads a published iCalendar feed per user. URLTemplate contains
// "{email}", replaced by the query-escaped user address. Recurring events are
// reported once, at their first occurrence.
type ICalSource struct {
	URLTemplate string
	Client      *http.Client
	CallTimeout time.Duration
	Retry       RetryPolicy
	Logger      logging.Logger
}

func (s *ICalSource) feedURL(user string) string {
	return strings.ReplaceAll(s.URLTemplate, "{email}", url.QueryEscape(user))
}

// Events fetches the whole feed and yields the events overlapping w.
func (s *ICalSource) Events(ctx context.Context, user string, w Window) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		var cal *ical.Calendar
		err := s.Retry.Do(ctx, "ical.fetch", func(ctx context.Context) error {
			c, err := s.fetch(ctx, user)
			if err != nil {
				return err
			}
			cal = c
			return nil
		})
		if err != nil {
			yield(nil, err)
			return
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev := eventFromComponent(comp)
			if !overlaps(ev, w) {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *ICalSource) fetch(ctx context.Context, user string) (*ical.Calendar, error) {
	timeout := s.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, s.feedURL(user), nil)
	if err != nil {
		return nil, cierrors.NewPermanentFetchError("ical.fetch", "building request", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cierrors.NewTransientFetchError("ical.fetch", "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &cierrors.SyncError{Category: cierrors.CategoryAuthorization, Op: "ical.fetch",
			Message: "feed access denied", StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &cierrors.SyncError{Category: cierrors.CategoryTransient, Op: "ical.fetch",
			Message: resp.Status, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &cierrors.SyncError{Category: cierrors.CategoryPermanent, Op: "ical.fetch",
			Message: resp.Status, StatusCode: resp.StatusCode}
	}

	cal, err := ical.NewDecoder(resp.Body).Decode()
	if err != nil {
		return nil, cierrors.NewPermanentFetchError("ical.fetch", "decoding feed", err)
	}
	if s.Logger != nil {
		s.Logger.Debug("decoded feed", logging.F("user", user), logging.F("components", len(cal.Children)))
	}
	return cal, nil
}

func overlaps(ev *Event, w Window) bool {
	start, err := ev.Start.Parse()
	if err != nil {
		// Let the normalizer count it.
		return true
	}
	end, err := ev.End.Parse()
	if err != nil {
		end = start
	}
	return start.Before(w.End) && !end.Before(w.Start)
}

var partStat = map[string]string{
	"ACCEPTED":     ResponseAccepted,
	"DECLINED":     ResponseDeclined,
	"TENTATIVE":    ResponseTentative,
	"NEEDS-ACTION": ResponseNeedsAction,
}

func eventFromComponent(comp *ical.Component) *Event {
	ev := &Event{}
	if p := comp.Props.Get(ical.PropUID); p != nil {
		ev.ID = p.Value
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropStatus); p != nil {
		ev.Status = strings.ToLower(p.Value)
	}
	if p := comp.Props.Get(ical.PropURL); p != nil {
		ev.HTMLLink = p.Value
	}
	ev.Start = icalTime(comp.Props.Get(ical.PropDateTimeStart))
	ev.End = icalTime(comp.Props.Get(ical.PropDateTimeEnd))

	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		ev.OrganizerEmail = mailto(p.Value)
	}
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		status, ok := partStat[strings.ToUpper(p.Params.Get(ical.ParamParticipationStatus))]
		if !ok {
			status = ResponseNeedsAction
		}
		cutype := strings.ToUpper(p.Params.Get(ical.ParamCalendarUserType))
		ev.Attendees = append(ev.Attendees, Attendee{
			Email:          mailto(p.Value),
			ResponseStatus: status,
			Resource:       cutype == "RESOURCE" || cutype == "ROOM",
		})
	}
	return ev
}

func icalTime(p *ical.Prop) *EventTime {
	if p == nil {
		return nil
	}
	if p.ValueType() == ical.ValueDate {
		t, err := p.DateTime(time.UTC)
		if err != nil {
			return &EventTime{Date: p.Value}
		}
		return &EventTime{Date: t.Format("2006-01-02")}
	}
	t, err := p.DateTime(time.UTC)
	if err != nil {
		// Keep the raw value so the normalizer reports it as invalid.
		return &EventTime{DateTime: p.Value}
	}
	return &EventTime{DateTime: t.Format(time.RFC3339)}
}

func mailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.ToLower(v)
}

// String describes the feed location without the user part.
func (s *ICalSource) String() string {
	return fmt.Sprintf("ical(%s)", s.URLTemplate)
}
