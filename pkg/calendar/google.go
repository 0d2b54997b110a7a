package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// ServiceFactory returns an authorized Calendar service acting as user.
type ServiceFactory func(ctx context.Context, user string) (*gcal.Service, error)

// ServiceAccountFactory authorizes with a service account key using
// domain-wide delegation, impersonating each synced user.
func ServiceAccountFactory(credentialsFile string, opts ...option.ClientOption) ServiceFactory {
	return func(ctx context.Context, user string) (*gcal.Service, error) {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "reading service account key", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(data, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "parsing service account key", err)
		}
		jwtCfg.Subject = user
		all := append([]option.ClientOption{option.WithTokenSource(jwtCfg.TokenSource(ctx))}, opts...)
		svc, err := gcal.NewService(ctx, all...)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "creating calendar service", err)
		}
		return svc, nil
	}
}

// TokenFileFactory authorizes with an OAuth client secret and a previously
// stored token. The same token is used whatever user is requested, so it
// suits single-mailbox installs.
func TokenFileFactory(clientSecretFile, tokenFile string, opts ...option.ClientOption) ServiceFactory {
	return func(ctx context.Context, user string) (*gcal.Service, error) {
		secret, err := os.ReadFile(clientSecretFile)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "reading OAuth client secret", err)
		}
		oauthCfg, err := google.ConfigFromJSON(secret, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "parsing OAuth client secret", err)
		}
		raw, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "reading OAuth token", err)
		}
		var tok oauth2.Token
		if err := json.Unmarshal(raw, &tok); err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "parsing OAuth token", err)
		}
		all := append([]option.ClientOption{option.WithTokenSource(oauthCfg.TokenSource(ctx, &tok))}, opts...)
		svc, err := gcal.NewService(ctx, all...)
		if err != nil {
			return nil, cierrors.NewAuthorizationError("credentials", "creating calendar service", err)
		}
		return svc, nil
	}
}

// StaticFactory always returns svc.
func StaticFactory(svc *gcal.Service) ServiceFactory {
	return func(context.Context, string) (*gcal.Service, error) { return svc, nil }
}

// GoogleOptions configures a GoogleSource.
type GoogleOptions struct {
	CalendarID  string
	PageSize    int64
	CallTimeout time.Duration
	Retry       RetryPolicy
	Logger      logging.Logger
}

// GoogleSource reads events through the Google Calendar v3 API.
type GoogleSource struct {
	factory     ServiceFactory
	calendarID  string
	pageSize    int64
	callTimeout time.Duration
	retry       RetryPolicy
	logger      logging.Logger
}

// NewGoogleSource creates a GoogleSource.
func NewGoogleSource(factory ServiceFactory, opts GoogleOptions) *GoogleSource {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 2500
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &GoogleSource{
		factory:     factory,
		calendarID:  opts.CalendarID,
		pageSize:    opts.PageSize,
		callTimeout: opts.CallTimeout,
		retry:       opts.Retry,
		logger:      opts.Logger.With(logging.F("source", "google")),
	}
}

// CalendarID returns the calendar read for each user.
func (s *GoogleSource) CalendarID() string {
	return s.calendarID
}

// Events lists single (expanded) event instances ordered by start time.
// Cancelled instances are included so callers can account for them.
func (s *GoogleSource) Events(ctx context.Context, user string, w Window) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		svc, err := s.factory(ctx, user)
		if err != nil {
			yield(nil, err)
			return
		}

		log := s.logger.With(logging.F("user", user), logging.F("window", w.String()))
		pageToken := ""
		for page := 1; ; page++ {
			var resp *gcal.Events
			err := s.retry.Do(ctx, "events.list", func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
				defer cancel()

				call := svc.Events.List(s.calendarID).
					Context(callCtx).
					TimeMin(w.Start.Format(time.RFC3339)).
					TimeMax(w.End.Format(time.RFC3339)).
					SingleEvents(true).
					OrderBy("startTime").
					ShowDeleted(true).
					MaxResults(s.pageSize)
				if pageToken != "" {
					call = call.PageToken(pageToken)
				}
				r, err := call.Do()
				if err != nil {
					return classifyAPIError(ctx, "events.list", err)
				}
				resp = r
				return nil
			})
			if err != nil {
				yield(nil, err)
				return
			}

			log.Debug("fetched page", logging.F("page", page), logging.F("items", len(resp.Items)))
			for _, item := range resp.Items {
				if !yield(fromAPI(item), nil) {
					return
				}
			}
			if resp.NextPageToken == "" {
				return
			}
			pageToken = resp.NextPageToken
		}
	}
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classifyAPIError maps a Calendar API failure onto the sync error taxonomy.
// parent is the context of the whole call sequence; its cancellation is
// returned unchanged.
func classifyAPIError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return cierrors.NewAuthorizationError(op, "token refresh rejected", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		se := classifyStatus(op, apiErr)
		se.StatusCode = apiErr.Code
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return cierrors.NewTransientFetchError(op, "call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return cierrors.NewTransientFetchError(op, "network error", err)
	}
	return cierrors.NewTransientFetchError(op, "", err)
}

func classifyStatus(op string, apiErr *googleapi.Error) *cierrors.SyncError {
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return cierrors.NewAuthorizationError(op, "credentials rejected", apiErr)
	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if rateLimitReasons[item.Reason] {
				return cierrors.NewTransientFetchError(op, "rate limited", apiErr)
			}
		}
		return cierrors.NewAuthorizationError(op, "access denied", apiErr)
	case apiErr.Code == http.StatusTooManyRequests:
		return cierrors.NewTransientFetchError(op, "rate limited", apiErr)
	case apiErr.Code >= 500:
		return cierrors.NewTransientFetchError(op, "server error", apiErr)
	default:
		return cierrors.NewPermanentFetchError(op, fmt.Sprintf("request rejected with %d", apiErr.Code), apiErr)
	}
}

func fromAPI(e *gcal.Event) *Event {
	ev := &Event{
		ID:          e.Id,
		Status:      e.Status,
		Summary:     e.Summary,
		HangoutLink: e.HangoutLink,
		HTMLLink:    e.HtmlLink,
	}
	if e.Start != nil {
		ev.Start = &EventTime{DateTime: e.Start.DateTime, Date: e.Start.Date}
	}
	if e.End != nil {
		ev.End = &EventTime{DateTime: e.End.DateTime, Date: e.End.Date}
	}
	if e.Organizer != nil {
		ev.OrganizerEmail = e.Organizer.Email
	}
	for _, a := range e.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, Attendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
			Resource:       a.Resource,
			Organizer:      a.Organizer,
		})
	}
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep == nil {
				continue
			}
			ev.EntryPoints = append(ev.EntryPoints, EntryPoint{Type: ep.EntryPointType, URI: ep.Uri})
		}
	}
	return ev
}
