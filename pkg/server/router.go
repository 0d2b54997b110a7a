// Package server exposes the dashboard queries, sync run history and the
// assistant over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	"github.com/otherjamesbrown/calinsight/pkg/assistant"
	"github.com/otherjamesbrown/calinsight/pkg/buildinfo"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

const (
	defaultMeetingsLimit = 500
	maxMeetingsLimit     = 5000
	defaultRunsLimit     = 50
	maxChatBody          = 64 << 10
)

// Asker answers assistant questions.
type Asker interface {
	Ask(ctx context.Context, question string, history []assistant.Message) (*assistant.Answer, error)
}

// Backend is the part of the store the API reads directly.
type Backend interface {
	ListRuns(ctx context.Context, limit int) ([]*meetings.SyncRun, error)
	Health(ctx context.Context) *db.HealthStatus
}

// Router builds the HTTP handlers.
type Router struct {
	analytics *analytics.Service
	backend   Backend
	assistant Asker
	gatherer  prometheus.Gatherer
	logger    logging.Logger
}

// NewRouter creates a Router. asker may be nil, in which case /api/chat
// answers 503. gatherer may be nil to serve the default registry.
func NewRouter(svc *analytics.Service, backend Backend, asker Asker, gatherer prometheus.Gatherer, logger logging.Logger) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Router{
		analytics: svc,
		backend:   backend,
		assistant: asker,
		gatherer:  gatherer,
		logger:    logger.With(logging.F("component", "http")),
	}
}

// Register mounts every route on mux.
func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/overview", r.overview)
	mux.HandleFunc("GET /api/trends", r.trends)
	mux.HandleFunc("GET /api/departments", r.departments)
	mux.HandleFunc("GET /api/participants", r.participants)
	mux.HandleFunc("GET /api/sizes", r.sizes)
	mux.HandleFunc("GET /api/hours", r.hours)
	mux.HandleFunc("GET /api/weekdays", r.weekdays)
	mux.HandleFunc("GET /api/efficiency", r.efficiency)
	mux.HandleFunc("GET /api/filters", r.filters)
	mux.HandleFunc("GET /api/meetings", r.meetings)
	mux.HandleFunc("GET /api/runs", r.runs)
	mux.HandleFunc("POST /api/chat", r.chat)
	mux.HandleFunc("GET /health", r.health)
	mux.HandleFunc("GET /version", r.version)
	mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routes wrapped in request logging.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	r.Register(mux)
	return logRequests(mux, r.logger)
}

// parseDate accepts YYYY-MM-DD or RFC3339. A bare date used as an upper
// bound covers the whole day.
func parseDate(s string, upper bool) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		if upper {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a date", cierrors.ErrValidation, s)
	}
	return t.UTC(), nil
}

func listParam(q map[string][]string, key string) []string {
	var out []string
	for _, v := range q[key] {
		out = append(out, config.SplitList(v)...)
	}
	return out
}

func intParam(req *http.Request, key string, def int) (int, error) {
	s := strings.TrimSpace(req.URL.Query().Get(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", cierrors.ErrValidation, key)
	}
	return n, nil
}

// parseFilter reads from, to, department, division, user, one_on_one,
// min_duration and max_duration from the query string.
func parseFilter(req *http.Request) (meetings.Filter, error) {
	q := req.URL.Query()
	var f meetings.Filter
	var err error
	if s := strings.TrimSpace(q.Get("from")); s != "" {
		if f.From, err = parseDate(s, false); err != nil {
			return f, err
		}
	}
	if s := strings.TrimSpace(q.Get("to")); s != "" {
		if f.To, err = parseDate(s, true); err != nil {
			return f, err
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return f, fmt.Errorf("%w: from must be before to", cierrors.ErrValidation)
	}
	f.Departments = listParam(q, "department")
	f.Divisions = listParam(q, "division")
	f.Users = listParam(q, "user")
	if s := strings.TrimSpace(q.Get("one_on_one")); s != "" {
		if f.OneOnOne, err = strconv.ParseBool(s); err != nil {
			return f, fmt.Errorf("%w: one_on_one must be a boolean", cierrors.ErrValidation)
		}
	}
	if f.MinDuration, err = intParam(req, "min_duration", 0); err != nil {
		return f, err
	}
	if f.MaxDuration, err = intParam(req, "max_duration", 0); err != nil {
		return f, err
	}
	return f, nil
}

// serve parses the filter, runs query and writes its result.
func serve[T any](r *Router, w http.ResponseWriter, req *http.Request, query func(context.Context, meetings.Filter) (T, error)) {
	f, err := parseFilter(req)
	if err != nil {
		r.respondError(w, err)
		return
	}
	v, err := query(req.Context(), f)
	if err != nil {
		r.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (r *Router) overview(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.Overview)
}

func (r *Router) trends(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.WeeklyTrends)
}

func (r *Router) departments(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.DepartmentBreakdown)
}

func (r *Router) participants(w http.ResponseWriter, req *http.Request) {
	limit, err := intParam(req, "limit", analytics.DefaultTopParticipants)
	if err != nil {
		r.respondError(w, err)
		return
	}
	serve(r, w, req, func(ctx context.Context, f meetings.Filter) ([]analytics.ParticipantStat, error) {
		return r.analytics.TopParticipants(ctx, f, limit)
	})
}

func (r *Router) sizes(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.SizeDistribution)
}

func (r *Router) hours(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.HourOfDay)
}

func (r *Router) weekdays(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.DayOfWeek)
}

func (r *Router) efficiency(w http.ResponseWriter, req *http.Request) {
	serve(r, w, req, r.analytics.Efficiency)
}

func (r *Router) filters(w http.ResponseWriter, req *http.Request) {
	opts, err := r.analytics.FilterOptions(req.Context())
	if err != nil {
		r.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, opts)
}

func (r *Router) meetings(w http.ResponseWriter, req *http.Request) {
	limit, err := intParam(req, "limit", defaultMeetingsLimit)
	if err != nil {
		r.respondError(w, err)
		return
	}
	if limit == 0 || limit > maxMeetingsLimit {
		limit = maxMeetingsLimit
	}
	serve(r, w, req, func(ctx context.Context, f meetings.Filter) ([]*meetings.Meeting, error) {
		f.Limit = limit
		list, err := r.analytics.Meetings(ctx, f)
		if list == nil {
			list = []*meetings.Meeting{}
		}
		return list, err
	})
}

func (r *Router) runs(w http.ResponseWriter, req *http.Request) {
	limit, err := intParam(req, "limit", defaultRunsLimit)
	if err != nil {
		r.respondError(w, err)
		return
	}
	list, err := r.backend.ListRuns(req.Context(), limit)
	if err != nil {
		r.respondError(w, err)
		return
	}
	if list == nil {
		list = []*meetings.SyncRun{}
	}
	respondJSON(w, http.StatusOK, list)
}

type chatRequest struct {
	Question string              `json:"question"`
	History  []assistant.Message `json:"history,omitempty"`
}

func (r *Router) chat(w http.ResponseWriter, req *http.Request) {
	if r.assistant == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "assistant is not configured"})
		return
	}
	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxChatBody)).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	answer, err := r.assistant.Ask(req.Context(), body.Question, body.History)
	if err != nil {
		r.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()
	status := r.backend.Health(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func (r *Router) version(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, buildinfo.Get())
}

func statusFor(err error) int {
	switch {
	case cierrors.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, cierrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cierrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) respondError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Error("request failed", logging.Err(err))
	}
	respondJSON(w, code, map[string]string{"error": err.Error()})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
