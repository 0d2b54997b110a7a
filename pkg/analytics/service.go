package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
)

// DefaultTopParticipants is the participant limit used when none is given.
const DefaultTopParticipants = 10

// Reader is the read side of meetings.Repository.
type Reader interface {
	List(ctx context.Context, f meetings.Filter) ([]*meetings.Meeting, error)
	DistinctValues(ctx context.Context, column string) ([]string, error)
	DateRange(ctx context.Context) (first, last time.Time, ok bool, err error)
}

// Service answers dashboard queries.
type Service struct {
	repo   Reader
	cache  Cache
	ttl    time.Duration
	loc    *time.Location
	logger logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache caches results in c for ttl.
func WithCache(c Cache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithLocation sets the zone used for week, hour and weekday grouping.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) { s.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service over repo.
func NewService(repo Reader, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, loc: time.UTC, logger: logging.NewNopLogger()}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	s.logger = s.logger.With(logging.F("component", "analytics"))
	return s
}

func cacheKey(name string, f meetings.Filter, extra string) string {
	raw, _ := json.Marshal(f)
	sum := sha256.Sum256(append(raw, extra...))
	return name + ":" + hex.EncodeToString(sum[:12])
}

// cached returns the cached value for key or computes it from the meetings
// matching f. Cache failures are logged and otherwise ignored.
func cached[T any](ctx context.Context, s *Service, name string, f meetings.Filter, extra string, compute func([]*meetings.Meeting) T) (T, error) {
	var zero T
	key := cacheKey(name, f, extra)
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Debug("analytics cache read failed", logging.Err(err), logging.F("query", name))
		} else if ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}
	}

	ms, err := s.repo.List(ctx, f)
	if err != nil {
		return zero, fmt.Errorf("loading meetings for %s: %w", name, err)
	}
	v := compute(ms)

	if s.cache != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.logger.Debug("analytics cache write failed", logging.Err(err), logging.F("query", name))
			}
		}
	}
	return v, nil
}

// Meetings lists the records matching f, uncached.
func (s *Service) Meetings(ctx context.Context, f meetings.Filter) ([]*meetings.Meeting, error) {
	return s.repo.List(ctx, f)
}

// Overview summarizes the meetings matching f.
func (s *Service) Overview(ctx context.Context, f meetings.Filter) (Overview, error) {
	return cached(ctx, s, "overview", f, "", ComputeOverview)
}

// WeeklyTrends groups the meetings matching f by ISO week.
func (s *Service) WeeklyTrends(ctx context.Context, f meetings.Filter) ([]WeekTrend, error) {
	return cached(ctx, s, "trends", f, s.loc.String(), func(ms []*meetings.Meeting) []WeekTrend {
		return ComputeWeeklyTrends(ms, s.loc)
	})
}

// DepartmentBreakdown groups the meetings matching f by department.
func (s *Service) DepartmentBreakdown(ctx context.Context, f meetings.Filter) ([]DepartmentStat, error) {
	return cached(ctx, s, "departments", f, "", ComputeDepartmentBreakdown)
}

// TopParticipants returns the busiest calendar owners.
func (s *Service) TopParticipants(ctx context.Context, f meetings.Filter, limit int) ([]ParticipantStat, error) {
	if limit <= 0 {
		limit = DefaultTopParticipants
	}
	return cached(ctx, s, "participants", f, fmt.Sprint(limit), func(ms []*meetings.Meeting) []ParticipantStat {
		return ComputeTopParticipants(ms, limit)
	})
}

// SizeDistribution counts the meetings matching f per size category.
func (s *Service) SizeDistribution(ctx context.Context, f meetings.Filter) ([]SizeBucket, error) {
	return cached(ctx, s, "sizes", f, "", ComputeSizeDistribution)
}

// HourOfDay counts meeting starts per hour.
func (s *Service) HourOfDay(ctx context.Context, f meetings.Filter) ([]HourBucket, error) {
	return cached(ctx, s, "hours", f, s.loc.String(), func(ms []*meetings.Meeting) []HourBucket {
		return ComputeHourOfDay(ms, s.loc)
	})
}

// DayOfWeek aggregates the meetings matching f per weekday.
func (s *Service) DayOfWeek(ctx context.Context, f meetings.Filter) ([]DayBucket, error) {
	return cached(ctx, s, "weekdays", f, s.loc.String(), func(ms []*meetings.Meeting) []DayBucket {
		return ComputeDayOfWeek(ms, s.loc)
	})
}

// Efficiency scores the meetings matching f.
func (s *Service) Efficiency(ctx context.Context, f meetings.Filter) (Efficiency, error) {
	return cached(ctx, s, "efficiency", f, "", ComputeEfficiency)
}

// FilterOptions returns the distinct filter values and the stored date range.
func (s *Service) FilterOptions(ctx context.Context) (FilterOptions, error) {
	var opts FilterOptions
	var err error
	if opts.Departments, err = s.repo.DistinctValues(ctx, "department"); err != nil {
		return FilterOptions{}, err
	}
	if opts.Divisions, err = s.repo.DistinctValues(ctx, "division"); err != nil {
		return FilterOptions{}, err
	}
	if opts.Users, err = s.repo.DistinctValues(ctx, "user_email"); err != nil {
		return FilterOptions{}, err
	}
	first, last, ok, err := s.repo.DateRange(ctx)
	if err != nil {
		return FilterOptions{}, err
	}
	if ok {
		opts.MinDate, opts.MaxDate = &first, &last
	}
	return opts, nil
}

// Invalidate drops every cached result.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Flush(ctx)
}

// InvalidateOnSync flushes the cache whenever a sync run completes, until
// ctx is cancelled.
func (s *Service) InvalidateOnSync(ctx context.Context, client redis.UniversalClient) error {
	return observability.SubscribeSyncCompleted(ctx, client, s.logger, func(ev observability.SyncCompletedEvent) {
		if err := s.Invalidate(ctx); err != nil {
			s.logger.Warn("analytics cache flush failed", logging.Err(err), logging.F("run_id", ev.RunID))
			return
		}
		s.logger.Info("analytics cache flushed", logging.F("run_id", ev.RunID), logging.F("inserted", ev.Inserted), logging.F("updated", ev.Updated))
	})
}
