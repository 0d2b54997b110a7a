// Package syncer drives calendar synchronization: it plans the fetch window
// for the requested mode, walks it in chunks oldest first, normalizes events
// and writes them in batches, and reports what happened.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
)

// Mode selects how the sync window is computed.
type Mode string

const (
	// ModeFull fetches Years back through now.
	ModeFull Mode = "full"
	// ModeIncremental fetches from the newest stored start (minus the overlap margin) through now.
	ModeIncremental Mode = "incremental"
	// ModeWindow fetches the last Days through now.
	ModeWindow Mode = "window"
	// ModeRange fetches an explicit [From, To) range.
	ModeRange Mode = "range"
)

// Request describes one sync invocation.
type Request struct {
	Mode  Mode
	Years int
	Days  int
	From  time.Time
	To    time.Time
	Users []string
}

// Validate checks that the request carries what its mode needs.
func (r Request) Validate() error {
	if len(r.Users) == 0 {
		return fmt.Errorf("%w: no users to sync", cierrors.ErrValidation)
	}
	switch r.Mode {
	case ModeFull:
		if r.Years < 0 {
			return fmt.Errorf("%w: years must not be negative", cierrors.ErrValidation)
		}
	case ModeIncremental:
	case ModeWindow:
		if r.Days <= 0 {
			return fmt.Errorf("%w: days must be positive", cierrors.ErrValidation)
		}
	case ModeRange:
		if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
			return fmt.Errorf("%w: range needs from < to", cierrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown sync mode %q", cierrors.ErrValidation, r.Mode)
	}
	return nil
}

// Options tune the sync driver.
type Options struct {
	CalendarID          string
	DefaultYears        int
	ChunkSize           time.Duration
	BatchSize           int
	OverlapMargin       time.Duration
	IncrementalFallback time.Duration
	// LockTTL bounds how long a per-user lock is held when a Locker is set.
	LockTTL time.Duration
}

// OptionsFromConfig derives Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CalendarID:          cfg.Calendar.CalendarID,
		DefaultYears:        cfg.Sync.DefaultYears,
		ChunkSize:           time.Duration(cfg.Sync.ChunkDays) * 24 * time.Hour,
		BatchSize:           cfg.Sync.BatchSize,
		OverlapMargin:       cfg.Sync.OverlapMargin.Std(),
		IncrementalFallback: time.Duration(cfg.Sync.IncrementalFallbackDays) * 24 * time.Hour,
		LockTTL:             time.Hour,
	}
}

func (o *Options) applyDefaults() {
	if o.CalendarID == "" {
		o.CalendarID = config.DefaultCalendarID
	}
	if o.DefaultYears <= 0 {
		o.DefaultYears = config.DefaultYears
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = config.DefaultChunkDays * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = config.DefaultBatchSize
	}
	if o.OverlapMargin < 0 {
		o.OverlapMargin = 0
	}
	if o.IncrementalFallback <= 0 {
		o.IncrementalFallback = config.DefaultIncrementalFallbackDays * 24 * time.Hour
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Hour
	}
}

// latestStarter is the part of the repository that window planning needs.
type latestStarter interface {
	LatestStart(ctx context.Context, user string) (time.Time, bool, error)
}

// planWindow computes the [start, now) window for user.
func planWindow(ctx context.Context, repo latestStarter, req Request, opts Options, user string, now time.Time) (calendar.Window, error) {
	now = now.UTC()
	switch req.Mode {
	case ModeFull:
		years := req.Years
		if years == 0 {
			years = opts.DefaultYears
		}
		return calendar.Window{Start: now.AddDate(-years, 0, 0), End: now}, nil

	case ModeWindow:
		return calendar.Window{Start: now.AddDate(0, 0, -req.Days), End: now}, nil

	case ModeRange:
		return calendar.Window{Start: req.From.UTC(), End: req.To.UTC()}, nil

	case ModeIncremental:
		latest, ok, err := repo.LatestStart(ctx, user)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("planning incremental window for %s: %w", user, err)
		}
		if !ok {
			return calendar.Window{Start: now.Add(-opts.IncrementalFallback), End: now}, nil
		}
		start := latest.UTC().Add(-opts.OverlapMargin)
		// A stored meeting in the future must not produce an empty window.
		if floor := now.Add(-opts.OverlapMargin); start.After(floor) {
			start = floor
		}
		if !start.Before(now) {
			start = now.Add(-time.Minute)
		}
		return calendar.Window{Start: start, End: now}, nil
	}
	return calendar.Window{}, fmt.Errorf("%w: unknown sync mode %q", cierrors.ErrValidation, req.Mode)
}
