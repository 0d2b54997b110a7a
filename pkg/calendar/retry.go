package calendar

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
)

// RetryPolicy defines retry behavior for calendar API calls.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter is the fraction (0..1) of each backoff randomized away.
	Jitter float64

	// OnRetry is called before sleeping ahead of another attempt.
	OnRetry func(attempt int, err error, wait time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.2,
	}
}

// CalculateBackoff returns the wait before retry number retryCount (0-based), without jitter.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	backoff := p.InitialBackoff
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * factor)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

func (p RetryPolicy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * p.Jitter
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

// Do runs fn until it succeeds, returns a non-transient error, or attempts run out.
// Only errors categorized as transient are retried.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cierrors.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := p.withJitter(p.CalculateBackoff(attempt - 1))
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
