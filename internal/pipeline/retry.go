package pipeline

import (
	"context"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

// Clock abstracts time for the retry policy. Tests inject a fake.
type Clock struct {
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock {
	return Clock{
		Now: func() time.Time { return time.Now().UTC() },
		Sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Retry is the per-stage retry state. Attempt counts attempts made so far;
// NextEligible is when the next attempt may start.
type Retry struct {
	Attempt      int
	NextEligible time.Time

	maxRetries int
	backoff    time.Duration
}

// NewRetry allows maxRetries retries after the first attempt, spaced by backoff.
func NewRetry(maxRetries int, backoff time.Duration) *Retry {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retry{maxRetries: maxRetries, backoff: backoff}
}

// Begin records the start of an attempt.
func (r *Retry) Begin() { r.Attempt++ }

// Failed records a failed attempt at now and reports whether another
// attempt is allowed. Only transient store errors are retried.
func (r *Retry) Failed(err error, now time.Time) bool {
	if !core.IsTransient(err) {
		return false
	}
	if r.Attempt-1 >= r.maxRetries {
		return false
	}
	r.NextEligible = now.Add(r.backoff)
	return true
}

// Wait sleeps until NextEligible.
func (r *Retry) Wait(ctx context.Context, clock Clock) error {
	d := r.NextEligible.Sub(clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	return clock.Sleep(ctx, d)
}
