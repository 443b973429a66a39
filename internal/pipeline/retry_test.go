package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

// ----------------------------------------------------------------------------
// fake clock
// ----------------------------------------------------------------------------

// fakeClock advances only when slept on.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (f *fakeClock) Clock() Clock {
	return Clock{
		Now: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.now
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.now = f.now.Add(d)
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}
}

func (f *fakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// ----------------------------------------------------------------------------
// Retry
// ----------------------------------------------------------------------------

func TestRetry_TransientUntilExhausted(t *testing.T) {
	now := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	r := NewRetry(3, 30*time.Second)
	transient := core.Transient("test", errors.New("connection refused"))

	for i := 1; i <= 3; i++ {
		r.Begin()
		if !r.Failed(transient, now) {
			t.Fatalf("attempt %d: Failed = false, want retry", i)
		}
		if want := now.Add(30 * time.Second); !r.NextEligible.Equal(want) {
			t.Errorf("attempt %d: NextEligible = %v, want %v", i, r.NextEligible, want)
		}
	}

	r.Begin()
	if r.Failed(transient, now) {
		t.Error("fourth attempt: Failed = true, want give up after 3 retries")
	}
	if r.Attempt != 4 {
		t.Errorf("Attempt = %d, want 4", r.Attempt)
	}
}

func TestRetry_NonTransientNeverRetried(t *testing.T) {
	errs := []error{
		core.Configuration("test", errors.New("bad weights")),
		core.QualityGate("test", errors.New("score 40")),
		core.Integrity("test", errors.New("two current versions")),
		errors.New("unclassified"),
	}
	for _, err := range errs {
		r := NewRetry(3, time.Second)
		r.Begin()
		if r.Failed(err, time.Now()) {
			t.Errorf("Failed(%v) = true, want false", err)
		}
	}
}

func TestRetry_ZeroRetries(t *testing.T) {
	r := NewRetry(0, time.Second)
	r.Begin()
	if r.Failed(core.Transient("test", errors.New("timeout")), time.Now()) {
		t.Error("Failed = true with max_retries 0")
	}
}

func TestRetry_WaitUsesClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	fc := newFakeClock(start)
	r := NewRetry(1, 30*time.Second)
	r.Begin()
	r.Failed(core.Transient("test", errors.New("deadlock detected")), start)

	if err := r.Wait(context.Background(), fc.Clock()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	sleeps := fc.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Errorf("sleeps = %v, want [30s]", sleeps)
	}
}

func TestRetry_WaitCancelled(t *testing.T) {
	fc := newFakeClock(time.Now())
	r := NewRetry(1, time.Minute)
	r.Begin()
	r.Failed(core.Transient("test", errors.New("timeout")), fc.Clock().Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx, fc.Clock()); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}
