package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("plain failure"))
	cb.OnError(fmt.Errorf("wrapped: %w", RateLimitError{Provider: "google"}))
	if !cb.Allow() {
		t.Fatalf("expected breaker closed below threshold")
	}
	cb.OnError(RateLimitError{Provider: "google"})
	if cb.Allow() {
		t.Fatalf("expected breaker open")
	}
	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after cooldown")
	}
	cb.OnSuccess()
	if cb.failures != 0 || cb.State() != BreakerClosed {
		t.Fatalf("expected failures reset")
	}
}

func TestCircuitBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute).WithTrip(TripOnOutage)
	cb.now = func() time.Time { return now }

	cb.OnError(context.DeadlineExceeded)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	now = now.Add(time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half open, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected probe allowed")
	}
	if cb.Allow() {
		t.Fatalf("expected second caller rejected while probing")
	}
	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen {
		t.Fatalf("expected failed probe to reopen, got %s", cb.State())
	}
}

func TestTripOnOutageIgnoresCancellation(t *testing.T) {
	if TripOnOutage(context.Canceled) || TripOnOutage(errors.New("bad request")) {
		t.Fatalf("expected non-outage errors ignored")
	}
	if !TripOnOutage(fmt.Errorf("dial: %w", context.DeadlineExceeded)) {
		t.Fatalf("expected timeout to trip")
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on second attempt, got %d %v", attempts, err)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	p := RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return fmt.Errorf("attempt %d", attempts)
	})
	if err == nil || err.Error() != "attempt 2" || attempts != 2 {
		t.Fatalf("unexpected result %d %v", attempts, err)
	}
}
