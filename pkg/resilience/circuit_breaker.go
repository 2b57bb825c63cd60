package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned (wrapped) when a breaker rejects a call.
var ErrOpen = errors.New("circuit open")

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// TripOnOutage counts rate limits and upstream timeouts. Caller
// cancellation and malformed requests never trip a breaker.
func TripOnOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsRateLimit(err) || errors.Is(err, context.DeadlineExceeded)
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker rejects calls after threshold consecutive tripping
// failures. Once the cooldown elapses a single probe is let through; its
// outcome closes or reopens the breaker.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool
	trips     func(error) bool
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trips: IsRateLimit, now: time.Now}
}

// WithTrip replaces the predicate deciding which errors count as failures.
func (c *CircuitBreaker) WithTrip(fn func(error) bool) *CircuitBreaker {
	if fn != nil {
		c.mu.Lock()
		c.trips = fn
		c.mu.Unlock()
	}
	return c
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return false
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *CircuitBreaker) stateLocked() BreakerState {
	if c.openUntil.IsZero() {
		return BreakerClosed
	}
	if c.now().Before(c.openUntil) {
		return BreakerOpen
	}
	return BreakerHalfOpen
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.probing = false
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasProbe := c.probing
	c.probing = false
	if !c.trips(err) {
		return
	}
	c.failures++
	if wasProbe || c.failures >= c.threshold {
		c.openUntil = c.now().Add(c.cooldown)
	}
}
