package crawler

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy decides whether and when a failed fetch attempt is repeated.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// FixedRetryPolicy retries every transport failure with a constant delay.
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy allowing maxAttempts attempts in total.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &FixedRetryPolicy{
		maxAttempts: maxAttempts,
		delay:       delay,
	}
}

// ShouldRetry reports whether another attempt may follow attempt (1-based).
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	// Per-attempt timeouts are retried; only an explicit cancellation stops the loop.
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// MaxAttempts returns the attempt bound.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
