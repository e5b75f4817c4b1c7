package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy wraps a fallible operation with bounded attempts and
// exponential backoff plus jitter. Only errors the Classify function reports
// as recoverable are retried; everything else fails immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Classify    func(error) bool

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy with the given bounds. A nil classify
// function retries every error.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, jitter float64, classify func(error) bool) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Jitter:      jitter,
		Classify:    classify,
		sleep:       sleepContext,
	}
}

// Do runs fn until it succeeds, exhausts attempts, or hits a non-recoverable
// error. Returns the number of attempts made alongside the final error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := fn()
		if err == nil {
			return attempts, nil
		}

		if p.Classify != nil && !p.Classify(err) {
			return attempts, err
		}
		if attempts >= p.MaxAttempts {
			return attempts, err
		}

		if sleepErr := p.sleep(ctx, p.backoff(attempts)); sleepErr != nil {
			return attempts, sleepErr
		}
	}
}

// backoff computes the delay before the next attempt: base * 2^(attempt-1),
// capped at MaxDelay, spread by the jitter fraction.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		spread := 1 + p.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * spread)
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
