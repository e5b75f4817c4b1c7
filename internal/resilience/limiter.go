package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"golang.org/x/time/rate"
)

// RateLimiter gates outbound calls for one provider. Callers that exceed the
// request window block until capacity is available; they are never rejected.
// The one exception is the optional daily quota, which fails fast with
// [shared.ErrDailyQuotaExceeded] since no amount of waiting recovers capacity
// within the same day.
type RateLimiter struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	dailyQuota int
	used       int
	day        time.Time
	delay      time.Duration

	now func() time.Time
}

// NewRateLimiter creates a limiter from the provider's window configuration.
func NewRateLimiter(cfg shared.RateLimitConfig) *RateLimiter {
	requests := cfg.RequestsPerWindow
	if requests <= 0 {
		requests = 1
	}
	window := cfg.WindowSeconds
	if window <= 0 {
		window = 1
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}

	perSecond := float64(requests) / float64(window)

	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		dailyQuota: cfg.DailyQuota,
		now:        time.Now,
	}
}

// Wait consumes one unit of capacity, blocking until the window allows it.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if err := l.consumeQuota(); err != nil {
		return err
	}

	start := l.now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	l.mu.Lock()
	l.delay += l.now().Sub(start)
	l.mu.Unlock()

	return nil
}

// Delay returns the cumulative time callers have spent blocked on this limiter.
func (l *RateLimiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// consumeQuota counts the call against the daily quota, resetting the counter
// when the day rolls over.
func (l *RateLimiter) consumeQuota() error {
	if l.dailyQuota <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.now().Truncate(24 * time.Hour)
	if !today.Equal(l.day) {
		l.day = today
		l.used = 0
	}

	if l.used >= l.dailyQuota {
		return fmt.Errorf("%w: %d requests used", shared.ErrDailyQuotaExceeded, l.used)
	}

	l.used++
	return nil
}
