package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newBreaker := func(threshold int, recovery time.Duration) *CircuitBreaker {
		b := NewCircuitBreaker(threshold, recovery)
		b.now = func() time.Time { return clock }
		return b
	}

	t.Run("opens after consecutive failures", func(t *testing.T) {
		b := newBreaker(2, time.Minute)

		if !b.CanExecute() {
			t.Fatal("closed breaker should allow execution")
		}

		b.RecordFailure()
		if b.State() != Closed {
			t.Errorf("one failure should not open breaker, state %s", b.State())
		}

		b.RecordFailure()
		if b.State() != Open {
			t.Errorf("expected open after threshold, got %s", b.State())
		}
		if b.CanExecute() {
			t.Error("open breaker should reject execution")
		}
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		b := newBreaker(2, time.Minute)

		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()

		if b.State() != Closed {
			t.Errorf("expected closed, got %s", b.State())
		}
	})

	t.Run("half-open probe after recovery timeout", func(t *testing.T) {
		b := newBreaker(1, time.Minute)
		b.RecordFailure()

		if b.CanExecute() {
			t.Fatal("open breaker should reject before timeout")
		}

		clock = clock.Add(time.Minute)
		if !b.CanExecute() {
			t.Fatal("expected probe allowed after recovery timeout")
		}
		if b.State() != HalfOpen {
			t.Errorf("expected half-open, got %s", b.State())
		}
		if b.CanExecute() {
			t.Error("only a single probe should be admitted")
		}
	})

	t.Run("probe success closes the breaker", func(t *testing.T) {
		b := newBreaker(1, time.Minute)
		b.RecordFailure()
		clock = clock.Add(time.Minute)

		if !b.CanExecute() {
			t.Fatal("expected probe allowed")
		}
		b.RecordSuccess()

		if b.State() != Closed {
			t.Errorf("expected closed after probe success, got %s", b.State())
		}
		if !b.CanExecute() {
			t.Error("closed breaker should allow execution")
		}
	})

	t.Run("probe failure reopens the breaker", func(t *testing.T) {
		b := newBreaker(5, time.Minute)
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		clock = clock.Add(time.Minute)

		if !b.CanExecute() {
			t.Fatal("expected probe allowed")
		}
		b.RecordFailure()

		if b.State() != Open {
			t.Errorf("expected open after probe failure, got %s", b.State())
		}
		if b.CanExecute() {
			t.Error("reopened breaker should reject execution")
		}
	})
}
