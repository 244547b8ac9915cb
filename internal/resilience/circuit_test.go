package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     resetTimeout,
	})
}

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	cb := testBreaker(3, time.Minute)
	fail := func(_ context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open circuit, got %v", cb.State())
	}

	err := cb.Execute(context.Background(), fail)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuit_SuccessResetsCounter(t *testing.T) {
	cb := testBreaker(3, time.Minute)

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed circuit, got %v", cb.State())
	}
}

func TestCircuit_HalfOpenProbeRecovers(t *testing.T) {
	cb := testBreaker(1, time.Minute)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	// After the reset timeout a probe is allowed; success closes.
	now = now.Add(2 * time.Minute)
	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
}

func TestCircuit_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := testBreaker(1, time.Minute)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("still down") })

	if cb.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %v", cb.State())
	}
}

func TestCircuit_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors pass through without tripping.
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("bad request") })
	if cb.State() != CircuitClosed {
		t.Errorf("permanent error must not trip, got %v", cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return NewTransientError(errors.New("unavailable"), 503)
	})
	if cb.State() != CircuitOpen {
		t.Errorf("transient error should trip, got %v", cb.State())
	}
}

func TestCircuit_ExecuteVal(t *testing.T) {
	cb := testBreaker(1, time.Minute)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 7 {
		t.Errorf("expected 7, got %d", val)
	}

	_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	_, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 9, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuit_Reset(t *testing.T) {
	cb := testBreaker(1, time.Hour)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("boom") })
	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %v", cb.State())
	}
}
