package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failingBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	b := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	return b
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute}
	b := failingBreaker(t, cfg)

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open state, got %s", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute}
	b := New(cfg)

	for i := 0; i < 5; i++ {
		_ = b.Do(func() error { return errBackend })
		_ = b.Do(func() error { return nil })
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed state after interleaved successes, got %s", got)
	}
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond}
	b := failingBreaker(t, cfg)

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("expected probe to pass, got %v", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed state after successful probes, got %s", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond}
	b := failingBreaker(t, cfg)

	time.Sleep(20 * time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	if got := b.State(); got != StateOpen {
		t.Errorf("expected reopened state after half-open failure, got %s", got)
	}
}
