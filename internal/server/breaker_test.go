package server

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newCircuitBreaker(3, time.Hour)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// Open: calls are rejected without running fn.
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, errCircuitOpen) {
		t.Errorf("expected errCircuitOpen, got %v", err)
	}
	if ran {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newCircuitBreaker(2, 10*time.Millisecond)
	boom := errors.New("boom")

	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, errCircuitOpen) {
		t.Fatalf("circuit should be open, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)

	// Cooldown elapsed: one probe is allowed and success closes it.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("circuit should be closed: %v", err)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(2, 10*time.Millisecond)
	boom := errors.New("boom")

	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("half-open probe should run fn, got %v", err)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, errCircuitOpen) {
		t.Errorf("failed probe should reopen the circuit, got %v", err)
	}
}
