package control

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	c.RecordFailure("command_source_api", now)
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	c.RecordFailure("command_source_api", now)
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}
	if c.OpenedClass() != "command_source_api" {
		t.Fatalf("unexpected opened class: %s", c.OpenedClass())
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	c.RecordSuccess()
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after probe success, got %s", c.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, 50*time.Millisecond)
	now := time.Now()

	c.RecordFailure("command_source_api", now)
	if c.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", c.State())
	}
	if !c.Allow(now.Add(60 * time.Millisecond)) {
		t.Fatal("expected probe allowed after cooldown")
	}

	c.RecordFailure("command_source_api", now.Add(61*time.Millisecond))
	if c.State() != CircuitOpen {
		t.Fatalf("expected reopened after failed probe, got %s", c.State())
	}
}

func TestRetryBackoffSeconds(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 4},
		{6, 30},
		{10, 30},
	}
	for _, tc := range cases {
		if got := RetryBackoffSeconds(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %d, got %d", tc.attempt, tc.want, got)
		}
	}
}
