package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreakerAllowsWhileClosed(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 5, 10, 0.5, 100*time.Millisecond, 1)
	if !cb.Allow() {
		t.Error("expected a closed breaker to allow requests")
	}
}

func TestCircuitBreakerOpensAfterSustainedFailures(t *testing.T) {
	// Three buckets across 300ms, spaced so three consecutive failures each
	// land in a distinct bucket and are never overwritten by the next.
	cb := NewCircuitBreakerAdaptive(300*time.Millisecond, 3, 3, 0.5, 50*time.Millisecond, 1)

	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
		time.Sleep(110 * time.Millisecond)
	}
	if cb.Allow() {
		t.Error("expected the breaker to be open after a sustained failure rate")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(300*time.Millisecond, 3, 3, 0.5, 50*time.Millisecond, 1)
	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
		time.Sleep(110 * time.Millisecond)
	}
	if cb.Allow() {
		t.Fatal("expected the breaker to be open immediately after tripping")
	}
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Error("expected the breaker to admit a half-open probe after the cooldown")
	}
}

func TestCircuitBreakerClosesAfterSuccessfulProbe(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(300*time.Millisecond, 3, 3, 0.5, 50*time.Millisecond, 1)
	for i := 0; i < 3; i++ {
		cb.RecordResult(false)
		time.Sleep(110 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected a half-open probe to be admitted")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Error("expected the breaker to be closed and allowing again after a successful probe")
	}
}
