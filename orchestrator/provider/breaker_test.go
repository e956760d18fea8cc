// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if got := cb.State(); got != BreakerClosed {
			t.Fatalf("after %d failures state = %s, want closed", i+1, got)
		}
		if !cb.Allow() {
			t.Fatalf("closed breaker refused attempt after %d failures", i+1)
		}
	}

	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("after threshold failures state = %s, want open", got)
	}
	if cb.Allow() {
		t.Fatal("open breaker admitted an attempt before cooldown")
	}
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state = %s, want closed (counter should reset on success)", got)
	}
	if got := cb.ConsecutiveFailures(); got != 2 {
		t.Fatalf("consecutive failures = %d, want 2", got)
	}
}

func TestCircuitBreakerHalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker refused the half-open trial after cooldown")
	}
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", got)
	}

	// The trial is in flight; no second attempt is admitted.
	if cb.Allow() {
		t.Fatal("half-open breaker admitted a second attempt during the trial")
	}
}

func TestCircuitBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker refused the half-open trial")
	}
	cb.RecordSuccess()

	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state = %s, want closed after trial success", got)
	}
	if got := cb.ConsecutiveFailures(); got != 0 {
		t.Fatalf("consecutive failures = %d, want 0", got)
	}
	if !cb.Allow() {
		t.Fatal("closed breaker refused an attempt")
	}
}

func TestCircuitBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker refused the half-open trial")
	}
	cb.RecordFailure()

	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state = %s, want open after trial failure", got)
	}
	if cb.Allow() {
		t.Fatal("reopened breaker admitted an attempt before the new cooldown")
	}

	// Recovery always passes through half-open again.
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker refused a second trial after the new cooldown")
	}
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", got)
	}
}

func TestCircuitBreakerReadyIsSideEffectFree(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	if !cb.Ready() {
		t.Fatal("closed breaker not ready")
	}

	cb.RecordFailure()
	if cb.Ready() {
		t.Fatal("open breaker ready before cooldown")
	}

	time.Sleep(20 * time.Millisecond)

	// Ready reports the trial is available but never claims it: the state
	// stays open and the eventual Allow still gets the trial.
	for i := 0; i < 3; i++ {
		if !cb.Ready() {
			t.Fatalf("Ready #%d = false after cooldown", i+1)
		}
	}
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state after Ready = %s, want open", got)
	}

	if !cb.Allow() {
		t.Fatal("breaker refused the trial after Ready checks")
	}
	if cb.Ready() {
		t.Fatal("breaker ready while the trial is in flight")
	}
	cb.RecordSuccess()
	if !cb.Ready() {
		t.Fatal("closed breaker not ready after trial success")
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)

	for i := 0; i < DefaultBreakerThreshold-1; i++ {
		cb.RecordFailure()
	}
	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state = %s, want closed below default threshold", got)
	}
	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state = %s, want open at default threshold", got)
	}

	deadline := cb.CooldownDeadline()
	want := time.Now().Add(DefaultBreakerCooldown)
	if diff := want.Sub(deadline); diff < 0 || diff > time.Second {
		t.Fatalf("cooldown deadline %v not near now+%v", deadline, DefaultBreakerCooldown)
	}
}
