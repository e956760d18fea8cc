// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"sync"
	"time"
)

// BreakerState represents the state of a provider's circuit breaker.
type BreakerState string

const (
	// BreakerClosed allows invocations through.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen blocks invocations until the cooldown deadline.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen allows exactly one trial invocation.
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// CircuitBreaker isolates a failing provider. State transitions:
//
//	closed    --threshold consecutive failures--> open
//	open      --cooldown elapsed, next attempt--> half-open (one trial)
//	half-open --trial success--> closed (counter zeroed)
//	half-open --trial failure--> open (new cooldown)
//
// The open->closed path always passes through half-open. Each breaker
// carries its own lock so breaker updates for different providers never
// contend.
type CircuitBreaker struct {
	mu sync.Mutex

	state            BreakerState
	failures         int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	cooldownDeadline time.Time
	trialInFlight    bool
}

// NewCircuitBreaker creates a closed breaker. Zero threshold or cooldown
// select the defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether an invocation attempt may proceed, performing the
// open -> half-open transition when the cooldown has elapsed. While
// half-open, only the single trial invocation is admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Now().After(cb.cooldownDeadline) {
			cb.state = BreakerHalfOpen
			cb.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// Ready reports whether an attempt could be admitted right now, without
// transitioning state or claiming the half-open trial slot. Resolution
// filters on Ready; the slot itself is claimed by Allow at invocation
// time, so a provider that is resolved but never invoked leaves the
// breaker untouched.
func (cb *CircuitBreaker) Ready() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		return time.Now().After(cb.cooldownDeadline)
	case BreakerHalfOpen:
		return !cb.trialInFlight
	}
	return false
}

// RecordSuccess records a successful invocation. A half-open trial success
// closes the breaker and zeroes the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = BreakerClosed
	cb.trialInFlight = false
}

// RecordFailure records a failed invocation. Crossing the consecutive
// failure threshold, or failing the half-open trial, opens the breaker and
// arms a new cooldown deadline.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		cb.cooldownDeadline = time.Now().Add(cb.cooldown)
		cb.trialInFlight = false
	}
}

// State returns the current breaker state without side effects.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// LastFailure returns when the breaker last recorded a failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailure
}

// CooldownDeadline returns when an open breaker admits its next trial.
func (cb *CircuitBreaker) CooldownDeadline() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.cooldownDeadline
}
