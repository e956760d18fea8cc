// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "fmt"

// InsufficientProvidersError is returned when fewer providers answered
// successfully than the tier's minimum. Partial results are attached so
// callers can surface what was gathered.
type InsufficientProvidersError struct {
	Tier      string
	Required  int
	Succeeded int
}

// Error implements the error interface.
func (e *InsufficientProvidersError) Error() string {
	return fmt.Sprintf("tier %s requires %d successful responses, got %d",
		e.Tier, e.Required, e.Succeeded)
}

// UnknownTierError is returned for a request naming an unconfigured tier.
type UnknownTierError struct {
	Tier string
}

// Error implements the error interface.
func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier %q", e.Tier)
}

// EmptyPromptError is returned for a request with no prompt.
type EmptyPromptError struct{}

// Error implements the error interface.
func (e *EmptyPromptError) Error() string {
	return "prompt must not be empty"
}
