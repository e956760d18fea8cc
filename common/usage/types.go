// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package usage

// RequestEvent represents one orchestration request to be recorded.
type RequestEvent struct {
	RequestID     string
	Tier          string
	Status        string // "ok", "insufficient"
	SessionID     string // Optional: set for conversational requests
	Cached        bool   // Every response served from the provider cache
	Escalated     bool
	Confidence    float64
	Agreement     float64
	ProviderCount int
	LatencyMs     int64
}

// InvocationEvent represents one provider invocation to be recorded.
type InvocationEvent struct {
	RequestID  string
	ProviderID string
	TrustClass string
	Outcome    string // "success", "timeout", "error"
	TokensUsed int
	CostCents  int
	LatencyMs  int64
}
