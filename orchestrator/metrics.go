// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"quorum/platform/orchestrator/provider"
)

// Prometheus metrics for request orchestration.
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_requests_total",
			Help: "Total orchestration requests by tier and status",
		},
		[]string{"tier", "status"},
	)

	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_request_duration_seconds",
			Help:    "End-to-end request latency by tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	promInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_provider_invocations_total",
			Help: "Provider invocations by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	promInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_provider_invocation_duration_seconds",
			Help:    "Provider invocation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	promConsensusConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_consensus_confidence",
			Help:    "Final confidence score distribution by tier",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"tier"},
	)

	promConsensusAgreement = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorum_consensus_agreement",
			Help:    "Agreement score distribution by tier",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"tier"},
	)

	promCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_cache_requests_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	promEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_escalations_total",
			Help: "Escalation rounds by tier",
		},
		[]string{"tier"},
	)

	promBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorum_breaker_open",
			Help: "1 when a provider's circuit breaker is open",
		},
		[]string{"provider"},
	)

	promCostEstimate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_cost_estimate_usd_total",
			Help: "Accumulated estimated spend by provider",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promInvocationsTotal)
	prometheus.MustRegister(promInvocationDuration)
	prometheus.MustRegister(promConsensusConfidence)
	prometheus.MustRegister(promConsensusAgreement)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promEscalations)
	prometheus.MustRegister(promBreakerState)
	prometheus.MustRegister(promCostEstimate)
}

func recordRequest(tier string, status string, d time.Duration) {
	promRequestsTotal.WithLabelValues(tier, status).Inc()
	promRequestDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func recordInvocation(res *provider.InvocationResult) {
	promInvocationsTotal.WithLabelValues(res.ProviderID, string(res.Outcome)).Inc()
	promInvocationDuration.WithLabelValues(res.ProviderID).Observe(res.Latency.Seconds())
	if res.Cost > 0 {
		promCostEstimate.WithLabelValues(res.ProviderID).Add(res.Cost)
	}
}

func recordConsensus(tier string, confidence, agreement float64) {
	promConsensusConfidence.WithLabelValues(tier).Observe(confidence)
	promConsensusAgreement.WithLabelValues(tier).Observe(agreement)
}

func recordCacheLookup(hit bool) {
	if hit {
		promCacheHits.WithLabelValues("hit").Inc()
	} else {
		promCacheHits.WithLabelValues("miss").Inc()
	}
}

func recordBreakerState(providerID string, state provider.BreakerState) {
	v := 0.0
	if state == provider.BreakerOpen {
		v = 1.0
	}
	promBreakerState.WithLabelValues(providerID).Set(v)
}
