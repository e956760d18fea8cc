// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator coordinates answer generation across a
// heterogeneous provider set.
//
// A request names a task tier (basic, premium, critical). The engine
// resolves the tier's providers from the registry, fans the prompt out
// in parallel (or chains providers sequentially for tiers configured
// that way), folds per-provider failures into the result set, and hands
// the successful responses to the consensus scorer. When the integrated
// confidence or agreement falls below the tier's thresholds and the
// tier names escalation providers, one additional round widens the pool
// before the final integration.
//
// Successful provider responses are stored in the response cache keyed
// by provider, normalized prompt, and generation parameters; on a
// repeated prompt a provider's cached response stands in for a fresh
// invocation and still counts toward the tier minimum. Session requests
// skip the cache and append their turn to the session store instead.
package orchestrator
