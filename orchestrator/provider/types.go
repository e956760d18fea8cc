// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider defines the provider abstraction used by the Quorum
// orchestrator: descriptors for configured backends, the uniform Invoker
// interface wrapping one external generator, the registry that resolves
// providers per task tier, and the per-provider circuit breaker.
package provider

import (
	"fmt"
	"time"
)

// Tier is the request quality class controlling provider count and
// consensus thresholds.
type Tier string

const (
	// TierBasic uses the minimum provider set (cheapest).
	TierBasic Tier = "basic"

	// TierPremium uses a wider provider set with stricter thresholds.
	TierPremium Tier = "premium"

	// TierCritical uses the widest set and permits escalation.
	TierCritical Tier = "critical"
)

// ValidTiers contains all valid tier values.
var ValidTiers = []Tier{TierBasic, TierPremium, TierCritical}

// IsValidTier checks if a string is a valid tier.
func IsValidTier(s string) bool {
	for _, t := range ValidTiers {
		if Tier(s) == t {
			return true
		}
	}
	return false
}

// InvocationKind identifies how a provider is reached.
// The set is closed: every adapter is one of these three.
type InvocationKind string

const (
	// KindSubprocess invokes a local CLI binary per request.
	KindSubprocess InvocationKind = "subprocess"

	// KindSDK invokes a vendor SDK (e.g. AWS Bedrock runtime).
	KindSDK InvocationKind = "sdk"

	// KindHTTP invokes a remote HTTP completion API.
	KindHTTP InvocationKind = "http"
)

// ValidKinds contains all valid invocation kinds.
var ValidKinds = []InvocationKind{KindSubprocess, KindSDK, KindHTTP}

// IsValidKind checks if a string is a valid invocation kind.
func IsValidKind(s string) bool {
	for _, k := range ValidKinds {
		if InvocationKind(s) == k {
			return true
		}
	}
	return false
}

// TrustClass ranks how much weight a provider's answer carries during
// consensus integration.
type TrustClass string

const (
	TrustInternal  TrustClass = "internal"
	TrustPartner   TrustClass = "partner"
	TrustCommunity TrustClass = "community"
)

// defaultTrustPriors are the confidence priors used when the configuration
// does not override them.
var defaultTrustPriors = map[TrustClass]float64{
	TrustInternal:  0.9,
	TrustPartner:   0.7,
	TrustCommunity: 0.5,
}

// Prior returns the default confidence prior for the trust class.
// Unknown classes rank below community.
func (t TrustClass) Prior() float64 {
	if p, ok := defaultTrustPriors[t]; ok {
		return p
	}
	return 0.3
}

// Rank orders trust classes for tie-breaking (higher is more trusted).
func (t TrustClass) Rank() int {
	switch t {
	case TrustInternal:
		return 3
	case TrustPartner:
		return 2
	case TrustCommunity:
		return 1
	default:
		return 0
	}
}

// CostClass is a coarse pricing bucket used for provider ordering and
// cost estimation.
type CostClass string

const (
	CostLow      CostClass = "low"
	CostStandard CostClass = "standard"
	CostPremium  CostClass = "premium"
)

// costPerKiloToken is a rough blended price per 1000 tokens by cost class.
var costPerKiloToken = map[CostClass]float64{
	CostLow:      0.0005,
	CostStandard: 0.004,
	CostPremium:  0.03,
}

// EstimateCost returns a blended cost estimate in USD for a token count.
func (c CostClass) EstimateCost(tokens int) float64 {
	per1K, ok := costPerKiloToken[c]
	if !ok {
		per1K = costPerKiloToken[CostStandard]
	}
	return per1K * float64(tokens) / 1000
}

// Descriptor describes one configured provider. Descriptors are owned by
// the Registry and read-only to every other component.
type Descriptor struct {
	// ID is the unique identifier for this provider instance.
	ID string `json:"id" yaml:"id"`

	// Kind identifies the invocation path (subprocess, sdk, http).
	Kind InvocationKind `json:"kind" yaml:"kind"`

	// TrustClass ranks the provider's answers during consensus.
	TrustClass TrustClass `json:"trust_class" yaml:"trust_class"`

	// CostClass is the pricing bucket.
	CostClass CostClass `json:"cost_class" yaml:"cost_class"`

	// MaxConcurrent bounds in-flight invocations (0 = default of 4).
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// Tiers lists the task tiers this provider serves.
	Tiers []Tier `json:"tiers" yaml:"tiers"`

	// Priority orders providers within a tier (higher first).
	Priority int `json:"priority" yaml:"priority"`

	// Aggregator marks the provider whose response is preferred as the
	// integration surface when it participated in the request.
	Aggregator bool `json:"aggregator,omitempty" yaml:"aggregator,omitempty"`

	// RestrictTo pins a policy-restricted provider to a single invocation
	// path. A descriptor whose Kind differs from a non-empty RestrictTo is
	// a configuration error, never a runtime fallback.
	RestrictTo InvocationKind `json:"restrict_to,omitempty" yaml:"restrict_to,omitempty"`

	// Endpoint is the API endpoint URL or the CLI binary path.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Model is the default model identifier for the backend.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// APIKey authenticates HTTP providers. For SDK providers this may be
	// empty (ambient credentials).
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Region is the cloud region for SDK providers.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Args are extra command-line arguments for subprocess providers.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// RateLimit is the max invocations per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// TimeoutSeconds is the per-invocation timeout (0 = request deadline).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// Enabled indicates whether the provider may be resolved.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ServesTier reports whether the descriptor serves the given tier.
func (d *Descriptor) ServesTier(tier Tier) bool {
	for _, t := range d.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Validate checks descriptor consistency. A RestrictTo/Kind mismatch is the
// configuration error called out by the registry contract.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if !IsValidKind(string(d.Kind)) {
		return fmt.Errorf("provider %q: invalid invocation kind %q", d.ID, d.Kind)
	}
	if d.RestrictTo != "" && d.RestrictTo != d.Kind {
		return fmt.Errorf("provider %q is restricted to %s invocation but configured as %s",
			d.ID, d.RestrictTo, d.Kind)
	}
	for _, t := range d.Tiers {
		if !IsValidTier(string(t)) {
			return fmt.Errorf("provider %q: invalid tier %q", d.ID, t)
		}
	}
	if d.MaxConcurrent < 0 {
		return fmt.Errorf("provider %q: max_concurrent must be >= 0", d.ID)
	}
	return nil
}

// Invocation carries everything an adapter needs for one call.
type Invocation struct {
	// Prompt is the user's request text.
	Prompt string `json:"prompt"`

	// Context holds prior turns and, in sequential mode, the preceding
	// provider's output. Adapters prepend it to the prompt.
	Context []string `json:"context,omitempty"`

	// Params are the generation parameters.
	Params Params `json:"params"`
}

// Params are the normalized generation parameters shared by all adapters.
type Params struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// Response is a successful adapter result.
type Response struct {
	// Text is the generated answer.
	Text string `json:"text"`

	// Model is the model that actually served the call.
	Model string `json:"model,omitempty"`

	// TokensUsed is the provider-reported or estimated token count.
	TokensUsed int `json:"tokens_used"`

	// Truncated indicates generation stopped at the token limit.
	Truncated bool `json:"truncated,omitempty"`
}

// Outcome classifies one invocation attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// InvocationResult records one provider invocation within a request.
// Results are immutable once produced and live only for the request
// (plus the session turn record).
type InvocationResult struct {
	ProviderID string        `json:"provider_id"`
	TrustClass TrustClass    `json:"trust_class"`
	Outcome    Outcome       `json:"outcome"`
	Text       string        `json:"text,omitempty"`
	Err        string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	TokensUsed int           `json:"tokens_used"`
	Cost       float64       `json:"cost_estimate"`
	Cached     bool          `json:"cached,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Succeeded reports whether the invocation produced usable text.
func (r *InvocationResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
