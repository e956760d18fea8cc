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

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/platform/cache"
	"quorum/platform/common/usage"
	"quorum/platform/config"
	"quorum/platform/orchestrator/consensus"
	"quorum/platform/orchestrator/provider"
	"quorum/platform/session"
	"quorum/platform/shared/logger"
)

// maxContextTurns bounds how many prior session turns are forwarded to
// providers as context.
const maxContextTurns = 10

// Engine coordinates a request across the provider set: resolution,
// fan-out, consensus integration, one bounded escalation round, caching,
// and session bookkeeping.
type Engine struct {
	cfg      *config.Config
	registry *provider.Registry
	scorer   *consensus.Engine
	cache    cache.ResponseCache
	sessions session.Store
	events   EventSink
	usage    usage.Recorder
	log      *logger.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithCache attaches a response cache.
func WithCache(c cache.ResponseCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithSessions attaches a session store.
func WithSessions(s session.Store) EngineOption {
	return func(e *Engine) { e.sessions = s }
}

// WithEvents attaches an event sink.
func WithEvents(s EventSink) EngineOption {
	return func(e *Engine) { e.events = s }
}

// WithUsage attaches a usage recorder.
func WithUsage(r usage.Recorder) EngineOption {
	return func(e *Engine) { e.usage = r }
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an orchestration engine.
func NewEngine(cfg *config.Config, registry *provider.Registry, scorer *consensus.Engine, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		scorer:   scorer,
		events:   NopEvents{},
		usage:    usage.NopRecorder{},
		log:      logger.New("orchestrator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the provider registry backing the engine.
func (e *Engine) Registry() *provider.Registry { return e.registry }

// Sessions returns the attached session store, or nil.
func (e *Engine) Sessions() session.Store { return e.sessions }

// Cache returns the attached response cache, or nil.
func (e *Engine) Cache() cache.ResponseCache { return e.cache }

// Request is one orchestration request.
type Request struct {
	// Prompt is the user's request text.
	Prompt string `json:"prompt"`

	// Tier selects the quality class; empty defaults to basic.
	Tier provider.Tier `json:"tier,omitempty"`

	// SessionID continues an existing conversation. Session requests
	// bypass the response cache.
	SessionID string `json:"session_id,omitempty"`

	// Paths restricts which invocation paths may serve the request.
	// Empty means all paths.
	Paths []provider.InvocationKind `json:"paths,omitempty"`

	// Providers restricts the request to these provider ids. Empty means
	// every provider serving the tier is eligible.
	Providers []string `json:"providers,omitempty"`

	// Sequential overrides the tier's invocation mode for this request:
	// chained invocations when true, parallel fan-out when false. Nil
	// keeps the tier default.
	Sequential *bool `json:"sequential,omitempty"`

	// Params are the generation parameters forwarded to providers.
	Params provider.Params `json:"params,omitempty"`

	// NoCache bypasses the response cache for this request.
	NoCache bool `json:"no_cache,omitempty"`
}

// Result is the integrated outcome of one request.
type Result struct {
	RequestID        string                      `json:"request_id"`
	Tier             provider.Tier               `json:"tier"`
	Answer           string                      `json:"answer"`
	AnswerProviderID string                      `json:"answer_provider_id"`
	Confidence       float64                     `json:"confidence"`
	Agreement        float64                     `json:"agreement"`
	Assessments      []consensus.Assessment      `json:"assessments,omitempty"`
	Results          []provider.InvocationResult `json:"results,omitempty"`
	Cached           bool                        `json:"cached,omitempty"`
	Escalated        bool                        `json:"escalated,omitempty"`
	Elapsed          time.Duration               `json:"elapsed"`
}

// Execute runs one request end to end.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &EmptyPromptError{}
	}

	tier := req.Tier
	if tier == "" {
		tier = provider.TierBasic
	}
	if !provider.IsValidTier(string(tier)) {
		return nil, &UnknownTierError{Tier: string(tier)}
	}
	tierCfg := e.cfg.Tier(tier)

	// Session context rides along as provider context; session requests
	// are conversational and never served from the cache.
	var sessionCtx []string
	if req.SessionID != "" {
		if e.sessions == nil {
			return nil, &session.NotFoundError{SessionID: req.SessionID}
		}
		rec, err := e.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		sessionCtx = rec.ContextWindow(maxContextTurns)
	}

	// The cache holds individual provider responses, consulted per
	// provider during fan-out. Session requests are conversational and
	// never served from it.
	cacheable := e.cache != nil && req.SessionID == "" && !req.NoCache

	resolved := e.registry.Resolve(tier, req.Paths...)
	if len(req.Providers) > 0 {
		resolved = filterProviders(resolved, req.Providers)
	}
	if len(resolved) < tierCfg.MinProviders {
		recordRequest(string(tier), "insufficient", time.Since(start))
		e.recordRequestUsage(usage.RequestEvent{
			RequestID: requestID,
			Tier:      string(tier),
			Status:    "insufficient",
			SessionID: req.SessionID,
			LatencyMs: time.Since(start).Milliseconds(),
		})
		return nil, &InsufficientProvidersError{
			Tier:      string(tier),
			Required:  tierCfg.MinProviders,
			Succeeded: 0,
		}
	}
	if len(resolved) > tierCfg.MaxProviders {
		resolved = resolved[:tierCfg.MaxProviders]
	}

	inv := provider.Invocation{
		Prompt:  req.Prompt,
		Context: sessionCtx,
		Params:  req.Params,
	}

	sequential := tierCfg.Sequential
	if req.Sequential != nil {
		sequential = *req.Sequential
	}

	var results []provider.InvocationResult
	if sequential {
		results = e.invokeSequential(ctx, requestID, resolved, inv, cacheable)
	} else {
		results = e.invokeParallel(ctx, requestID, resolved, inv, cacheable)
	}

	// Outliers are excluded from integration but still count here: the
	// minimum is about how many providers answered, not how many agreed.
	if countSuccesses(results) < tierCfg.MinProviders {
		recordRequest(string(tier), "insufficient", time.Since(start))
		e.recordRequestUsage(usage.RequestEvent{
			RequestID:     requestID,
			Tier:          string(tier),
			Status:        "insufficient",
			SessionID:     req.SessionID,
			ProviderCount: len(results),
			LatencyMs:     time.Since(start).Milliseconds(),
		})
		e.log.Warn(requestID, "insufficient successful responses", map[string]interface{}{
			"tier":     string(tier),
			"required": tierCfg.MinProviders,
			"got":      countSuccesses(results),
		})
		return nil, &InsufficientProvidersError{
			Tier:      string(tier),
			Required:  tierCfg.MinProviders,
			Succeeded: countSuccesses(results),
		}
	}

	aggregators := e.aggregatorSet(resolved)
	integrated := e.scorer.Integrate(results, aggregators)

	escalated := false
	if e.belowThreshold(integrated, tierCfg) && len(tierCfg.Escalation) > 0 {
		extra := e.escalationPool(tierCfg.Escalation, req.Providers, results)
		if len(extra) > 0 {
			e.log.Info(requestID, "escalating below-threshold result", map[string]interface{}{
				"tier":       string(tier),
				"confidence": integrated.Confidence,
				"agreement":  integrated.Agreement,
				"providers":  len(extra),
			})
			promEscalations.WithLabelValues(string(tier)).Inc()

			more := e.invokeParallel(ctx, requestID, extra, inv, cacheable)
			results = append(results, more...)
			for id := range e.aggregatorSet(extra) {
				aggregators[id] = true
			}
			integrated = e.scorer.Integrate(results, aggregators)
			escalated = true
		}
	}

	result := &Result{
		RequestID:        requestID,
		Tier:             tier,
		Answer:           integrated.Answer,
		AnswerProviderID: integrated.AnswerProviderID,
		Confidence:       integrated.Confidence,
		Agreement:        integrated.Agreement,
		Assessments:      integrated.Assessments,
		Results:          results,
		Cached:           allCached(results),
		Escalated:        escalated,
		Elapsed:          time.Since(start),
	}

	recordConsensus(string(tier), result.Confidence, result.Agreement)
	recordRequest(string(tier), "ok", result.Elapsed)
	e.recordRequestUsage(usage.RequestEvent{
		RequestID:     requestID,
		Tier:          string(tier),
		Status:        "ok",
		SessionID:     req.SessionID,
		Cached:        result.Cached,
		Escalated:     escalated,
		Confidence:    result.Confidence,
		Agreement:     result.Agreement,
		ProviderCount: len(results),
		LatencyMs:     result.Elapsed.Milliseconds(),
	})
	e.events.Publish(Event{
		Type:      EventConsensusUpdate,
		RequestID: requestID,
		Fields: map[string]interface{}{
			"confidence": result.Confidence,
			"agreement":  result.Agreement,
			"escalated":  escalated,
		},
		Timestamp: time.Now(),
	})

	if req.SessionID != "" {
		turn := session.Turn{
			Prompt:     req.Prompt,
			Answer:     result.Answer,
			Tier:       string(tier),
			Confidence: result.Confidence,
			Agreement:  result.Agreement,
			Results:    results,
		}
		if err := e.sessions.AppendTurn(ctx, req.SessionID, turn); err != nil {
			e.log.Warn(requestID, "session append failed", map[string]interface{}{
				"session_id": req.SessionID,
				"error":      err.Error(),
			})
		}
	}

	e.log.InfoWithDuration(requestID, "request complete", float64(result.Elapsed.Milliseconds()), map[string]interface{}{
		"tier":       string(tier),
		"providers":  len(results),
		"confidence": result.Confidence,
		"agreement":  result.Agreement,
		"escalated":  escalated,
	})
	return result, nil
}

// invokeParallel fans the invocation out to every descriptor at once.
// Result order matches descriptor order.
func (e *Engine) invokeParallel(ctx context.Context, requestID string, descs []*provider.Descriptor, inv provider.Invocation, cacheable bool) []provider.InvocationResult {
	results := make([]provider.InvocationResult, len(descs))
	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Add(1)
		go func(i int, d *provider.Descriptor) {
			defer wg.Done()
			results[i] = e.invokeOne(ctx, requestID, d, inv, cacheable)
		}(i, d)
	}
	wg.Wait()
	return results
}

// invokeSequential chains providers: each sees the successful answers of
// its predecessors appended to the invocation context.
func (e *Engine) invokeSequential(ctx context.Context, requestID string, descs []*provider.Descriptor, inv provider.Invocation, cacheable bool) []provider.InvocationResult {
	results := make([]provider.InvocationResult, 0, len(descs))
	chainCtx := append([]string(nil), inv.Context...)

	for _, d := range descs {
		step := inv
		step.Context = chainCtx

		res := e.invokeOne(ctx, requestID, d, step, cacheable)
		results = append(results, res)
		if res.Succeeded() {
			chainCtx = append(chainCtx, "Previous answer: "+res.Text)
		}
	}
	return results
}

// invokeOne runs a single provider invocation: the per-provider cache
// lookup, breaker admission, slot acquisition, the per-provider deadline,
// outcome classification, and breaker feedback. Failures are folded into
// the result; they never propagate as errors.
func (e *Engine) invokeOne(ctx context.Context, requestID string, d *provider.Descriptor, inv provider.Invocation, cacheable bool) provider.InvocationResult {
	start := time.Now()
	e.events.Publish(Event{
		Type:       EventProviderStart,
		RequestID:  requestID,
		ProviderID: d.ID,
		Timestamp:  start,
	})

	result := provider.InvocationResult{
		ProviderID: d.ID,
		TrustClass: d.TrustClass,
		Timestamp:  start,
	}

	// Only context-free invocations hit the cache, so session turns and
	// sequential chain steps always reach the provider. A cached response
	// stands in for a fresh success and never touches the breaker.
	useCache := cacheable && len(inv.Context) == 0
	var cacheKey string
	if useCache {
		cacheKey = cache.Key(d.ID, inv.Prompt, inv.Params)
		if entry, found := e.cache.Get(ctx, cacheKey); found {
			recordCacheLookup(true)
			result.Outcome = provider.OutcomeSuccess
			result.Text = entry.Text
			result.TokensUsed = entry.TokensUsed
			result.Truncated = entry.Truncated
			result.Cached = true
			result.Latency = time.Since(start)
			e.events.Publish(Event{
				Type:       EventProviderComplete,
				RequestID:  requestID,
				ProviderID: d.ID,
				Fields: map[string]interface{}{
					"outcome": string(result.Outcome),
					"cached":  true,
				},
				Timestamp: time.Now(),
			})
			return result
		}
		recordCacheLookup(false)
	}

	if d.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	resp, err := e.invokeThroughRegistry(ctx, d.ID, inv)
	result.Latency = time.Since(start)

	if err != nil {
		result.Outcome = classifyError(err)
		result.Err = err.Error()
		// A breaker refusal means no attempt was admitted; there is no
		// outcome to feed back.
		var open *provider.CircuitOpenError
		if !errors.As(err, &open) {
			e.registry.RecordOutcome(d.ID, false)
		}
	} else {
		result.Outcome = provider.OutcomeSuccess
		result.Text = resp.Text
		result.TokensUsed = resp.TokensUsed
		result.Truncated = resp.Truncated
		result.Cost = d.CostClass.EstimateCost(resp.TokensUsed)
		e.registry.RecordOutcome(d.ID, true)

		if useCache {
			entry := &cache.Entry{
				ProviderID: d.ID,
				Text:       resp.Text,
				Model:      resp.Model,
				TokensUsed: resp.TokensUsed,
				Truncated:  resp.Truncated,
				CreatedAt:  time.Now().UTC(),
			}
			if cerr := e.cache.Set(ctx, cacheKey, entry, e.cfg.Cache.TTL()); cerr != nil {
				e.log.Warn(requestID, "cache write failed", map[string]interface{}{
					"provider_id": d.ID,
					"error":       cerr.Error(),
				})
			}
		}
	}
	recordBreakerState(d.ID, e.registry.BreakerState(d.ID))
	recordInvocation(&result)
	e.recordInvocationUsage(usage.InvocationEvent{
		RequestID:  requestID,
		ProviderID: d.ID,
		TrustClass: string(d.TrustClass),
		Outcome:    string(result.Outcome),
		TokensUsed: result.TokensUsed,
		CostCents:  usage.USDToCents(result.Cost),
		LatencyMs:  result.Latency.Milliseconds(),
	})

	e.events.Publish(Event{
		Type:       EventProviderComplete,
		RequestID:  requestID,
		ProviderID: d.ID,
		Fields: map[string]interface{}{
			"outcome":    string(result.Outcome),
			"latency_ms": result.Latency.Milliseconds(),
		},
		Timestamp: time.Now(),
	})

	if result.Outcome != provider.OutcomeSuccess {
		e.log.Warn(requestID, "provider invocation failed", map[string]interface{}{
			"provider_id": d.ID,
			"outcome":     string(result.Outcome),
			"error":       result.Err,
		})
	}
	return result
}

// invokeThroughRegistry claims a breaker attempt, then an invocation
// slot, then invokes. Once Admit succeeds every outcome (including an
// acquisition failure) is fed back through RecordOutcome by the caller,
// which releases the half-open trial slot.
func (e *Engine) invokeThroughRegistry(ctx context.Context, id string, inv provider.Invocation) (*provider.Response, error) {
	if err := e.registry.Admit(id); err != nil {
		return nil, err
	}

	release, err := e.registry.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	invoker, err := e.registry.Invoker(id)
	if err != nil {
		return nil, err
	}
	return invoker.Invoke(ctx, inv)
}

// escalationPool returns the escalation providers that have not already
// been invoked, survive the request's provider allow-list, and whose
// breakers are ready to admit an attempt.
func (e *Engine) escalationPool(ids []string, allowed []string, already []provider.InvocationResult) []*provider.Descriptor {
	invoked := make(map[string]bool, len(already))
	for _, r := range already {
		invoked[r.ProviderID] = true
	}
	var allowSet map[string]bool
	if len(allowed) > 0 {
		allowSet = make(map[string]bool, len(allowed))
		for _, id := range allowed {
			allowSet[id] = true
		}
	}

	pool := make([]*provider.Descriptor, 0, len(ids))
	for _, id := range ids {
		if invoked[id] {
			continue
		}
		if allowSet != nil && !allowSet[id] {
			continue
		}
		d, err := e.registry.Descriptor(id)
		if err != nil || !d.Enabled {
			continue
		}
		if !e.registry.BreakerReady(id) {
			continue
		}
		pool = append(pool, d)
	}
	return pool
}

// filterProviders keeps only descriptors named in the request's
// allow-list, preserving order.
func filterProviders(descs []*provider.Descriptor, allowed []string) []*provider.Descriptor {
	set := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		set[id] = true
	}
	kept := make([]*provider.Descriptor, 0, len(descs))
	for _, d := range descs {
		if set[d.ID] {
			kept = append(kept, d)
		}
	}
	return kept
}

func allCached(results []provider.InvocationResult) bool {
	if len(results) == 0 {
		return false
	}
	for i := range results {
		if !results[i].Cached {
			return false
		}
	}
	return true
}

func (e *Engine) aggregatorSet(descs []*provider.Descriptor) map[string]bool {
	set := make(map[string]bool)
	for _, d := range descs {
		if d.Aggregator {
			set[d.ID] = true
		}
	}
	return set
}

// belowThreshold applies the tier's threshold overrides on top of the
// scorer's global defaults.
func (e *Engine) belowThreshold(r *consensus.Result, tc config.TierConfig) bool {
	ct := tc.ConfidenceThreshold
	if ct <= 0 {
		ct = e.scorer.ConfidenceThreshold()
	}
	at := tc.AgreementThreshold
	if at <= 0 {
		at = e.scorer.AgreementThreshold()
	}
	return r.Confidence < ct || r.Agreement < at
}

func classifyError(err error) provider.Outcome {
	var ie *provider.InvocationError
	if errors.As(err, &ie) && ie.Code == provider.ErrCodeTimeout {
		return provider.OutcomeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.OutcomeTimeout
	}
	return provider.OutcomeError
}

// Usage recording is fire-and-forget: the recorder reports its own
// failures and must never delay the request path.
func (e *Engine) recordRequestUsage(ev usage.RequestEvent) {
	go func() { _ = e.usage.RecordRequest(ev) }()
}

func (e *Engine) recordInvocationUsage(ev usage.InvocationEvent) {
	go func() { _ = e.usage.RecordInvocation(ev) }()
}

func countSuccesses(results []provider.InvocationResult) int {
	n := 0
	for i := range results {
		if results[i].Succeeded() {
			n++
		}
	}
	return n
}
