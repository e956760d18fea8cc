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

package provider

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

const defaultMaxConcurrent = 4

// Registry holds the configured provider set: descriptors, lazily
// instantiated invokers, per-provider circuit breakers, concurrency
// semaphores, and rate limiters. It is safe for concurrent use.
//
// Breaker state is the only state mutated by multiple in-flight requests;
// updates are serialized per provider id (each breaker carries its own
// lock), never across providers.
type Registry struct {
	descriptors map[string]*Descriptor
	invokers    map[string]Invoker
	breakers    map[string]*CircuitBreaker
	semaphores  map[string]chan struct{}
	limiters    map[string]*RateLimiter
	factory     *FactoryManager
	storage     Storage
	logger      *log.Logger
	mu          sync.RWMutex

	breakerThreshold int
	breakerCooldown  time.Duration
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithFactoryManager sets the factory manager used for lazy instantiation.
func WithFactoryManager(fm *FactoryManager) RegistryOption {
	return func(r *Registry) { r.factory = fm }
}

// WithStorage sets persistent descriptor storage.
func WithStorage(s Storage) RegistryOption {
	return func(r *Registry) { r.storage = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithBreakerSettings overrides the circuit breaker threshold and cooldown
// applied to every provider registered afterwards.
func WithBreakerSettings(threshold int, cooldown time.Duration) RegistryOption {
	return func(r *Registry) {
		r.breakerThreshold = threshold
		r.breakerCooldown = cooldown
	}
}

// NewRegistry creates a provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		descriptors:      make(map[string]*Descriptor),
		invokers:         make(map[string]Invoker),
		breakers:         make(map[string]*CircuitBreaker),
		semaphores:       make(map[string]chan struct{}),
		limiters:         make(map[string]*RateLimiter),
		logger:           log.New(os.Stdout, "[PROVIDER_REGISTRY] ", log.LstdFlags),
		breakerThreshold: DefaultBreakerThreshold,
		breakerCooldown:  DefaultBreakerCooldown,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.factory == nil {
		r.factory = NewFactoryManager()
	}

	return r
}

// Register adds a descriptor to the registry. The invoker is instantiated
// lazily on first use. Descriptor validation includes the path-restriction
// invariant: a provider pinned to one invocation path must be configured
// on exactly that path.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return &DuplicateError{ProviderID: d.ID}
	}

	dCopy := *d
	r.descriptors[d.ID] = &dCopy
	r.breakers[d.ID] = NewCircuitBreaker(r.breakerThreshold, r.breakerCooldown)

	maxConc := d.MaxConcurrent
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrent
	}
	r.semaphores[d.ID] = make(chan struct{}, maxConc)

	if d.RateLimit > 0 {
		r.limiters[d.ID] = NewRateLimiter(d.RateLimit, d.RateLimit)
	}

	r.logger.Printf("Registered provider %s (kind=%s trust=%s tiers=%v)",
		d.ID, d.Kind, d.TrustClass, d.Tiers)
	return nil
}

// RegisterInvoker adds a pre-instantiated invoker alongside its descriptor.
// Used by tests and by callers that build adapters themselves.
func (r *Registry) RegisterInvoker(d *Descriptor, inv Invoker) error {
	if err := r.Register(d); err != nil {
		return err
	}
	r.mu.Lock()
	r.invokers[d.ID] = inv
	r.mu.Unlock()
	return nil
}

// Unregister removes a provider and its breaker state.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[id]; !exists {
		return &NotFoundError{ProviderID: id}
	}

	delete(r.descriptors, id)
	delete(r.invokers, id)
	delete(r.breakers, id)
	delete(r.semaphores, id)
	delete(r.limiters, id)
	return nil
}

// Descriptor returns a copy of the descriptor for a provider.
func (r *Registry) Descriptor(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, &NotFoundError{ProviderID: id}
	}
	dCopy := *d
	return &dCopy, nil
}

// Resolve returns the descriptors serving a tier, ordered by priority
// (descending) then id, excluding disabled providers, providers whose
// circuit breaker is not ready to admit an attempt, and providers not
// reachable through any of the caller's declared invocation paths. An
// empty path list means every path is acceptable.
//
// Resolve is side-effect free on breaker state: it consults Ready(), not
// Allow(), so resolving a candidate that is later trimmed or never
// invoked does not consume the half-open trial slot. The slot is claimed
// by Admit at invocation time.
func (r *Registry) Resolve(tier Tier, paths ...InvocationKind) []*Descriptor {
	r.mu.RLock()
	candidates := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if !d.Enabled || !d.ServesTier(tier) {
			continue
		}
		if len(paths) > 0 && !kindIn(d.Kind, paths) {
			continue
		}
		dCopy := *d
		candidates = append(candidates, &dCopy)
	}
	breakers := make(map[string]*CircuitBreaker, len(candidates))
	for _, d := range candidates {
		breakers[d.ID] = r.breakers[d.ID]
	}
	r.mu.RUnlock()

	resolved := make([]*Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if cb := breakers[d.ID]; cb != nil && !cb.Ready() {
			continue
		}
		resolved = append(resolved, d)
	}

	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].Priority != resolved[j].Priority {
			return resolved[i].Priority > resolved[j].Priority
		}
		return resolved[i].ID < resolved[j].ID
	})
	return resolved
}

func kindIn(k InvocationKind, set []InvocationKind) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}

// Admit reserves one invocation attempt with the provider's circuit
// breaker, performing the open -> half-open transition and claiming the
// single half-open trial slot. Every admitted attempt must be answered
// with RecordOutcome so the trial slot is released. A refused attempt
// returns CircuitOpenError.
func (r *Registry) Admit(id string) error {
	r.mu.RLock()
	cb := r.breakers[id]
	r.mu.RUnlock()

	if cb == nil {
		return &NotFoundError{ProviderID: id}
	}
	if !cb.Allow() {
		return &CircuitOpenError{ProviderID: id, State: cb.State()}
	}
	return nil
}

// BreakerReady reports whether the provider's breaker would admit an
// attempt, without claiming anything.
func (r *Registry) BreakerReady(id string) bool {
	r.mu.RLock()
	cb := r.breakers[id]
	r.mu.RUnlock()

	return cb == nil || cb.Ready()
}

// RecordOutcome feeds an invocation outcome back into the provider's
// circuit breaker.
func (r *Registry) RecordOutcome(id string, success bool) {
	r.mu.RLock()
	cb := r.breakers[id]
	r.mu.RUnlock()

	if cb == nil {
		return
	}
	if success {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

// BreakerState returns the breaker state for a provider.
func (r *Registry) BreakerState(id string) BreakerState {
	r.mu.RLock()
	cb := r.breakers[id]
	r.mu.RUnlock()

	if cb == nil {
		return BreakerClosed
	}
	return cb.State()
}

// Invoker returns the invoker for a provider, instantiating it lazily.
func (r *Registry) Invoker(id string) (Invoker, error) {
	r.mu.RLock()
	inv, ok := r.invokers[id]
	d, hasDesc := r.descriptors[id]
	r.mu.RUnlock()

	if ok {
		return inv, nil
	}
	if !hasDesc {
		return nil, &NotFoundError{ProviderID: id}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have instantiated it meanwhile.
	if inv, ok := r.invokers[id]; ok {
		return inv, nil
	}

	inv, err := r.factory.Create(d)
	if err != nil {
		return nil, err
	}
	r.invokers[id] = inv
	r.logger.Printf("Instantiated provider %s (kind=%s)", id, d.Kind)
	return inv, nil
}

// Acquire reserves one invocation slot for a provider, honoring its
// max-concurrency semaphore and rate limiter. The returned release
// function must be called when the invocation completes; it never blocks.
func (r *Registry) Acquire(ctx context.Context, id string) (func(), error) {
	r.mu.RLock()
	sem := r.semaphores[id]
	rl := r.limiters[id]
	r.mu.RUnlock()

	if sem == nil {
		return nil, &NotFoundError{ProviderID: id}
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rl != nil {
		if err := rl.Wait(ctx); err != nil {
			<-sem
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

// List returns all registered provider ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HealthCheck probes every instantiable provider and returns the per-id
// error (nil for healthy).
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	ids := r.List()
	results := make(map[string]error, len(ids))

	for _, id := range ids {
		inv, err := r.Invoker(id)
		if err != nil {
			results[id] = err
			continue
		}
		results[id] = inv.HealthCheck(ctx)
	}
	return results
}

// LoadFromStorage registers every descriptor persisted in storage that is
// not already present. Used at startup and by replicas converging on a
// shared provider set.
func (r *Registry) LoadFromStorage(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}

	descriptors, err := r.storage.ListDescriptors(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, d := range descriptors {
		r.mu.RLock()
		_, exists := r.descriptors[d.ID]
		r.mu.RUnlock()
		if exists {
			continue
		}
		if err := r.Register(d); err != nil {
			r.logger.Printf("Skipping stored provider %s: %v", d.ID, err)
			continue
		}
		loaded++
	}

	if loaded > 0 {
		r.logger.Printf("Loaded %d provider(s) from storage", loaded)
	}
	return nil
}

// SaveToStorage persists every registered descriptor.
func (r *Registry) SaveToStorage(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}

	r.mu.RLock()
	descriptors := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		dCopy := *d
		descriptors = append(descriptors, &dCopy)
	}
	r.mu.RUnlock()

	for _, d := range descriptors {
		if err := r.storage.SaveDescriptor(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateError is returned when registering an already-registered id.
type DuplicateError struct {
	ProviderID string
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return "provider " + e.ProviderID + " already registered"
}
