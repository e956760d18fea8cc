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
	"fmt"
)

// Invoker is the uniform interface wrapping one external generator.
// Implementations must be safe for concurrent use.
//
// The orchestrator treats all invokers identically regardless of
// invocation kind; kind-specific behavior lives entirely inside the
// adapter packages (subprocess, bedrock, httpapi).
type Invoker interface {
	// ID returns the provider instance identifier used for routing,
	// caching, logging, and metrics.
	ID() string

	// Kind returns the invocation path this adapter uses.
	Kind() InvocationKind

	// Invoke performs one generation call. The context carries the
	// per-invocation deadline; adapters must honor cancellation and
	// must not block on resource release after cancellation.
	Invoke(ctx context.Context, inv Invocation) (*Response, error)

	// HealthCheck verifies the backend is reachable. It should complete
	// well within the caller's deadline.
	HealthCheck(ctx context.Context) error
}

// Common invocation error codes.
const (
	// ErrCodeTimeout indicates the invocation exceeded its deadline.
	ErrCodeTimeout = "timeout"

	// ErrCodeInvocation indicates the backend failed or returned garbage.
	ErrCodeInvocation = "invocation_error"

	// ErrCodeRateLimit indicates backend-side rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeUnavailable indicates the backend is unreachable.
	ErrCodeUnavailable = "unavailable"
)

// InvocationError represents a failed invocation of one provider.
// It is always recovered locally by the orchestrator and folded into the
// request's result set; it never aborts the request on its own.
type InvocationError struct {
	// ProviderID is the provider that failed.
	ProviderID string

	// Code is a machine-readable error code.
	Code string

	// Message is a human-readable description.
	Message string

	// Retryable indicates whether a future request may succeed.
	Retryable bool

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.ProviderID, e.Message, e.Code)
}

// Unwrap returns the underlying error.
func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// NewInvocationError creates an InvocationError with retryability derived
// from the code.
func NewInvocationError(providerID, code, message string, cause error) *InvocationError {
	retryable := false
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimit, ErrCodeUnavailable:
		retryable = true
	}
	return &InvocationError{
		ProviderID: providerID,
		Code:       code,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// CircuitOpenError is returned when a provider is skipped because its
// circuit breaker is open. It is internal to orchestration: the provider
// is excluded without an invocation attempt, and the error never reaches
// the caller as a request failure.
type CircuitOpenError struct {
	ProviderID string
	State      BreakerState
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("provider %s: circuit %s, invocation skipped", e.ProviderID, e.State)
}

// NotFoundError is returned when a provider id is not registered.
type NotFoundError struct {
	ProviderID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider %q not registered", e.ProviderID)
}
