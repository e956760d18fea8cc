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

// Package session keeps multi-turn conversation state. A session is an
// append-only sequence of turns owned by one caller; turn appends are
// atomic, so a reader never observes a partially written turn.
package session

import (
	"context"
	"fmt"
	"time"

	"quorum/platform/orchestrator/provider"
)

// Defaults.
const (
	// DefaultTTL expires idle sessions.
	DefaultTTL = 24 * time.Hour

	// DefaultOwnerLimit caps live sessions per owner.
	DefaultOwnerLimit = 10
)

// LimitPolicy decides what happens when an owner is at their session limit.
type LimitPolicy string

const (
	// PolicyReject refuses the new session.
	PolicyReject LimitPolicy = "reject"

	// PolicyEvictOldest deletes the owner's oldest session to make room.
	PolicyEvictOldest LimitPolicy = "evict_oldest"
)

// IsValidPolicy checks if a string is a valid limit policy.
func IsValidPolicy(s string) bool {
	return LimitPolicy(s) == PolicyReject || LimitPolicy(s) == PolicyEvictOldest
}

// Turn records one request/answer exchange inside a session.
type Turn struct {
	Prompt     string                      `json:"prompt"`
	Answer     string                      `json:"answer"`
	Tier       string                      `json:"tier"`
	Confidence float64                     `json:"confidence"`
	Agreement  float64                     `json:"agreement"`
	Results    []provider.InvocationResult `json:"results,omitempty"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// Record is one session: identity plus its turns in insertion order.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// ContextWindow returns the last n prompt/answer pairs formatted for
// provider context, oldest first.
func (r *Record) ContextWindow(n int) []string {
	turns := r.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, fmt.Sprintf("Q: %s\nA: %s", t.Prompt, t.Answer))
	}
	return out
}

// Store is the session persistence contract.
type Store interface {
	// Create starts a session for an owner, applying the owner limit
	// policy.
	Create(ctx context.Context, ownerID string) (*Record, error)

	// Get returns a session by id.
	Get(ctx context.Context, id string) (*Record, error)

	// AppendTurn atomically appends one turn and refreshes the session
	// TTL.
	AppendTurn(ctx context.Context, id string, turn Turn) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns an owner's live session ids, oldest first.
	ListByOwner(ctx context.Context, ownerID string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// NotFoundError is returned for an unknown or expired session id.
type NotFoundError struct {
	SessionID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// OwnerLimitError is returned under the reject policy when an owner is at
// their session limit.
type OwnerLimitError struct {
	OwnerID string
	Limit   int
}

// Error implements the error interface.
func (e *OwnerLimitError) Error() string {
	return fmt.Sprintf("owner %q is at the session limit (%d)", e.OwnerID, e.Limit)
}
