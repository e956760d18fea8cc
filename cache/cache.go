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

// Package cache stores individual provider responses keyed by provider,
// normalized prompt, and generation parameters. On a repeated prompt
// within the TTL a provider's cached response stands in for a fresh
// invocation; providers without a cached response are still invoked. Two
// backends are provided: an in-process map and Redis for sharing across
// replicas.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"quorum/platform/orchestrator/provider"
)

// DefaultTTL is the cache entry lifetime when the caller does not set one.
const DefaultTTL = 5 * time.Minute

// Entry is one provider's cached response.
type Entry struct {
	ProviderID string    `json:"provider_id"`
	Text       string    `json:"text"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Truncated  bool      `json:"truncated,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// ResponseCache is the cache contract shared by the backends.
type ResponseCache interface {
	// Get returns the entry for key, or found=false on a miss or an
	// expired entry.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Set stores an entry under key for ttl (DefaultTTL when ttl <= 0).
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error

	// Invalidate removes an entry.
	Invalidate(ctx context.Context, key string) error

	// Stats returns hit/miss counters.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Key derives the deterministic cache key for one provider's response:
// provider id, the normalized prompt, and the generation parameters.
// Two requests with prompts differing only in case or whitespace share a
// key; different providers never do.
func Key(providerID string, prompt string, params provider.Params) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	payload := fmt.Sprintf("%s|%s|%d|%.4f|%s",
		providerID, normalized, params.MaxTokens, params.Temperature, params.Model)
	sum := sha256.Sum256([]byte(payload))
	return "quorum:response:" + hex.EncodeToString(sum[:])
}
