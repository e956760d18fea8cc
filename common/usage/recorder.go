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

package usage

import (
	"database/sql"
	"log"
)

// Recorder persists usage events. Implementations must be safe for
// concurrent use; recording failures are reported but must never fail
// the request that produced the event.
type Recorder interface {
	RecordRequest(event RequestEvent) error
	RecordInvocation(event InvocationEvent) error
}

// PostgresRecorder writes usage events to the quorum_usage_events table.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a recorder over an open database handle.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// RecordRequest records one orchestration request.
// Errors are logged but don't block responses.
func (r *PostgresRecorder) RecordRequest(event RequestEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO quorum_usage_events (
			request_id, event_type, tier, status, session_id,
			cached, escalated, confidence, agreement, provider_count, latency_ms
		) VALUES ($1, 'request', $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.RequestID, event.Tier, event.Status, nullString(event.SessionID),
		event.Cached, event.Escalated, event.Confidence, event.Agreement,
		event.ProviderCount, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record request: %v", err)
	}
	return err
}

// RecordInvocation records one provider invocation with token usage and
// the estimated cost.
// Errors are logged but don't block responses.
func (r *PostgresRecorder) RecordInvocation(event InvocationEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO quorum_usage_events (
			request_id, event_type, provider_id, trust_class, outcome,
			tokens_used, estimated_cost_cents, latency_ms
		) VALUES ($1, 'invocation', $2, $3, $4, $5, $6, $7)
	`, event.RequestID, event.ProviderID, event.TrustClass, event.Outcome,
		event.TokensUsed, event.CostCents, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record invocation: %v", err)
	}
	return err
}

// NopRecorder discards every event. Used when no database is configured.
type NopRecorder struct{}

// RecordRequest discards the event.
func (NopRecorder) RecordRequest(RequestEvent) error { return nil }

// RecordInvocation discards the event.
func (NopRecorder) RecordInvocation(InvocationEvent) error { return nil }

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ Recorder = (*PostgresRecorder)(nil)
	_ Recorder = NopRecorder{}
)
