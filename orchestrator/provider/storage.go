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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Storage is the interface for persistent descriptor storage. Implement it
// to share one provider set across orchestrator replicas.
type Storage interface {
	// SaveDescriptor persists a descriptor (insert or update).
	SaveDescriptor(ctx context.Context, d *Descriptor) error

	// GetDescriptor retrieves a descriptor by provider id.
	GetDescriptor(ctx context.Context, id string) (*Descriptor, error)

	// DeleteDescriptor removes a descriptor.
	DeleteDescriptor(ctx context.Context, id string) error

	// ListDescriptors returns all persisted descriptors.
	ListDescriptors(ctx context.Context) ([]*Descriptor, error)
}

// PostgresStorage implements Storage using PostgreSQL.
//
// Schema:
//
//	CREATE TABLE quorum_providers (
//	    id              TEXT PRIMARY KEY,
//	    kind            TEXT NOT NULL,
//	    trust_class     TEXT NOT NULL,
//	    cost_class      TEXT NOT NULL,
//	    max_concurrent  INT NOT NULL DEFAULT 0,
//	    tiers           JSONB NOT NULL DEFAULT '[]',
//	    priority        INT NOT NULL DEFAULT 0,
//	    aggregator      BOOLEAN NOT NULL DEFAULT FALSE,
//	    restrict_to     TEXT,
//	    endpoint        TEXT,
//	    model           TEXT,
//	    region          TEXT,
//	    args            JSONB NOT NULL DEFAULT '[]',
//	    rate_limit      DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    timeout_seconds INT NOT NULL DEFAULT 0,
//	    enabled         BOOLEAN NOT NULL DEFAULT TRUE,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// API keys are deliberately not persisted; they are resolved from the
// environment or a secrets manager at load time.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL-backed storage.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// SaveDescriptor persists a descriptor to the database.
func (s *PostgresStorage) SaveDescriptor(ctx context.Context, d *Descriptor) error {
	if d == nil {
		return errors.New("descriptor cannot be nil")
	}
	if err := d.Validate(); err != nil {
		return err
	}

	tiersJSON, err := json.Marshal(d.Tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal tiers: %w", err)
	}
	argsJSON, err := json.Marshal(d.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	query := `
		INSERT INTO quorum_providers (
			id, kind, trust_class, cost_class, max_concurrent, tiers,
			priority, aggregator, restrict_to, endpoint, model, region,
			args, rate_limit, timeout_seconds, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			trust_class = EXCLUDED.trust_class,
			cost_class = EXCLUDED.cost_class,
			max_concurrent = EXCLUDED.max_concurrent,
			tiers = EXCLUDED.tiers,
			priority = EXCLUDED.priority,
			aggregator = EXCLUDED.aggregator,
			restrict_to = EXCLUDED.restrict_to,
			endpoint = EXCLUDED.endpoint,
			model = EXCLUDED.model,
			region = EXCLUDED.region,
			args = EXCLUDED.args,
			rate_limit = EXCLUDED.rate_limit,
			timeout_seconds = EXCLUDED.timeout_seconds,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.Kind,
		d.TrustClass,
		d.CostClass,
		d.MaxConcurrent,
		tiersJSON,
		d.Priority,
		d.Aggregator,
		string(d.RestrictTo),
		d.Endpoint,
		d.Model,
		d.Region,
		argsJSON,
		d.RateLimit,
		d.TimeoutSeconds,
		d.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save descriptor: %w", err)
	}
	return nil
}

// GetDescriptor retrieves a descriptor by provider id.
func (s *PostgresStorage) GetDescriptor(ctx context.Context, id string) (*Descriptor, error) {
	query := `
		SELECT id, kind, trust_class, cost_class, max_concurrent, tiers,
		       priority, aggregator, restrict_to, endpoint, model, region,
		       args, rate_limit, timeout_seconds, enabled
		FROM quorum_providers
		WHERE id = $1
	`

	row := s.db.QueryRowContext(ctx, query, id)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ProviderID: id}
	}
	return d, err
}

// DeleteDescriptor removes a descriptor.
func (s *PostgresStorage) DeleteDescriptor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quorum_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete descriptor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ProviderID: id}
	}
	return nil
}

// ListDescriptors returns all persisted descriptors ordered by id.
func (s *PostgresStorage) ListDescriptors(ctx context.Context) ([]*Descriptor, error) {
	query := `
		SELECT id, kind, trust_class, cost_class, max_concurrent, tiers,
		       priority, aggregator, restrict_to, endpoint, model, region,
		       args, rate_limit, timeout_seconds, enabled
		FROM quorum_providers
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors: %w", err)
	}
	defer rows.Close()

	var out []*Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDescriptor(row rowScanner) (*Descriptor, error) {
	var d Descriptor
	var restrictTo, endpoint, model, region sql.NullString
	var tiersJSON, argsJSON []byte

	err := row.Scan(
		&d.ID,
		&d.Kind,
		&d.TrustClass,
		&d.CostClass,
		&d.MaxConcurrent,
		&tiersJSON,
		&d.Priority,
		&d.Aggregator,
		&restrictTo,
		&endpoint,
		&model,
		&region,
		&argsJSON,
		&d.RateLimit,
		&d.TimeoutSeconds,
		&d.Enabled,
	)
	if err != nil {
		return nil, err
	}

	d.RestrictTo = InvocationKind(restrictTo.String)
	d.Endpoint = endpoint.String
	d.Model = model.String
	d.Region = region.String

	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &d.Tiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tiers: %w", err)
		}
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &d.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}
	return &d, nil
}

// Verify interface compliance at compile time.
var _ Storage = (*PostgresStorage)(nil)
