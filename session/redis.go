// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "quorum:session:"
	ownerKeyPrefix   = "quorum:sessions:owner:"

	// appendRetries bounds optimistic-transaction retries on contended
	// appends.
	appendRetries = 5
)

// RedisStore is a Redis-backed session store shared across replicas.
// Session expiry is delegated to Redis TTLs; turn appends use WATCH-based
// optimistic transactions so concurrent appends never lose a turn.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	ownerLimit int
	policy     LimitPolicy
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the session TTL.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithRedisOwnerLimit overrides the per-owner session limit and policy.
func WithRedisOwnerLimit(limit int, policy LimitPolicy) RedisOption {
	return func(s *RedisStore) {
		s.ownerLimit = limit
		s.policy = policy
	}
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		ttl:        DefaultTTL,
		ownerLimit: DefaultOwnerLimit,
		policy:     PolicyReject,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a session for an owner.
func (s *RedisStore) Create(ctx context.Context, ownerID string) (*Record, error) {
	ownerKey := ownerKeyPrefix + ownerID

	live, err := s.pruneOwner(ctx, ownerKey)
	if err != nil {
		return nil, err
	}

	if len(live) >= s.ownerLimit {
		if s.policy == PolicyReject {
			return nil, &OwnerLimitError{OwnerID: ownerID, Limit: s.ownerLimit}
		}
		oldest := live[0]
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, sessionKeyPrefix+oldest)
		pipe.LRem(ctx, ownerKey, 1, oldest)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to evict oldest session: %w", err)
		}
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+rec.ID, data, s.ttl)
	pipe.RPush(ctx, ownerKey, rec.ID)
	pipe.Expire(ctx, ownerKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return rec, nil
}

// Get returns a session by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{SessionID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// AppendTurn atomically appends one turn and refreshes the TTL. A
// concurrent writer aborts the transaction and the append retries against
// the fresh record.
func (s *RedisStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	key := sessionKeyPrefix + id
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &NotFoundError{SessionID: id}
		}
		if err != nil {
			return err
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		rec.Turns = append(rec.Turns, turn)
		rec.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			pipe.Expire(ctx, ownerKeyPrefix+rec.OwnerID, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < appendRetries; i++ {
		err = s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to append turn after %d retries: %w", appendRetries, err)
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.LRem(ctx, ownerKeyPrefix+rec.OwnerID, 1, id)
	_, err = pipe.Exec(ctx)
	return err
}

// ListByOwner returns an owner's live session ids, oldest first.
func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]string, error) {
	return s.pruneOwner(ctx, ownerKeyPrefix+ownerID)
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// pruneOwner drops ids whose session key has expired and returns the live
// ids, oldest first.
func (s *RedisStore) pruneOwner(ctx context.Context, ownerKey string) ([]string, error) {
	ids, err := s.client.LRange(ctx, ownerKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, sessionKeyPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.client.LRem(ctx, ownerKey, 1, id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

var _ Store = (*RedisStore)(nil)
