// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process session store. Expired sessions are
// dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Record
	byOwner  map[string][]string // session ids, oldest first
	expiry   map[string]time.Time

	ttl        time.Duration
	ownerLimit int
	policy     LimitPolicy
}

// MemoryOption configures the store.
type MemoryOption func(*MemoryStore)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithOwnerLimit overrides the per-owner session limit and policy.
func WithOwnerLimit(limit int, policy LimitPolicy) MemoryOption {
	return func(s *MemoryStore) {
		s.ownerLimit = limit
		s.policy = policy
	}
}

// NewMemoryStore creates an in-process session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:   make(map[string]*Record),
		byOwner:    make(map[string][]string),
		expiry:     make(map[string]time.Time),
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
func (s *MemoryStore) Create(ctx context.Context, ownerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneOwnerLocked(ownerID)

	if len(s.byOwner[ownerID]) >= s.ownerLimit {
		if s.policy == PolicyReject {
			return nil, &OwnerLimitError{OwnerID: ownerID, Limit: s.ownerLimit}
		}
		// Oldest first, so the head is the eviction victim.
		oldest := s.byOwner[ownerID][0]
		s.removeLocked(oldest)
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[rec.ID] = rec
	s.byOwner[ownerID] = append(s.byOwner[ownerID], rec.ID)
	s.expiry[rec.ID] = now.Add(s.ttl)

	cp := *rec
	return &cp, nil
}

// Get returns a copy of the session.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveLocked(id)
	if err != nil {
		return nil, err
	}

	cp := *rec
	cp.Turns = append([]Turn(nil), rec.Turns...)
	return &cp, nil
}

// AppendTurn atomically appends one turn and refreshes the TTL.
func (s *MemoryStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveLocked(id)
	if err != nil {
		return err
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	rec.Turns = append(rec.Turns, turn)
	rec.UpdatedAt = time.Now().UTC()
	s.expiry[id] = time.Now().Add(s.ttl)
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return &NotFoundError{SessionID: id}
	}
	s.removeLocked(id)
	return nil
}

// ListByOwner returns an owner's live session ids, oldest first.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneOwnerLocked(ownerID)
	return append([]string(nil), s.byOwner[ownerID]...), nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error { return nil }

// liveLocked returns the session if present and unexpired, dropping it
// otherwise.
func (s *MemoryStore) liveLocked(id string) (*Record, error) {
	rec, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{SessionID: id}
	}
	if time.Now().After(s.expiry[id]) {
		s.removeLocked(id)
		return nil, &NotFoundError{SessionID: id}
	}
	return rec, nil
}

func (s *MemoryStore) removeLocked(id string) {
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	delete(s.expiry, id)

	ids := s.byOwner[rec.OwnerID]
	for i, sid := range ids {
		if sid == id {
			s.byOwner[rec.OwnerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byOwner[rec.OwnerID]) == 0 {
		delete(s.byOwner, rec.OwnerID)
	}
}

func (s *MemoryStore) pruneOwnerLocked(ownerID string) {
	now := time.Now()
	live := s.byOwner[ownerID][:0]
	for _, id := range s.byOwner[ownerID] {
		if now.After(s.expiry[id]) {
			delete(s.sessions, id)
			delete(s.expiry, id)
			continue
		}
		live = append(live, id)
	}
	if len(live) == 0 {
		delete(s.byOwner, ownerID)
	} else {
		s.byOwner[ownerID] = live
	}
}

var _ Store = (*MemoryStore)(nil)
