// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// storeFactory builds a fresh store per test so both backends run the
// same contract suite.
type storeFactory func(t *testing.T, opts storeOpts) Store

type storeOpts struct {
	ttl    time.Duration
	limit  int
	policy LimitPolicy
}

func memoryFactory(t *testing.T, o storeOpts) Store {
	var opts []MemoryOption
	if o.ttl > 0 {
		opts = append(opts, WithTTL(o.ttl))
	}
	if o.limit > 0 {
		opts = append(opts, WithOwnerLimit(o.limit, o.policy))
	}
	return NewMemoryStore(opts...)
}

func redisFactory(t *testing.T, o storeOpts) Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var opts []RedisOption
	if o.ttl > 0 {
		opts = append(opts, WithRedisTTL(o.ttl))
	}
	if o.limit > 0 {
		opts = append(opts, WithRedisOwnerLimit(o.limit, o.policy))
	}
	s := NewRedisStore(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{})
			ctx := context.Background()

			rec, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			if rec.ID == "" || rec.OwnerID != "owner-1" {
				t.Fatalf("record = %+v", rec)
			}

			got, err := s.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if got.ID != rec.ID || len(got.Turns) != 0 {
				t.Errorf("got = %+v", got)
			}

			var nf *NotFoundError
			if _, err := s.Get(ctx, "ghost"); !errors.As(err, &nf) {
				t.Errorf("Get(ghost) error = %v, want NotFoundError", err)
			}
		})
	}
}

func TestStoreAppendTurnPreservesOrder(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{})
			ctx := context.Background()

			rec, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}

			for i := 0; i < 5; i++ {
				turn := Turn{
					Prompt: fmt.Sprintf("question %d", i),
					Answer: fmt.Sprintf("answer %d", i),
					Tier:   "basic",
				}
				if err := s.AppendTurn(ctx, rec.ID, turn); err != nil {
					t.Fatalf("AppendTurn(%d) error: %v", i, err)
				}
			}

			got, err := s.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if len(got.Turns) != 5 {
				t.Fatalf("turns = %d, want 5", len(got.Turns))
			}
			for i, turn := range got.Turns {
				if turn.Prompt != fmt.Sprintf("question %d", i) {
					t.Errorf("turn %d prompt = %q, insertion order broken", i, turn.Prompt)
				}
				if turn.Timestamp.IsZero() {
					t.Errorf("turn %d has no timestamp", i)
				}
			}
		})
	}
}

func TestStoreConcurrentAppendsLoseNothing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{})
			ctx := context.Background()

			rec, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}

			const writers = 8
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					_ = s.AppendTurn(ctx, rec.ID, Turn{Prompt: fmt.Sprintf("q%d", n)})
				}(i)
			}
			wg.Wait()

			got, err := s.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if len(got.Turns) != writers {
				t.Errorf("turns = %d, want %d (lost concurrent appends)", len(got.Turns), writers)
			}
		})
	}
}

func TestStoreOwnerLimitReject(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{limit: 2, policy: PolicyReject})
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				if _, err := s.Create(ctx, "owner-1"); err != nil {
					t.Fatalf("Create(%d) error: %v", i, err)
				}
			}

			_, err := s.Create(ctx, "owner-1")
			var le *OwnerLimitError
			if !errors.As(err, &le) {
				t.Fatalf("Create at limit error = %v, want OwnerLimitError", err)
			}
			if le.Limit != 2 {
				t.Errorf("Limit = %d, want 2", le.Limit)
			}

			// Other owners are unaffected.
			if _, err := s.Create(ctx, "owner-2"); err != nil {
				t.Errorf("Create for other owner error: %v", err)
			}
		})
	}
}

func TestStoreOwnerLimitEvictOldest(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{limit: 2, policy: PolicyEvictOldest})
			ctx := context.Background()

			first, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			second, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}

			third, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create at limit error: %v", err)
			}

			var nf *NotFoundError
			if _, err := s.Get(ctx, first.ID); !errors.As(err, &nf) {
				t.Errorf("oldest session still live after eviction: %v", err)
			}
			if _, err := s.Get(ctx, second.ID); err != nil {
				t.Errorf("second session evicted: %v", err)
			}
			if _, err := s.Get(ctx, third.ID); err != nil {
				t.Errorf("new session missing: %v", err)
			}

			ids, err := s.ListByOwner(ctx, "owner-1")
			if err != nil {
				t.Fatalf("ListByOwner error: %v", err)
			}
			if len(ids) != 2 {
				t.Errorf("live sessions = %d, want 2", len(ids))
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, storeOpts{})
			ctx := context.Background()

			rec, err := s.Create(ctx, "owner-1")
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			if err := s.Delete(ctx, rec.ID); err != nil {
				t.Fatalf("Delete error: %v", err)
			}

			var nf *NotFoundError
			if _, err := s.Get(ctx, rec.ID); !errors.As(err, &nf) {
				t.Errorf("Get after Delete error = %v, want NotFoundError", err)
			}

			ids, _ := s.ListByOwner(ctx, "owner-1")
			if len(ids) != 0 {
				t.Errorf("owner index still lists deleted session: %v", ids)
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(WithTTL(20 * time.Millisecond))
	ctx := context.Background()

	rec, err := s.Create(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	var nf *NotFoundError
	if _, err := s.Get(ctx, rec.ID); !errors.As(err, &nf) {
		t.Errorf("Get after TTL error = %v, want NotFoundError", err)
	}

	// Expired sessions no longer count toward the owner limit.
	ids, _ := s.ListByOwner(ctx, "owner-1")
	if len(ids) != 0 {
		t.Errorf("expired session still listed: %v", ids)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, WithRedisTTL(time.Minute))
	defer s.Close()
	ctx := context.Background()

	rec, err := s.Create(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	var nf *NotFoundError
	if _, err := s.Get(ctx, rec.ID); !errors.As(err, &nf) {
		t.Errorf("Get after TTL error = %v, want NotFoundError", err)
	}
	ids, err := s.ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListByOwner error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expired session still listed: %v", ids)
	}
}

func TestContextWindow(t *testing.T) {
	rec := &Record{
		Turns: []Turn{
			{Prompt: "p1", Answer: "a1"},
			{Prompt: "p2", Answer: "a2"},
			{Prompt: "p3", Answer: "a3"},
		},
	}

	window := rec.ContextWindow(2)
	if len(window) != 2 {
		t.Fatalf("window = %d entries, want 2", len(window))
	}
	if window[0] != "Q: p2\nA: a2" || window[1] != "Q: p3\nA: a3" {
		t.Errorf("window = %v", window)
	}

	all := rec.ContextWindow(0)
	if len(all) != 3 {
		t.Errorf("ContextWindow(0) = %d entries, want all 3", len(all))
	}
}
