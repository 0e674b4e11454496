// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package challenge

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Lookup and removal happen under one
// lock, giving compare-and-delete semantics. Expired entries are swept by
// Issue at most once per TTL, or sooner when the store is full.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*Challenge
	lastSweep time.Time
	opts      options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory challenge store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	return &MemoryStore{
		entries:   make(map[string]*Challenge),
		lastSweep: o.clock.Now(),
		opts:      o,
	}
}

// Issue generates and records a new challenge. It returns ErrCapacity
// when the store still holds the maximum number of live challenges after
// expired ones were dropped.
func (s *MemoryStore) Issue(ctx context.Context, kind Kind, owner string) (*Challenge, error) {
	c, err := s.opts.newChallenge(kind, owner)
	if err != nil {
		return nil, err
	}

	stored := *c
	stored.Value = append([]byte(nil), c.Value...)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.IssuedAt
	if now.Sub(s.lastSweep) >= s.opts.ttl || len(s.entries) >= s.opts.maxPending {
		s.sweep(now)
	}
	if len(s.entries) >= s.opts.maxPending {
		return nil, ErrCapacity
	}
	s.entries[lookupKey(c.Value)] = &stored
	return c, nil
}

// Consume removes the matching entry and validates it.
func (s *MemoryStore) Consume(ctx context.Context, value []byte, kind Kind) (*Challenge, error) {
	key := lookupKey(value)

	s.mu.Lock()
	stored, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return s.opts.check(stored, value, kind)
}

// Purge drops every expired entry and returns how many were removed.
func (s *MemoryStore) Purge(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.opts.clock.Now())
}

// sweep must be called with mu held.
func (s *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for key, c := range s.entries {
		if c.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.lastSweep = now
	return removed
}

// Len returns the number of outstanding challenges.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
