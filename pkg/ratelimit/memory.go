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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is the number of CountAndAppend calls between full sweeps of
// idle keys.
const sweepEvery = 1024

// MemoryStore is an in-process EventStore. Each key's events are pruned
// whenever that key is checked; keys nobody checks are dropped by a periodic
// sweep piggybacked on CountAndAppend.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	windows map[string]time.Duration
	blocks  map[string]block
	calls   int
}

type block struct {
	until  time.Time
	reason string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string][]time.Time),
		windows: make(map[string]time.Duration),
		blocks:  make(map[string]block),
	}
}

// CountAndAppend implements EventStore.
func (s *MemoryStore) CountAndAppend(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweep(now)
	}

	live := prune(s.events[key], now.Add(-window))
	if len(live) >= max {
		s.store(key, live, window)
		return false, nil
	}
	s.store(key, append(live, now), window)
	return true, nil
}

// Block implements EventStore.
func (s *MemoryStore) Block(ctx context.Context, subject string, until time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.blocks[subject]; ok && existing.until.After(until) {
		return nil
	}
	s.blocks[subject] = block{until: until, reason: reason}
	return nil
}

// BlockedUntil implements EventStore.
func (s *MemoryStore) BlockedUntil(ctx context.Context, subject string, now time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[subject]
	if !ok {
		return time.Time{}, nil
	}
	if !now.Before(b.until) {
		delete(s.blocks, subject)
		return time.Time{}, nil
	}
	return b.until, nil
}

// Len returns the number of keys currently holding events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *MemoryStore) store(key string, live []time.Time, window time.Duration) {
	if len(live) == 0 {
		delete(s.events, key)
		delete(s.windows, key)
		return
	}
	s.events[key] = live
	s.windows[key] = window
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, events := range s.events {
		s.store(key, prune(events, now.Add(-s.windows[key])), s.windows[key])
	}
	for subject, b := range s.blocks {
		if !now.Before(b.until) {
			delete(s.blocks, subject)
		}
	}
}

// prune drops events older than cutoff, reusing the backing array.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	live := events[:0]
	for _, t := range events {
		if !t.Before(cutoff) {
			live = append(live, t)
		}
	}
	return live
}
