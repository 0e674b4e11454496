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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
)

var errStoreDown = errors.New("connection refused")

// failingStore fails every call.
type failingStore struct{}

func (failingStore) CountAndAppend(context.Context, string, time.Time, time.Duration, int) (bool, error) {
	return false, errStoreDown
}

func (failingStore) Block(context.Context, string, time.Time, string) error {
	return errStoreDown
}

func (failingStore) BlockedUntil(context.Context, string, time.Time) (time.Time, error) {
	return time.Time{}, errStoreDown
}

func newTestLimiter(t *testing.T) (*Limiter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(NewMemoryStore(), WithClock(clk)), clk
}

func TestLimiter_Boundary(t *testing.T) {
	ctx := context.Background()
	limiter, clk := newTestLimiter(t)

	for i := 1; i <= 5; i++ {
		assert.True(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute), "attempt %d", i)
		clk.Advance(time.Second)
	}
	assert.False(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute), "6th attempt")

	clk.Advance(time.Minute)
	assert.True(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute), "after window")
}

func TestLimiter_RefusedAttemptsAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	limiter, clk := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "acct", "pin", 3, 10*time.Second))
	}
	// Hammer while saturated; none of these may extend the window.
	for i := 0; i < 10; i++ {
		clk.Advance(500 * time.Millisecond)
		require.False(t, limiter.CheckAndRecord(ctx, "acct", "pin", 3, 10*time.Second))
	}

	clk.Advance(5*time.Second + time.Millisecond)
	assert.True(t, limiter.CheckAndRecord(ctx, "acct", "pin", 3, 10*time.Second))
}

func TestLimiter_SlidingNotFixed(t *testing.T) {
	ctx := context.Background()
	limiter, clk := newTestLimiter(t)

	require.True(t, limiter.CheckAndRecord(ctx, "s", "a", 2, time.Minute))
	clk.Advance(40 * time.Second)
	require.True(t, limiter.CheckAndRecord(ctx, "s", "a", 2, time.Minute))
	clk.Advance(30 * time.Second)

	// First attempt left the window; the second is still inside it.
	assert.True(t, limiter.CheckAndRecord(ctx, "s", "a", 2, time.Minute))
	assert.False(t, limiter.CheckAndRecord(ctx, "s", "a", 2, time.Minute))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	require.True(t, limiter.CheckAndRecord(ctx, "ip-1", "login", 1, time.Minute))
	assert.False(t, limiter.CheckAndRecord(ctx, "ip-1", "login", 1, time.Minute))
	assert.True(t, limiter.CheckAndRecord(ctx, "ip-2", "login", 1, time.Minute))
	assert.True(t, limiter.CheckAndRecord(ctx, "ip-1", "pin", 1, time.Minute))
}

func TestLimiter_ZeroMaxDenies(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	assert.False(t, limiter.CheckAndRecord(context.Background(), "s", "a", 0, time.Minute))
}

func TestLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)
	policy := Policy{Action: "test", MaxAttempts: 2, Window: time.Minute}

	assert.True(t, limiter.Allow(ctx, "s", policy))
	assert.True(t, limiter.Allow(ctx, "s", policy))
	assert.False(t, limiter.Allow(ctx, "s", policy))
}

func TestLimiter_Concurrent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckAndRecord(ctx, "10.0.0.9", "login", 10, time.Minute) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
}

func TestLimiter_FailsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	limiter := New(failingStore{}, WithLogger(logger))
	ctx := context.Background()

	assert.True(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 1, time.Minute))
	assert.Contains(t, buf.String(), "rate limiter store unavailable")
	assert.Contains(t, buf.String(), "action=login")

	buf.Reset()
	assert.False(t, limiter.IsBlocked(ctx, "10.0.0.1"))
	assert.Contains(t, buf.String(), "skipping block check")

	assert.ErrorIs(t, limiter.Block(ctx, "10.0.0.1", time.Hour, "test"), errStoreDown)
}

func TestLimiter_Block(t *testing.T) {
	ctx := context.Background()
	limiter, clk := newTestLimiter(t)

	assert.False(t, limiter.IsBlocked(ctx, "10.0.0.1"))
	require.NoError(t, limiter.Block(ctx, "10.0.0.1", DefaultBlockDuration, "possible_clone"))
	assert.True(t, limiter.IsBlocked(ctx, "10.0.0.1"))
	assert.False(t, limiter.IsBlocked(ctx, "10.0.0.2"))

	clk.Advance(DefaultBlockDuration)
	assert.False(t, limiter.IsBlocked(ctx, "10.0.0.1"))
}

func TestLimiter_StoreTimeout(t *testing.T) {
	store := &slowStore{delay: time.Second}
	limiter := New(store, WithStoreTimeout(10*time.Millisecond), WithLogger(slog.New(slog.DiscardHandler)))

	start := time.Now()
	assert.True(t, limiter.CheckAndRecord(context.Background(), "s", "a", 1, time.Minute))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// slowStore blocks until its delay elapses or the context is done.
type slowStore struct {
	failingStore
	delay time.Duration
}

func (s *slowStore) CountAndAppend(ctx context.Context, _ string, _ time.Time, _ time.Duration, _ int) (bool, error) {
	select {
	case <-time.After(s.delay):
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
