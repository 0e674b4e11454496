//go:build integration

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
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("QUICKAUTH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QUICKAUTH_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	store, err := NewRedisStore(client, "quickauth:test:"+t.Name()+":"+time.Now().Format("150405.000000"))
	require.NoError(t, err)
	return store
}

func TestRedisStore_Boundary(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now())
	limiter := New(newRedisStore(t), WithClock(clk))

	for i := 0; i < 5; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute))
	}
	assert.False(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute))

	clk.Advance(time.Minute + time.Millisecond)
	assert.True(t, limiter.CheckAndRecord(ctx, "10.0.0.1", "login", 5, time.Minute))
}

func TestRedisStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CountAndAppend(ctx, "k", now, time.Minute, 7)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(7), allowed.Load())
}

func TestRedisStore_Block(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, store.Block(ctx, "ip", now.Add(time.Hour), "clone"))
	require.NoError(t, store.Block(ctx, "ip", now.Add(time.Minute), "shorter"))

	until, err := store.BlockedUntil(ctx, "ip", now)
	require.NoError(t, err)
	assert.True(t, until.Equal(now.Add(time.Hour)))

	until, err = store.BlockedUntil(ctx, "ip", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	until, err = store.BlockedUntil(ctx, "unknown", now)
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}
