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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "quickauth:ratelimit"

// Sorted set per key, scored by event time in microseconds. Trimming,
// counting and appending run in one script so concurrent replicas cannot
// both take the last slot.
var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// A block only ever extends.
var blockScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "until")
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "until", ARGV[1], "reason", ARGV[2])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
return 1
`)

// RedisStore is an EventStore shared by every server replica.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ EventStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. An empty prefix selects the default
// key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// CountAndAppend implements EventStore.
func (s *RedisStore) CountAndAppend(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error) {
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-window).UnixMicro()
	ttlMs := window.Milliseconds()
	if ttlMs < 1000 {
		ttlMs = 1000
	}
	member := strconv.FormatInt(nowMicros, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.eventsKey(key)},
		nowMicros, cutoff, max, member, ttlMs).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis count: %w", err)
	}
	return res == 1, nil
}

// Block implements EventStore.
func (s *RedisStore) Block(ctx context.Context, subject string, until time.Time, reason string) error {
	expireAt := until.Add(time.Minute).UnixMilli()
	err := blockScript.Run(ctx, s.client, []string{s.blockKey(subject)},
		until.UnixMilli(), reason, expireAt).Err()
	if err != nil {
		return fmt.Errorf("ratelimit: redis block: %w", err)
	}
	return nil
}

// BlockedUntil implements EventStore.
func (s *RedisStore) BlockedUntil(ctx context.Context, subject string, now time.Time) (time.Time, error) {
	raw, err := s.client.HGet(ctx, s.blockKey(subject), "until").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("ratelimit: redis block lookup: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ratelimit: corrupt block entry: %w", err)
	}
	until := time.UnixMilli(ms)
	if !now.Before(until) {
		return time.Time{}, nil
	}
	return until, nil
}

func (s *RedisStore) eventsKey(key string) string {
	return s.prefix + ":events:" + key
}

func (s *RedisStore) blockKey(subject string) string {
	return s.prefix + ":block:" + subject
}
