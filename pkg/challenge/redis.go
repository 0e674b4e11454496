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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "quickauth:challenge"

	// expiryGrace keeps entries in redis past their logical TTL so a late
	// consume reports ErrExpired instead of ErrNotFound.
	expiryGrace = time.Minute
)

// RedisStore shares challenges between server replicas. GETDEL provides the
// atomic compare-and-delete.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Store backed by client. An empty prefix selects
// the default key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("challenge: redis client is required")
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   newOptions(opts),
	}, nil
}

// Issue generates a challenge and stores it with a TTL.
func (s *RedisStore) Issue(ctx context.Context, kind Kind, owner string) (*Challenge, error) {
	c, err := s.opts.newChallenge(kind, owner)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("challenge: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(c.Value), payload, c.TTL+expiryGrace).Err(); err != nil {
		return nil, fmt.Errorf("challenge: redis set: %w", err)
	}
	return c, nil
}

// Consume atomically fetches and deletes the entry.
func (s *RedisStore) Consume(ctx context.Context, value []byte, kind Kind) (*Challenge, error) {
	payload, err := s.client.GetDel(ctx, s.key(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: redis getdel: %w", err)
	}

	var stored Challenge
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("challenge: decode: %w", err)
	}
	return s.opts.check(&stored, value, kind)
}

func (s *RedisStore) key(value []byte) string {
	return s.prefix + ":" + lookupKey(value)
}
