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
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStore(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()

	store, err := NewRedisStore(client, "")
	require.NoError(t, err)
	assert.Equal(t, "quickauth:ratelimit:events:login_ip|10.0.0.1", store.eventsKey(eventKey(ActionLoginIP, "10.0.0.1")))
	assert.Equal(t, "quickauth:ratelimit:block:10.0.0.1", store.blockKey("10.0.0.1"))

	store, err = NewRedisStore(client, "app:rl:")
	require.NoError(t, err)
	assert.Equal(t, "app:rl:block:x", store.blockKey("x"))
}
