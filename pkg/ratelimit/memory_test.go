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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_EvictsEmptyKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ok, err := store.CountAndAppend(ctx, "k", now, time.Minute, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, store.Len())

	// The next check of the same key after the window prunes and re-adds.
	ok, err = store.CountAndAppend(ctx, "k", now.Add(2*time.Minute), time.Minute, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < sweepEvery-1; i++ {
		_, err := store.CountAndAppend(ctx, fmt.Sprintf("idle-%d", i), now, time.Minute, 5)
		require.NoError(t, err)
	}
	assert.Equal(t, sweepEvery-1, store.Len())

	_, err := store.CountAndAppend(ctx, "fresh", now.Add(time.Hour), time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_BlockOnlyExtends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Block(ctx, "ip", now.Add(time.Hour), "clone"))
	require.NoError(t, store.Block(ctx, "ip", now.Add(time.Minute), "other"))

	until, err := store.BlockedUntil(ctx, "ip", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), until)

	until, err = store.BlockedUntil(ctx, "ip", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	_, err := store.CountAndAppend(ctx, "k", time.Now(), time.Minute, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Block(ctx, "k", time.Now(), "r"), context.Canceled)
	_, err = store.BlockedUntil(ctx, "k", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicies(t *testing.T) {
	d := DefaultPolicies()
	require.NoError(t, d.Validate())
	assert.Equal(t, 5, d.LoginIP.MaxAttempts)
	assert.Equal(t, 15*time.Minute, d.LoginIP.Window)
	assert.Equal(t, 3, d.PINIP.MaxAttempts)
	assert.Equal(t, 10*time.Minute, d.PINIP.Window)
	assert.Equal(t, 5, d.LoginAccount.MaxAttempts)
	assert.Equal(t, 10, d.WebAuthnIP.MaxAttempts)

	var p Policies
	p.PINIP.MaxAttempts = 7
	p.SetDefaults()
	require.NoError(t, p.Validate())
	assert.Equal(t, 7, p.PINIP.MaxAttempts)
	assert.Equal(t, ActionPINIP, p.PINIP.Action)
	assert.Equal(t, d.LoginIP, p.LoginIP)

	p.WebAuthnIP.Window = -time.Second
	assert.Error(t, p.Validate())
}
