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

package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/storage"
	"github.com/jeremyhahn/go-quickauth/pkg/storage/file"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*KVStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testEpoch)
	s, err := NewKVStore(storage.NewMemory(), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func newAccount(username, email string) *Account {
	return &Account{Username: username, Email: email, PasswordHash: "$argon2id$stub"}
}

func TestNewKVStore_NilBackend(t *testing.T) {
	_, err := NewKVStore(nil)
	assert.Error(t, err)
}

func TestKVStore_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := newAccount("Alice", "alice@example.com")
	require.NoError(t, s.Create(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, testEpoch, a.CreatedAt)

	got, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "Alice", got.Username)
	assert.Equal(t, a.PasswordHash, got.PasswordHash)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))

	for _, login := range []string{"alice", " ALICE ", "Alice@Example.com"} {
		got, err := s.LoadByLogin(ctx, login)
		require.NoError(t, err, login)
		assert.Equal(t, a.ID, got.ID)
	}

	_, err = s.LoadByLogin(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKVStore_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Create(ctx, newAccount("alice", "alice@example.com")))

	assert.ErrorIs(t, s.Create(ctx, newAccount("ALICE", "other@example.com")), ErrAlreadyExists)
	assert.ErrorIs(t, s.Create(ctx, newAccount("alice2", "alice@example.com")), ErrAlreadyExists)

	// The failed attempt above must not leave "alice2" claimed.
	require.NoError(t, s.Create(ctx, newAccount("alice2", "alice2@example.com")))
}

func TestKVStore_CreateValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.Create(ctx, &Account{Username: " ", PasswordHash: "x"}), ErrInvalidAccount)
	assert.ErrorIs(t, s.Create(ctx, &Account{Username: "bob"}), ErrInvalidAccount)
}

func TestKVStore_SaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	a := newAccount("alice", "")
	require.NoError(t, s.Create(ctx, a))

	clk.Advance(time.Minute)
	a.FailedLogins = 2
	require.NoError(t, s.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, testEpoch.Add(time.Minute), a.UpdatedAt)

	got, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedLogins)
	assert.Equal(t, testEpoch, got.CreatedAt)

	missing := newAccount("ghost", "")
	missing.ID = "ghost"
	assert.ErrorIs(t, s.Save(ctx, missing), ErrNotFound)
}

func TestKVStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := newAccount("alice", "")
	require.NoError(t, s.Create(ctx, a))

	first, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	second, err := s.Load(ctx, a.ID)
	require.NoError(t, err)

	first.PINAttempts = 1
	require.NoError(t, s.CompareAndSwap(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.PINAttempts = 1
	assert.ErrorIs(t, s.CompareAndSwap(ctx, second), ErrVersionConflict)
}

func TestKVStore_CompareAndSwapConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := newAccount("alice", "")
	require.NoError(t, s.Create(ctx, a))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := s.Load(ctx, a.ID)
				if err != nil {
					return
				}
				cur.FailedLogins++
				err = s.CompareAndSwap(ctx, cur)
				if !errors.Is(err, ErrVersionConflict) {
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedLogins)
	assert.Equal(t, int64(workers+1), got.Version)
}

func TestKVStore_LoginFieldsImmutable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := newAccount("alice", "alice@example.com")
	require.NoError(t, s.Create(ctx, a))

	a.Username = "mallory"
	assert.ErrorIs(t, s.Save(ctx, a), ErrInvalidAccount)

	a.Username = "ALICE"
	assert.NoError(t, s.Save(ctx, a))
}

func TestKVStore_RememberToken(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := newAccount("alice", "")
	require.NoError(t, s.Create(ctx, a))

	_, err := s.LoadByRememberToken(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	exp := testEpoch.Add(30 * 24 * time.Hour)
	a.RememberTokenHash = "hash-1"
	a.RememberExpiresAt = &exp
	require.NoError(t, s.Save(ctx, a))

	got, err := s.LoadByRememberToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	a.RememberTokenHash = "hash-2"
	require.NoError(t, s.CompareAndSwap(ctx, a))
	_, err = s.LoadByRememberToken(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadByRememberToken(ctx, "hash-2")
	require.NoError(t, err)

	a.ClearRememberToken()
	require.NoError(t, s.Save(ctx, a))
	_, err = s.LoadByRememberToken(ctx, "hash-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadByRememberToken(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKVStore_Credentials(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)

	c1 := &Credential{ID: []byte("cred-1"), AccountID: "acct-1", PublicKey: []byte{1}, Algorithm: -7}
	c2 := &Credential{ID: []byte("cred-2"), AccountID: "acct-1", PublicKey: []byte{2}, Algorithm: -257, SignCount: 4}
	c3 := &Credential{ID: []byte("cred-3"), AccountID: "acct-2", PublicKey: []byte{3}, Algorithm: -7}
	for _, c := range []*Credential{c1, c2, c3} {
		require.NoError(t, s.Insert(ctx, c))
	}
	assert.Equal(t, testEpoch, c1.CreatedAt)

	dup := &Credential{ID: []byte("cred-1"), AccountID: "acct-2", PublicKey: []byte{9}}
	assert.ErrorIs(t, s.Insert(ctx, dup), ErrCredentialExists)
	assert.Error(t, s.Insert(ctx, &Credential{AccountID: "acct-1", PublicKey: []byte{1}}))

	got, err := s.FindByCredentialID(ctx, []byte("cred-2"))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.SignCount)
	_, err = s.FindByCredentialID(ctx, []byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	clk.Advance(time.Hour)
	require.NoError(t, s.UpdateCounter(ctx, []byte("cred-2"), 4, 5))
	assert.ErrorIs(t, s.UpdateCounter(ctx, []byte("cred-2"), 4, 6), ErrCounterConflict)
	assert.ErrorIs(t, s.UpdateCounter(ctx, []byte("nope"), 0, 1), ErrNotFound)

	got, err = s.FindByCredentialID(ctx, []byte("cred-2"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.SignCount)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, testEpoch.Add(time.Hour), *got.LastUsedAt)

	require.NoError(t, s.Delete(ctx, []byte("cred-2")))
	assert.ErrorIs(t, s.Delete(ctx, []byte("cred-2")), ErrNotFound)
	list, err = s.ListByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := s.DeleteAllForAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err = s.ListByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err = s.DeleteAllForAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.FindByCredentialID(ctx, []byte("cred-3"))
	assert.NoError(t, err)
}

func TestKVStore_ConcurrentCounterUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Insert(ctx, &Credential{ID: []byte("c"), AccountID: "a", PublicKey: []byte{1}, SignCount: 10}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.UpdateCounter(ctx, []byte("c"), 10, 11) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestKVStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Create(ctx, newAccount("a", "")), ErrClosed)
}

func TestKVStore_CancelledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKVStore_FileBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	s, err := NewKVStore(backend)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	a := newAccount("carol/../../etc", "carol@example.com")
	require.NoError(t, s.Create(ctx, a))

	got, err := s.LoadByLogin(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	require.NoError(t, s.Insert(ctx, &Credential{ID: []byte{0xff, 0x00, '/'}, AccountID: a.ID, PublicKey: []byte{1}}))
	list, err := s.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte{0xff, 0x00, '/'}, list[0].ID)
}
