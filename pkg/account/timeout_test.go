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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledAccounts blocks every Load until the caller's context ends.
type stalledAccounts struct {
	AccountRepository
}

func (stalledAccounts) Load(ctx context.Context, _ string) (*Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type stalledCredentials struct {
	CredentialRepository
}

func (stalledCredentials) DeleteAllForAccount(ctx context.Context, _ string) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestWithTimeout_BoundsStalledCalls(t *testing.T) {
	repo := WithTimeout(stalledAccounts{}, 20*time.Millisecond)

	start := time.Now()
	_, err := repo.Load(context.Background(), "acct-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	creds := CredentialsWithTimeout(stalledCredentials{}, 20*time.Millisecond)
	_, err = creds.DeleteAllForAccount(context.Background(), "acct-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	repo := WithTimeout(s, 0)
	creds := CredentialsWithTimeout(s, 0)

	a := newAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, a))

	loaded, err := repo.LoadByLogin(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, a.ID, loaded.ID)

	require.NoError(t, creds.Insert(ctx, &Credential{ID: []byte("cred-1"), AccountID: a.ID, PublicKey: []byte("cose-key")}))
	list, err := creds.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWithTimeout_RewrapReplacesBound(t *testing.T) {
	inner := WithTimeout(stalledAccounts{}, time.Hour)
	outer := WithTimeout(inner, 0)

	bounded, ok := outer.(*timeoutAccounts)
	require.True(t, ok)
	assert.Equal(t, DefaultStoreTimeout, bounded.timeout)
	assert.IsType(t, stalledAccounts{}, bounded.next)
}
