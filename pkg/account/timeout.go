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
	"time"
)

// DefaultStoreTimeout bounds each repository call made through
// WithTimeout and CredentialsWithTimeout.
const DefaultStoreTimeout = 5 * time.Second

// WithTimeout returns repo with every call bounded by d, so a stalled
// backend surfaces as context.DeadlineExceeded instead of hanging the
// caller. A non-positive d selects DefaultStoreTimeout. Wrapping an
// already bounded repository replaces its bound.
func WithTimeout(repo AccountRepository, d time.Duration) AccountRepository {
	if t, ok := repo.(*timeoutAccounts); ok {
		repo = t.next
	}
	return &timeoutAccounts{next: repo, timeout: orDefault(d)}
}

// CredentialsWithTimeout is WithTimeout for credential repositories.
func CredentialsWithTimeout(repo CredentialRepository, d time.Duration) CredentialRepository {
	if t, ok := repo.(*timeoutCredentials); ok {
		repo = t.next
	}
	return &timeoutCredentials{next: repo, timeout: orDefault(d)}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultStoreTimeout
	}
	return d
}

type timeoutAccounts struct {
	next    AccountRepository
	timeout time.Duration
}

func (t *timeoutAccounts) Create(ctx context.Context, a *Account) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Create(ctx, a)
}

func (t *timeoutAccounts) Load(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Load(ctx, id)
}

func (t *timeoutAccounts) LoadByLogin(ctx context.Context, login string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.LoadByLogin(ctx, login)
}

func (t *timeoutAccounts) LoadByRememberToken(ctx context.Context, tokenHash string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.LoadByRememberToken(ctx, tokenHash)
}

func (t *timeoutAccounts) Save(ctx context.Context, a *Account) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Save(ctx, a)
}

func (t *timeoutAccounts) CompareAndSwap(ctx context.Context, a *Account) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.CompareAndSwap(ctx, a)
}

type timeoutCredentials struct {
	next    CredentialRepository
	timeout time.Duration
}

func (t *timeoutCredentials) Insert(ctx context.Context, c *Credential) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Insert(ctx, c)
}

func (t *timeoutCredentials) FindByCredentialID(ctx context.Context, id []byte) (*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.FindByCredentialID(ctx, id)
}

func (t *timeoutCredentials) ListByAccount(ctx context.Context, accountID string) ([]*Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ListByAccount(ctx, accountID)
}

func (t *timeoutCredentials) Delete(ctx context.Context, id []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Delete(ctx, id)
}

func (t *timeoutCredentials) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DeleteAllForAccount(ctx, accountID)
}

func (t *timeoutCredentials) UpdateCounter(ctx context.Context, id []byte, expectOld, newCount uint32) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.UpdateCounter(ctx, id, expectOld, newCount)
}
