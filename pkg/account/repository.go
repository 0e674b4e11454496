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

import "context"

// AccountRepository persists accounts.
type AccountRepository interface {
	// Create stores a new account, assigning an ID when empty. Username and
	// email are unique case-insensitively. The stored Version is 1.
	Create(ctx context.Context, a *Account) error

	// Load returns the account with the given ID.
	Load(ctx context.Context, id string) (*Account, error)

	// LoadByLogin returns the account whose username or email matches login.
	LoadByLogin(ctx context.Context, login string) (*Account, error)

	// LoadByRememberToken returns the account holding the remember token
	// with the given hash.
	LoadByRememberToken(ctx context.Context, tokenHash string) (*Account, error)

	// Save unconditionally overwrites the account and bumps its Version.
	Save(ctx context.Context, a *Account) error

	// CompareAndSwap stores a only if the stored Version equals a.Version,
	// then increments a.Version. Otherwise it returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, a *Account) error
}

// CredentialRepository persists WebAuthn credentials.
type CredentialRepository interface {
	// Insert stores a new credential. Returns ErrCredentialExists when the
	// credential ID is already registered.
	Insert(ctx context.Context, c *Credential) error

	// FindByCredentialID returns the credential with the given ID.
	FindByCredentialID(ctx context.Context, id []byte) (*Credential, error)

	// ListByAccount returns every credential registered to the account.
	ListByAccount(ctx context.Context, accountID string) ([]*Credential, error)

	// Delete removes one credential. Returns ErrNotFound when it does not
	// exist.
	Delete(ctx context.Context, id []byte) error

	// DeleteAllForAccount removes every credential of the account and
	// returns how many were removed.
	DeleteAllForAccount(ctx context.Context, accountID string) (int, error)

	// UpdateCounter atomically replaces the signature counter when it still
	// equals expectOld, and stamps LastUsedAt. Returns ErrCounterConflict
	// when another verification updated it first.
	UpdateCounter(ctx context.Context, id []byte, expectOld, newCount uint32) error
}
