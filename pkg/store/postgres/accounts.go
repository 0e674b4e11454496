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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
)

const accountColumns = `id, username, email, password_hash, pin_hash, pin_enabled,
	pin_attempts, failed_logins, webauthn_enabled, quick_access_enabled,
	remember_token_hash, remember_expires_at, status, password_verified_at,
	version, created_at, updated_at, last_login_at, last_login_method, login_count`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a        account.Account
		remember *string
		status   string
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.PINHash, &a.PINEnabled,
		&a.PINAttempts, &a.FailedLogins, &a.WebAuthnEnabled, &a.QuickAccessEnabled,
		&remember, &a.RememberExpiresAt, &status, &a.PasswordVerifiedAt,
		&a.Version, &a.CreatedAt, &a.UpdatedAt, &a.LastLoginAt, &a.LastLoginMethod, &a.LoginCount,
	)
	if err != nil {
		return nil, notFound(err)
	}
	a.RememberTokenHash = deref(remember)
	a.Status = account.Status(status)
	return &a, nil
}

// Create implements account.AccountRepository.
func (s *Store) Create(ctx context.Context, a *account.Account) error {
	username := account.NormalizeLogin(a.Username)
	email := account.NormalizeLogin(a.Email)
	if username == "" || a.PasswordHash == "" {
		return account.ErrInvalidAccount
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = account.StatusActive
	}
	now := s.clock.Now()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Usernames and emails share one namespace.
	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM quickauth_accounts
			WHERE username_norm IN ($1, $2) OR email_norm IN ($1, $2)
		)`, username, nullString(email)).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check login: %w", err)
	}
	if taken {
		return account.ErrAlreadyExists
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quickauth_accounts (`+accountColumns+`, username_norm, email_norm)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.PINHash, a.PINEnabled,
		a.PINAttempts, a.FailedLogins, a.WebAuthnEnabled, a.QuickAccessEnabled,
		nullString(a.RememberTokenHash), a.RememberExpiresAt, string(a.Status), a.PasswordVerifiedAt,
		int64(1), now, now, a.LastLoginAt, a.LastLoginMethod, a.LoginCount,
		username, nullString(email),
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return account.ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// Load implements account.AccountRepository.
func (s *Store) Load(ctx context.Context, id string) (*account.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM quickauth_accounts WHERE id = $1`, id))
}

// LoadByLogin implements account.AccountRepository.
func (s *Store) LoadByLogin(ctx context.Context, login string) (*account.Account, error) {
	norm := account.NormalizeLogin(login)
	if norm == "" {
		return nil, account.ErrNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM quickauth_accounts
		 WHERE username_norm = $1 OR email_norm = $1
		 LIMIT 1`, norm))
}

// LoadByRememberToken implements account.AccountRepository.
func (s *Store) LoadByRememberToken(ctx context.Context, tokenHash string) (*account.Account, error) {
	if tokenHash == "" {
		return nil, account.ErrNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM quickauth_accounts WHERE remember_token_hash = $1`, tokenHash))
}

// Save implements account.AccountRepository.
func (s *Store) Save(ctx context.Context, a *account.Account) error {
	return s.write(ctx, a, false)
}

// CompareAndSwap implements account.AccountRepository.
func (s *Store) CompareAndSwap(ctx context.Context, a *account.Account) error {
	return s.write(ctx, a, true)
}

func (s *Store) write(ctx context.Context, a *account.Account, checkVersion bool) error {
	if a.ID == "" {
		return account.ErrInvalidAccount
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		version      int64
		usernameNorm string
		emailNorm    *string
	)
	err = tx.QueryRow(ctx,
		`SELECT version, username_norm, email_norm FROM quickauth_accounts WHERE id = $1 FOR UPDATE`,
		a.ID).Scan(&version, &usernameNorm, &emailNorm)
	if err != nil {
		return notFound(err)
	}
	if checkVersion && version != a.Version {
		return account.ErrVersionConflict
	}
	if usernameNorm != account.NormalizeLogin(a.Username) || deref(emailNorm) != account.NormalizeLogin(a.Email) {
		return fmt.Errorf("%w: login fields are immutable", account.ErrInvalidAccount)
	}

	now := s.clock.Now()
	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE quickauth_accounts SET
			password_hash = $2, pin_hash = $3, pin_enabled = $4, pin_attempts = $5,
			failed_logins = $6, webauthn_enabled = $7, quick_access_enabled = $8,
			remember_token_hash = $9, remember_expires_at = $10, status = $11,
			password_verified_at = $12, last_login_at = $13, last_login_method = $14,
			login_count = $15, updated_at = $16, version = version + 1
		 WHERE id = $1
		 RETURNING version, created_at`,
		a.ID, a.PasswordHash, a.PINHash, a.PINEnabled, a.PINAttempts,
		a.FailedLogins, a.WebAuthnEnabled, a.QuickAccessEnabled,
		nullString(a.RememberTokenHash), a.RememberExpiresAt, string(a.Status),
		a.PasswordVerifiedAt, a.LastLoginAt, a.LastLoginMethod,
		a.LoginCount, now,
	).Scan(&version, &createdAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: remember token already in use", account.ErrAlreadyExists)
		}
		return fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.Version = version
	a.UpdatedAt = now
	a.CreatedAt = createdAt
	return nil
}
