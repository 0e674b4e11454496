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

	"github.com/jackc/pgx/v5"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
)

const credentialColumns = `id, account_id, public_key, algorithm, sign_count,
	attestation_format, aaguid, created_at, last_used_at`

func scanCredential(row pgx.Row) (*account.Credential, error) {
	var (
		c         account.Credential
		signCount int64
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.PublicKey, &c.Algorithm, &signCount,
		&c.AttestationFormat, &c.AAGUID, &c.CreatedAt, &c.LastUsedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.SignCount = uint32(signCount)
	return &c, nil
}

// Insert implements account.CredentialRepository.
func (s *Store) Insert(ctx context.Context, c *account.Credential) error {
	if len(c.ID) == 0 || c.AccountID == "" || len(c.PublicKey) == 0 {
		return fmt.Errorf("postgres: credential requires id, account and public key")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quickauth_credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.AccountID, c.PublicKey, c.Algorithm, int64(c.SignCount),
		c.AttestationFormat, c.AAGUID, c.CreatedAt, c.LastUsedAt)
	switch pgCode(err) {
	case "":
		if err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	case codeUniqueViolation:
		return account.ErrCredentialExists
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: unknown account", account.ErrNotFound)
	default:
		return fmt.Errorf("insert credential: %w", err)
	}
}

// FindByCredentialID implements account.CredentialRepository.
func (s *Store) FindByCredentialID(ctx context.Context, id []byte) (*account.Credential, error) {
	if len(id) == 0 {
		return nil, account.ErrNotFound
	}
	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM quickauth_credentials WHERE id = $1`, id))
}

// ListByAccount implements account.CredentialRepository.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*account.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM quickauth_credentials
		 WHERE account_id = $1
		 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*account.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// Delete implements account.CredentialRepository.
func (s *Store) Delete(ctx context.Context, id []byte) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quickauth_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// DeleteAllForAccount implements account.CredentialRepository.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quickauth_credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateCounter implements account.CredentialRepository. The WHERE clause
// on the old counter makes concurrent updates of one credential serialize;
// only the first succeeds.
func (s *Store) UpdateCounter(ctx context.Context, id []byte, expectOld, newCount uint32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quickauth_credentials SET sign_count = $3, last_used_at = $4
		 WHERE id = $1 AND sign_count = $2`,
		id, int64(expectOld), int64(newCount), s.clock.Now())
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quickauth_credentials WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	if !exists {
		return account.ErrNotFound
	}
	return account.ErrCounterConflict
}
