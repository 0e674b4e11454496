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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CountAndAppend implements ratelimit.EventStore. A transaction-scoped
// advisory lock on the key serializes concurrent checks of one key.
func (s *Store) CountAndAppend(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return false, fmt.Errorf("lock key: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM quickauth_rate_events WHERE key = $1 AND occurred_at < $2`,
		key, now.Add(-window)); err != nil {
		return false, fmt.Errorf("prune events: %w", err)
	}

	var count int64
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM quickauth_rate_events WHERE key = $1`, key).Scan(&count); err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}

	allowed := count < int64(max)
	if allowed {
		if _, err := tx.Exec(ctx,
			`INSERT INTO quickauth_rate_events (key, occurred_at) VALUES ($1, $2)`, key, now); err != nil {
			return false, fmt.Errorf("record event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return allowed, nil
}

// Block implements ratelimit.EventStore. An existing longer block is kept.
func (s *Store) Block(ctx context.Context, subject string, until time.Time, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quickauth_blocks (subject, blocked_until, reason)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (subject) DO UPDATE SET
			reason = CASE WHEN EXCLUDED.blocked_until > quickauth_blocks.blocked_until
				THEN EXCLUDED.reason ELSE quickauth_blocks.reason END,
			blocked_until = GREATEST(quickauth_blocks.blocked_until, EXCLUDED.blocked_until)`,
		subject, until, reason)
	if err != nil {
		return fmt.Errorf("block subject: %w", err)
	}
	return nil
}

// BlockedUntil implements ratelimit.EventStore.
func (s *Store) BlockedUntil(ctx context.Context, subject string, now time.Time) (time.Time, error) {
	var until time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT blocked_until FROM quickauth_blocks WHERE subject = $1 AND blocked_until > $2`,
		subject, now).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load block: %w", err)
	}
	return until, nil
}

// PurgeExpired deletes rate events recorded before cutoff and blocks that
// ended before now.
func (s *Store) PurgeExpired(ctx context.Context, cutoff, now time.Time) (int64, error) {
	events, err := s.pool.Exec(ctx, `DELETE FROM quickauth_rate_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	blocks, err := s.pool.Exec(ctx, `DELETE FROM quickauth_blocks WHERE blocked_until <= $1`, now)
	if err != nil {
		return events.RowsAffected(), fmt.Errorf("purge blocks: %w", err)
	}
	return events.RowsAffected() + blocks.RowsAffected(), nil
}
