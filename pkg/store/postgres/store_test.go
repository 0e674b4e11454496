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
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
)

func TestNew_RequiresPool(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPGCode(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})
	assert.Equal(t, codeUniqueViolation, pgCode(wrapped))
	assert.Empty(t, pgCode(errors.New("plain")))
	assert.Empty(t, pgCode(nil))
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), account.ErrNotFound)
	other := errors.New("connection reset")
	assert.Equal(t, other, notFound(other))
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", deref(nullString("x")))
	assert.Empty(t, deref(nil))
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"quickauth_accounts", "quickauth_credentials", "quickauth_rate_events", "quickauth_blocks"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Positive(t, cfg.ConnectTimeout)
}
