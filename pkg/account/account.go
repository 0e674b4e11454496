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

// Package account defines the account and credential records the trust
// core operates on, the repositories that persist them, and a key/value
// implementation of those repositories over pkg/storage.
package account

import (
	"strings"
	"time"
)

// Status is the coarse account state.
type Status string

const (
	StatusActive Status = "active"
	StatusLocked Status = "locked"
)

// Login methods recorded in LastLoginMethod.
const (
	MethodPassword = "password"
	MethodRemember = "remember_token"
	MethodPIN      = "pin"
	MethodWebAuthn = "webauthn"
)

// Account holds identity, password tier state and the fast-path (PIN,
// WebAuthn, remember-me) flags.
type Account struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"password_hash"`
	PINHash            string     `json:"pin_hash,omitempty"`
	PINEnabled         bool       `json:"pin_enabled"`
	PINAttempts        int        `json:"pin_attempts"`
	FailedLogins       int        `json:"failed_logins"`
	WebAuthnEnabled    bool       `json:"webauthn_enabled"`
	QuickAccessEnabled bool       `json:"quick_access_enabled"`
	RememberTokenHash  string     `json:"remember_token_hash,omitempty"`
	RememberExpiresAt  *time.Time `json:"remember_expires_at,omitempty"`
	Status             Status     `json:"status"`
	PasswordVerifiedAt *time.Time `json:"password_verified_at,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	LastLoginMethod    string     `json:"last_login_method,omitempty"`
	LoginCount         int64      `json:"login_count"`
}

// Locked reports whether the account is locked.
func (a *Account) Locked() bool {
	return a.Status == StatusLocked
}

// ClearQuickAccess strips every fast-path credential from the account:
// PIN, remember token, quick access and the WebAuthn flag. The password
// hash and login statistics are untouched. Stored credentials live in the
// CredentialRepository and are removed separately.
func (a *Account) ClearQuickAccess() {
	a.PINHash = ""
	a.PINEnabled = false
	a.PINAttempts = 0
	a.QuickAccessEnabled = false
	a.WebAuthnEnabled = false
	a.ClearRememberToken()
}

// ClearRememberToken invalidates the remember-me token.
func (a *Account) ClearRememberToken() {
	a.RememberTokenHash = ""
	a.RememberExpiresAt = nil
}

// RecordLogin updates the login statistics.
func (a *Account) RecordLogin(method string, at time.Time) {
	a.LastLoginAt = &at
	a.LastLoginMethod = method
	a.LoginCount++
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.RememberExpiresAt = cloneTime(a.RememberExpiresAt)
	c.PasswordVerifiedAt = cloneTime(a.PasswordVerifiedAt)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	return &c
}

// Credential is a registered WebAuthn credential.
type Credential struct {
	ID                []byte     `json:"id"`
	AccountID         string     `json:"account_id"`
	PublicKey         []byte     `json:"public_key"`
	Algorithm         int64      `json:"algorithm"`
	SignCount         uint32     `json:"sign_count"`
	AttestationFormat string     `json:"attestation_format"`
	AAGUID            []byte     `json:"aaguid,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// NormalizeLogin folds a username or email for lookups.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
