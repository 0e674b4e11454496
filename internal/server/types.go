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

package server

import (
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

// HeaderChallenge carries the base64url challenge from a Begin response
// back into the matching Finish request.
const HeaderChallenge = "X-Challenge"

// HeaderAccountID names the account for WebAuthn login.
const HeaderAccountID = "X-Account-Id"

// RegisterRequest is the request body for account creation.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// AccountResponse identifies a created account.
type AccountResponse struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// RememberLoginRequest is the request body for remember-me login.
type RememberLoginRequest struct {
	Token string `json:"token"`
}

// PINSetupRequest is the request body for enabling PIN login.
type PINSetupRequest struct {
	PIN string `json:"pin"`
}

// PINLoginRequest is the request body for PIN login.
type PINLoginRequest struct {
	AccountID string `json:"account_id"`
	PIN       string `json:"pin"`
}

// BeginLoginRequest is the request body for starting WebAuthn login.
type BeginLoginRequest struct {
	AccountID string `json:"account_id"`
}

// LogoutRequest is the request body for logout.
type LogoutRequest struct {
	ResetSecurity bool `json:"reset_security"`
}

// AuthResponse is the response after a successful login.
type AuthResponse struct {
	AccountID     string     `json:"account_id"`
	Token         string     `json:"token"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Tier          trust.Tier `json:"tier"`
	RememberToken string     `json:"remember_token,omitempty"`
	NeedsPINSetup bool       `json:"needs_pin_setup,omitempty"`
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	AccountID string     `json:"account_id"`
	Tier      trust.Tier `json:"tier"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// CredentialResponse describes a registered WebAuthn credential.
type CredentialResponse struct {
	CredentialID string `json:"credential_id"`
	Algorithm    string `json:"algorithm"`
	Format       string `json:"format"`
}

// StatusResponse acknowledges a state change.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the response format for errors. Message is always one
// of the generic client messages.
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	AttemptsLeft *int   `json:"attempts_left,omitempty"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status string      `json:"status"`
	Checks interface{} `json:"checks,omitempty"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeConflict           = "conflict"
	ErrorCodeRateLimited        = "rate_limited"
	ErrorCodeQuickAccessReset   = "quick_access_reset"
	ErrorCodeAccountLocked      = "account_locked"
	ErrorCodeUnavailable        = "unavailable"
	ErrorCodeInternalError      = "internal_error"
)
