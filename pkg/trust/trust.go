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

// Package trust implements the account trust state machine. It decides
// which authentication tier a ceremony grants, enforces PIN lockout, and
// performs the full security reset that wipes every fast-path credential
// after suspected compromise.
//
// Accounts move NoQuickAccess -> PINEnabled -> WebAuthnEnabled as the user
// opts in, and fall back to NoQuickAccess on reset. Locked is reachable
// from every state through the account status.
package trust

import (
	"errors"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
)

// MaxPINAttempts is the number of wrong PINs that triggers a full reset.
const MaxPINAttempts = 3

// DefaultMaxRetries bounds compare-and-swap retries per transition.
const DefaultMaxRetries = 5

// Tier is the authentication level a ceremony granted.
type Tier string

const (
	TierNone       Tier = "none"
	TierPassword   Tier = "password"
	TierRemembered Tier = "remembered"
	TierPIN        Tier = "pin"
	TierWebAuthn   Tier = "webauthn"
)

// State is the fast-path enrolment state of an account.
type State string

const (
	StateNoQuickAccess   State = "no_quick_access"
	StatePINEnabled      State = "pin_enabled"
	StateWebAuthnEnabled State = "webauthn_enabled"
	StateLocked          State = "locked"
)

// Reset reasons.
const (
	ReasonPINLockout      = "pin_lockout"
	ReasonWebAuthnFailure = "webauthn_failure"
	ReasonLogout          = "logout"
	ReasonAdministrative  = "administrative"
)

var (
	ErrAccountLocked        = errors.New("trust: account is locked")
	ErrPINLockedOut         = errors.New("trust: too many PIN attempts, quick access reset")
	ErrInvalidPIN           = errors.New("trust: invalid PIN")
	ErrPINNotEnabled        = errors.New("trust: PIN is not enabled")
	ErrPasswordNotVerified  = errors.New("trust: password has never been verified")
	ErrInvalidPINFormat     = errors.New("trust: PIN must be 6 digits")
	ErrWebAuthnPrerequisite = errors.New("trust: WebAuthn requires PIN or an active session")
	ErrWebAuthnNotEnabled   = errors.New("trust: WebAuthn is not enabled")
	ErrRememberTokenInvalid = errors.New("trust: remember token is invalid or expired")
	ErrConcurrentUpdate     = errors.New("trust: account updated concurrently, retries exhausted")
)

// Decision is the outcome of a transition. It is never stored.
type Decision struct {
	Tier             Tier `json:"tier"`
	LockoutTriggered bool `json:"lockout_triggered,omitempty"`
	ResetTriggered   bool `json:"reset_triggered,omitempty"`
	NeedsPINSetup    bool `json:"needs_pin_setup,omitempty"`
	AttemptsLeft     int  `json:"attempts_left,omitempty"`
}

// StateOf reports the enrolment state of a.
func StateOf(a *account.Account) State {
	switch {
	case a.Locked():
		return StateLocked
	case a.WebAuthnEnabled:
		return StateWebAuthnEnabled
	case a.PINEnabled:
		return StatePINEnabled
	default:
		return StateNoQuickAccess
	}
}
