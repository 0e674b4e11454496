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

package auth

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/session"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

var (
	// ErrInvalidCredentials is returned for a wrong login, password or
	// remember token without revealing which part was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrRateLimited is returned when a sliding-window limit refused the
	// attempt.
	ErrRateLimited = errors.New("auth: too many attempts")

	// ErrBlocked is returned when the client address is on the denylist.
	ErrBlocked = errors.New("auth: client is blocked")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("auth: invalid request")

	// ErrCeremonyMismatch is returned when a challenge was issued for
	// another account.
	ErrCeremonyMismatch = errors.New("auth: challenge was issued for another account")

	// ErrQuickAccessReset is returned when the failure triggered a full
	// security reset.
	ErrQuickAccessReset = errors.New("auth: quick access has been reset")
)

// Messages returned to clients. Nothing else crosses the trust boundary.
const (
	MessageInvalidCredentials  = "invalid credentials"
	MessageTryLater            = "too many attempts, try again later"
	MessageQuickAccessDisabled = "quick access has been disabled, sign in with your password"
	MessageContactSupport      = "contact support"
)

// PublicMessage collapses err into one of the generic client messages.
// It returns "" for a nil error.
func PublicMessage(err error) string {
	var verr *webauthn.VerifyError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrBlocked),
		errors.Is(err, trust.ErrConcurrentUpdate),
		errors.Is(err, challenge.ErrCapacity),
		errors.Is(err, context.DeadlineExceeded):
		return MessageTryLater
	case errors.Is(err, ErrQuickAccessReset),
		errors.Is(err, trust.ErrPINLockedOut):
		return MessageQuickAccessDisabled
	case errors.Is(err, trust.ErrAccountLocked):
		return MessageContactSupport
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrCeremonyMismatch),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, account.ErrAlreadyExists),
		errors.Is(err, account.ErrCredentialExists),
		errors.Is(err, trust.ErrInvalidPIN),
		errors.Is(err, trust.ErrInvalidPINFormat),
		errors.Is(err, trust.ErrPINNotEnabled),
		errors.Is(err, trust.ErrPasswordNotVerified),
		errors.Is(err, trust.ErrWebAuthnPrerequisite),
		errors.Is(err, trust.ErrWebAuthnNotEnabled),
		errors.Is(err, trust.ErrRememberTokenInvalid),
		errors.Is(err, challenge.ErrNotFound),
		errors.Is(err, challenge.ErrExpired),
		errors.Is(err, challenge.ErrKindMismatch),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, password.ErrPINFormat),
		errors.As(err, &verr):
		return MessageInvalidCredentials
	default:
		return MessageContactSupport
	}
}
