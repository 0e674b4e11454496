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
	"context"
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/auth"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

// statusFor maps a service error to an HTTP status and error code. The
// message always comes from auth.PublicMessage.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrRateLimited),
		errors.Is(err, auth.ErrBlocked):
		return http.StatusTooManyRequests, ErrorCodeRateLimited
	case errors.Is(err, trust.ErrConcurrentUpdate):
		return http.StatusConflict, ErrorCodeConflict
	case errors.Is(err, challenge.ErrCapacity),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorCodeUnavailable
	case errors.Is(err, auth.ErrQuickAccessReset),
		errors.Is(err, trust.ErrPINLockedOut):
		return http.StatusForbidden, ErrorCodeQuickAccessReset
	case errors.Is(err, trust.ErrAccountLocked):
		return http.StatusForbidden, ErrorCodeAccountLocked
	case errors.Is(err, auth.ErrInvalidRequest),
		errors.Is(err, trust.ErrInvalidPINFormat),
		errors.Is(err, password.ErrPINFormat):
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case errors.Is(err, account.ErrAlreadyExists):
		return http.StatusConflict, ErrorCodeConflict
	}
	if auth.PublicMessage(err) == auth.MessageInvalidCredentials {
		return http.StatusUnauthorized, ErrorCodeInvalidCredentials
	}
	return http.StatusInternalServerError, ErrorCodeInternalError
}
