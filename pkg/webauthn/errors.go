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

package webauthn

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential verification.
var (
	// ErrClientDataMismatch is returned when the client data type or
	// challenge does not match the ceremony.
	ErrClientDataMismatch = errors.New("client data mismatch")

	// ErrOriginNotAllowed is returned when the client data origin is not in
	// the configured allow-list.
	ErrOriginNotAllowed = errors.New("origin not allowed")

	// ErrRPIDMismatch is returned when the authenticator data was produced
	// for another relying party.
	ErrRPIDMismatch = errors.New("relying party id hash mismatch")

	// ErrUserNotPresent is returned when the authenticator did not assert
	// user presence.
	ErrUserNotPresent = errors.New("user presence flag not set")

	// ErrUnsupportedAlgorithm is returned for COSE keys outside the
	// supported EC2 and RSA variants.
	ErrUnsupportedAlgorithm = errors.New("unsupported public key algorithm")

	// ErrUnsupportedAttestationFormat is returned for attestation formats
	// outside the allow-list or statements missing required fields.
	ErrUnsupportedAttestationFormat = errors.New("unsupported attestation format")

	// ErrInvalidSignature is returned for every cryptographic mismatch.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrPossibleClone is returned when the authenticator counter did not
	// advance past the stored value.
	ErrPossibleClone = errors.New("possible cloned authenticator")

	// ErrMalformed is returned when ceremony artifacts cannot be decoded.
	ErrMalformed = errors.New("malformed authenticator response")
)

// VerifyError wraps a verification failure with the operation that produced it.
type VerifyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *VerifyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *VerifyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new VerifyError with the given operation and error.
func NewError(op string, err error) error {
	return &VerifyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// malformed wraps a decoding failure so that it matches ErrMalformed while
// keeping the decoder's message.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// IsPossibleClone returns true if the error indicates counter regression.
func IsPossibleClone(err error) bool {
	return errors.Is(err, ErrPossibleClone)
}

// IsInvalidSignature returns true if the error indicates a signature mismatch.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
