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

package account

import "errors"

var (
	// ErrNotFound is returned when an account or credential does not exist.
	ErrNotFound = errors.New("account: not found")

	// ErrAlreadyExists is returned when a username or email is taken.
	ErrAlreadyExists = errors.New("account: already exists")

	// ErrVersionConflict is returned by CompareAndSwap when the stored
	// account changed since it was loaded.
	ErrVersionConflict = errors.New("account: version conflict")

	// ErrCredentialExists is returned when a credential ID is already registered.
	ErrCredentialExists = errors.New("account: credential already registered")

	// ErrCounterConflict is returned by UpdateCounter when the stored
	// counter no longer matches the expected value.
	ErrCounterConflict = errors.New("account: signature counter changed concurrently")

	// ErrInvalidAccount is returned for accounts missing required fields.
	ErrInvalidAccount = errors.New("account: invalid account")

	// ErrClosed is returned after the repository has been closed.
	ErrClosed = errors.New("account: repository closed")
)
