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

package storage

import "errors"

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("storage: closed")

	// ErrNotFound means no record is stored at the key.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidKey rejects empty keys and keys that escape the file root.
	ErrInvalidKey = errors.New("storage: invalid key")
)
