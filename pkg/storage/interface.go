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

// Package storage is the key/value layer under the account repositories.
// Records are opaque byte slices; every multi-step change to a single key
// goes through Update so concurrent logins against one account never
// interleave a read and a write.
package storage

import (
	"io/fs"
)

// Backend stores opaque records by key. Implementations are safe for
// concurrent use.
type Backend interface {
	// Get returns the record at key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put overwrites the record at key. opts may be nil.
	Put(key string, value []byte, opts *Options) error

	// Update is an atomic read-modify-write of one key. fn sees the
	// current record (nil, false when absent) and returns the next one;
	// a nil result deletes the key and an error leaves it untouched.
	Update(key string, fn UpdateFunc) error

	// Delete removes key, or returns ErrNotFound.
	Delete(key string) error

	// List returns the sorted keys under prefix.
	List(prefix string) ([]string, error)

	Close() error
}

// UpdateFunc computes the next record inside Backend.Update.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Options tunes a single Put.
type Options struct {
	// Permissions overrides the file mode used by file-backed storage.
	// Zero selects 0600.
	Permissions fs.FileMode
}
