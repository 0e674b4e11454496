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

package challenge

import (
	"context"
	"time"
)

// DefaultStoreTimeout bounds each call made through WithTimeout.
const DefaultStoreTimeout = 5 * time.Second

// WithTimeout returns store with Issue and Consume bounded by d. A
// non-positive d selects DefaultStoreTimeout. Wrapping an already bounded
// store replaces its bound.
func WithTimeout(store Store, d time.Duration) Store {
	if t, ok := store.(*timeoutStore); ok {
		store = t.next
	}
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return &timeoutStore{next: store, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) Issue(ctx context.Context, kind Kind, owner string) (*Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Issue(ctx, kind, owner)
}

func (t *timeoutStore) Consume(ctx context.Context, value []byte, kind Kind) (*Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Consume(ctx, value, kind)
}
