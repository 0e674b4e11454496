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

// Package correlation ties the log lines and incidents of one request
// together under a single ID.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Inbound headers, checked in order. The chosen ID is always echoed
// back as CorrelationIDHeader.
const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
)

// Caller-supplied IDs longer than this are discarded.
const maxIDLength = 128

type ctxKey struct{}

// WithCorrelationID returns a copy of ctx carrying id. A nil ctx is
// treated as context.Background().
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// GetCorrelationID returns the ID carried by ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewID mints a random UUIDv4.
func NewID() string {
	return uuid.NewString()
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// child context carrying a fresh one. The effective ID is returned too.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithCorrelationID(ctx, id), id
}

// Middleware adopts a well-formed inbound ID or mints one, attaches it to
// the request context and sets it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := inbound(r.Header); id != "" {
			ctx = WithCorrelationID(ctx, id)
		}
		ctx, id := Ensure(ctx)
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inbound(h http.Header) string {
	for _, name := range [...]string{CorrelationIDHeader, RequestIDHeader} {
		if id := h.Get(name); wellFormed(id) {
			return id
		}
	}
	return ""
}

// wellFormed accepts 1..maxIDLength visible ASCII characters.
func wellFormed(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, c := range []byte(id) {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
