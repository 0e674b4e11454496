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

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", GetCorrelationID(ctx))

	//nolint:staticcheck // nil context is accepted
	ctx = WithCorrelationID(nil, "def")
	assert.Equal(t, "def", GetCorrelationID(ctx))
}

func TestGetCorrelationID_Missing(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	//nolint:staticcheck // nil context is accepted
	assert.Empty(t, GetCorrelationID(nil))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestEnsure(t *testing.T) {
	parent := WithCorrelationID(context.Background(), "existing")
	ctx, id := Ensure(parent)
	assert.Equal(t, "existing", id)
	assert.Equal(t, parent, ctx)

	ctx, id = Ensure(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetCorrelationID(ctx))
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "correlation header", headers: map[string]string{CorrelationIDHeader: "corr-1"}, want: "corr-1"},
		{name: "request header", headers: map[string]string{RequestIDHeader: "req-1"}, want: "req-1"},
		{name: "correlation wins", headers: map[string]string{CorrelationIDHeader: "corr-2", RequestIDHeader: "req-2"}, want: "corr-2"},
		{name: "generated"},
		{name: "oversized is replaced", headers: map[string]string{CorrelationIDHeader: strings.Repeat("a", 200)}},
		{name: "control chars replaced", headers: map[string]string{CorrelationIDHeader: "bad\tid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))
			if tt.want != "" {
				assert.Equal(t, tt.want, seen)
			} else {
				_, err := uuid.Parse(seen)
				assert.NoError(t, err)
			}
		})
	}
}
