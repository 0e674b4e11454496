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

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketLimiter_Disabled(t *testing.T) {
	l := NewBucketLimiter(nil)
	defer l.Stop()
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("client"))
	}
	assert.Equal(t, 0, l.Clients())
}

func TestBucketLimiter_Burst(t *testing.T) {
	l := NewBucketLimiter(&BucketConfig{Enabled: true, RequestsPerMinute: 60, Burst: 3})
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Clients())
}

func TestBucketLimiter_Cleanup(t *testing.T) {
	l := NewBucketLimiter(&BucketConfig{Enabled: true, RequestsPerMinute: 60, MaxIdle: time.Minute})
	defer l.Stop()

	l.Allow("a")
	l.cleanup(time.Now())
	assert.Equal(t, 1, l.Clients())
	l.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, l.Clients())
}

func TestBucketLimiter_StopTwice(t *testing.T) {
	l := NewBucketLimiter(&BucketConfig{Enabled: true, RequestsPerMinute: 1})
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestMiddleware(t *testing.T) {
	l := NewBucketLimiter(&BucketConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	defer l.Stop()

	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "192.0.2.10:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many attempts, try again later")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "cloudflare", headers: map[string]string{"CF-Connecting-IP": "203.0.113.1", "X-Forwarded-For": "198.51.100.1"}, want: "203.0.113.1"},
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": " 198.51.100.1 , 10.0.0.1"}, want: "198.51.100.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
		{name: "remote addr", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.5", want: "192.0.2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
