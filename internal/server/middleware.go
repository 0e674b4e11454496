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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/auth"
	"github.com/jeremyhahn/go-quickauth/pkg/logging"
	"github.com/jeremyhahn/go-quickauth/pkg/session"
	"github.com/jeremyhahn/go-quickauth/pkg/validation"
)

type contextKey string

const claimsKey contextKey = "session_claims"

// ClaimsFromContext returns the session claims placed on the request by
// RequireSession, or nil.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey).(*session.Claims)
	return claims
}

func withClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests with the request's correlation ID.
func (h *Handler) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := newResponseWriter(w)
		logger := logging.WithContext(r.Context(), h.logger)

		logger.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", validation.SanitizeForLog(r.URL.Path)))

		next.ServeHTTP(wrapped, r)

		logger.Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", validation.SanitizeForLog(r.URL.Path)),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (h *Handler) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.WithContext(r.Context(), h.logger).Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", validation.SanitizeForLog(r.URL.Path)),
					slog.Any("error", err))
				h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, auth.MessageContactSupport)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequireSession rejects requests without a valid bearer session token.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, auth.MessageInvalidCredentials)
			return
		}
		claims, err := h.service.Authenticate(token)
		if err != nil {
			logging.WithContext(r.Context(), h.logger).Debug("session rejected",
				slog.String("path", validation.SanitizeForLog(r.URL.Path)),
				slog.String("error", err.Error()))
			h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, auth.MessageInvalidCredentials)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
