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
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-quickauth/pkg/auth"
	"github.com/jeremyhahn/go-quickauth/pkg/health"
	"github.com/jeremyhahn/go-quickauth/pkg/logging"
	"github.com/jeremyhahn/go-quickauth/pkg/ratelimit"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
	"github.com/jeremyhahn/go-quickauth/pkg/validation"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

const (
	maxBodyBytes = 64 << 10

	// reasonUserRequest is recorded when an account holder resets their
	// own quick access.
	reasonUserRequest = "user_request"
)

// Handler provides the HTTP handlers for the authentication ceremonies.
type Handler struct {
	service *auth.Service
	health  *health.Checker
	logger  *slog.Logger
}

// NewHandler creates a Handler. checker may be nil.
func NewHandler(service *auth.Service, checker *health.Checker, logger *slog.Logger) *Handler {
	if checker == nil {
		checker = health.NewChecker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, health: checker, logger: logger}
}

// Register handles POST /accounts
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.service.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IP:       ratelimit.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, AccountResponse{AccountID: a.ID, Username: a.Username})
}

// Login handles POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Login(r.Context(), auth.LoginRequest{
		Login:      req.Login,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IP:         ratelimit.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse(res))
}

// LoginWithRememberToken handles POST /login/remember
func (h *Handler) LoginWithRememberToken(w http.ResponseWriter, r *http.Request) {
	var req RememberLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.LoginWithRememberToken(r.Context(), req.Token, ratelimit.ClientIP(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse(res))
}

// LoginWithPIN handles POST /login/pin
//
// A wrong PIN answers 401 with attempts_left; the final wrong PIN answers
// 403 quick_access_reset.
func (h *Handler) LoginWithPIN(w http.ResponseWriter, r *http.Request) {
	var req PINLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validAccountID(w, req.AccountID) {
		return
	}
	res, err := h.service.LoginWithPIN(r.Context(), auth.PINLoginRequest{
		AccountID: req.AccountID,
		PIN:       req.PIN,
		IP:        ratelimit.ClientIP(r),
	})
	if errors.Is(err, trust.ErrInvalidPIN) && res != nil {
		left := res.Decision.AttemptsLeft
		h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:        ErrorCodeInvalidCredentials,
			Message:      auth.PublicMessage(err),
			AttemptsLeft: &left,
		})
		return
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse(res))
}

// SetupPIN handles POST /pin (session required)
func (h *Handler) SetupPIN(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req PINSetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetupPIN(r.Context(), claims.Subject, req.PIN); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "pin_enabled"})
}

// BeginRegistration handles POST /webauthn/registration/begin (session required)
//
// Response: PublicKeyCredentialCreationOptions
// Header: X-Challenge (echo it on FinishRegistration)
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	pending, err := h.service.BeginWebAuthnRegistration(r.Context(), claims.Subject)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set(HeaderChallenge, base64.RawURLEncoding.EncodeToString(pending.Challenge))
	h.writeJSON(w, http.StatusOK, pending.Creation)
}

// FinishRegistration handles POST /webauthn/registration/finish (session required)
//
// Header: X-Challenge
// Request body: attestation response from navigator.credentials.create
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	challenge, ok := h.challengeHeader(w, r)
	if !ok {
		return
	}
	var resp protocol.CredentialCreationResponse
	if !h.decode(w, r, &resp) {
		return
	}

	cred, err := h.service.FinishWebAuthnRegistration(r.Context(), auth.FinishRegistrationRequest{
		AccountID:         claims.Subject,
		SessionActive:     true,
		Challenge:         challenge,
		ClientDataJSON:    resp.AttestationResponse.ClientDataJSON,
		AttestationObject: resp.AttestationResponse.AttestationObject,
		IP:                ratelimit.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, CredentialResponse{
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		Algorithm:    webauthn.Algorithm(cred.Algorithm).String(),
		Format:       cred.AttestationFormat,
	})
}

// BeginLogin handles POST /webauthn/login/begin
//
// Response: PublicKeyCredentialRequestOptions
// Headers: X-Challenge, X-Account-Id (echo both on FinishLogin)
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	var req BeginLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validAccountID(w, req.AccountID) {
		return
	}
	pending, err := h.service.BeginWebAuthnLogin(r.Context(), req.AccountID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set(HeaderChallenge, base64.RawURLEncoding.EncodeToString(pending.Challenge))
	w.Header().Set(HeaderAccountID, pending.Owner)
	h.writeJSON(w, http.StatusOK, pending.Assertion)
}

// FinishLogin handles POST /webauthn/login/finish
//
// Headers: X-Challenge, X-Account-Id
// Request body: assertion response from navigator.credentials.get
func (h *Handler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	challenge, ok := h.challengeHeader(w, r)
	if !ok {
		return
	}
	accountID := r.Header.Get(HeaderAccountID)
	if !h.validAccountID(w, accountID) {
		return
	}
	var resp protocol.CredentialAssertionResponse
	if !h.decode(w, r, &resp) {
		return
	}

	res, err := h.service.FinishWebAuthnLogin(r.Context(), auth.FinishLoginRequest{
		AccountID:         accountID,
		Challenge:         challenge,
		CredentialID:      resp.RawID,
		ClientDataJSON:    resp.AssertionResponse.ClientDataJSON,
		AuthenticatorData: resp.AssertionResponse.AuthenticatorData,
		Signature:         resp.AssertionResponse.Signature,
		IP:                ratelimit.ClientIP(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse(res))
}

// Logout handles POST /logout (session required). An empty body clears
// only the remember token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	var req LogoutRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if err := h.service.Logout(r.Context(), claims.Subject, req.ResetSecurity); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "logged_out"})
}

// ResetSecurity handles POST /security/reset (session required)
func (h *Handler) ResetSecurity(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.service.ResetSecurity(r.Context(), claims.Subject, reasonUserRequest); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

// Session handles GET /session (session required)
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	resp := SessionResponse{AccountID: claims.Subject, Tier: claims.Tier}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Live handles GET /health/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	result := h.health.Live(r.Context())
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: string(result.Status)})
}

// Ready handles GET /health/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	results := h.health.Ready(r.Context())
	status := health.AggregateStatus(results)
	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, HealthResponse{Status: string(status), Checks: results})
}

// Startup handles GET /health/startup
func (h *Handler) Startup(w http.ResponseWriter, r *http.Request) {
	result := h.health.Startup(r.Context())
	code := http.StatusOK
	if result.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, HealthResponse{Status: string(result.Status)})
}

func authResponse(res *auth.Result) AuthResponse {
	return AuthResponse{
		AccountID:     res.Session.AccountID,
		Token:         res.Session.Token,
		ExpiresAt:     res.Session.ExpiresAt,
		Tier:          res.Session.Tier,
		RememberToken: res.Session.RememberToken,
		NeedsPINSetup: res.Decision.NeedsPINSetup,
	}
}

func (h *Handler) validAccountID(w http.ResponseWriter, id string) bool {
	if err := validation.ValidateAccountID(id); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, auth.MessageInvalidCredentials)
		return false
	}
	return true
}

func (h *Handler) challengeHeader(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw := r.Header.Get(HeaderChallenge)
	challenge, err := base64.RawURLEncoding.DecodeString(raw)
	if raw == "" || err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, auth.MessageInvalidCredentials)
		return nil, false
	}
	return challenge, true
}

// decode reads a bounded JSON body into v, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, auth.MessageInvalidCredentials)
		return false
	}
	return true
}

// handleServiceError logs err with its detail and answers with the
// generic message only.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := logging.WithContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	} else {
		logger.Debug("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	h.writeError(w, status, code, auth.PublicMessage(err))
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			slog.String("error", err.Error()),
			slog.Int("status", status))
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
