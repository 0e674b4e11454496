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

// Package auth composes the challenge store, credential verifier, rate
// limiter and trust state machine into the password, remember-me, PIN and
// WebAuthn ceremonies the transport layer calls into.
//
// Every ceremony checks the denylist and rate limits first, then performs
// the cryptographic check, then feeds the outcome into the trust state
// machine. Errors returned by Service carry full detail for logging;
// transports must only show PublicMessage(err) to clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
	"github.com/jeremyhahn/go-quickauth/pkg/incident"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
	"github.com/jeremyhahn/go-quickauth/pkg/ratelimit"
	"github.com/jeremyhahn/go-quickauth/pkg/session"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
	"github.com/jeremyhahn/go-quickauth/pkg/validation"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// CredentialVerifier checks WebAuthn ceremony artifacts.
type CredentialVerifier interface {
	VerifyRegistration(clientDataJSON, attestationObject, expectedChallenge []byte) (*webauthn.Credential, error)
	VerifyAssertion(clientDataJSON, authenticatorData, signature, expectedChallenge []byte, cred *webauthn.Credential) (uint32, error)
}

// Config holds the collaborators of a Service. Clock, Random, Incidents,
// Logger, Policies, RememberTTL and BlockDuration are optional.
type Config struct {
	Accounts      account.AccountRepository
	Credentials   account.CredentialRepository
	Challenges    challenge.Store
	RelyingParty  *webauthn.Config
	Verifier      CredentialVerifier
	Limiter       *ratelimit.Limiter
	Policies      ratelimit.Policies
	Machine       *trust.Machine
	Hasher        password.Hasher
	Sessions      *session.Issuer
	Random        rand.Source
	Incidents     incident.Sink
	Clock         clock.Clock
	Logger        *slog.Logger
	RememberTTL   time.Duration
	BlockDuration time.Duration

	// StoreTimeout bounds each account, credential and challenge store
	// call and each incident publish. Zero selects
	// account.DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// Service runs the authentication ceremonies.
type Service struct {
	accounts      account.AccountRepository
	credentials   account.CredentialRepository
	challenges    challenge.Store
	rp            *webauthn.Config
	verifier      CredentialVerifier
	limiter       *ratelimit.Limiter
	policies      ratelimit.Policies
	machine       *trust.Machine
	hasher        password.Hasher
	sessions      *session.Issuer
	random        rand.Source
	incidents     incident.Sink
	clock         clock.Clock
	logger        *slog.Logger
	rememberTTL   time.Duration
	blockDuration time.Duration
	storeTimeout  time.Duration
	dummyHash     string
}

// NewService validates cfg and creates a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Accounts == nil, cfg.Credentials == nil:
		return nil, errors.New("auth: account and credential repositories are required")
	case cfg.Challenges == nil:
		return nil, errors.New("auth: challenge store is required")
	case cfg.RelyingParty == nil, cfg.Verifier == nil:
		return nil, errors.New("auth: relying party config and verifier are required")
	case cfg.Limiter == nil:
		return nil, errors.New("auth: rate limiter is required")
	case cfg.Machine == nil:
		return nil, errors.New("auth: trust machine is required")
	case cfg.Hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case cfg.Sessions == nil:
		return nil, errors.New("auth: session issuer is required")
	}

	cfg.Policies.SetDefaults()
	if err := cfg.Policies.Validate(); err != nil {
		return nil, err
	}
	if cfg.Random == nil {
		cfg.Random = rand.NewSoftware()
	}
	if cfg.Incidents == nil {
		cfg.Incidents = incident.NopSink{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RememberTTL == 0 {
		cfg.RememberTTL = session.DefaultRememberTTL
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = ratelimit.DefaultBlockDuration
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = account.DefaultStoreTimeout
	}

	// Verified against when the login is unknown so both paths cost the same.
	dummy, err := cfg.Hasher.Hash("quickauth-unknown-account")
	if err != nil {
		return nil, fmt.Errorf("auth: prepare dummy hash: %w", err)
	}

	return &Service{
		accounts:      account.WithTimeout(cfg.Accounts, cfg.StoreTimeout),
		credentials:   account.CredentialsWithTimeout(cfg.Credentials, cfg.StoreTimeout),
		challenges:    challenge.WithTimeout(cfg.Challenges, cfg.StoreTimeout),
		rp:            cfg.RelyingParty,
		verifier:      cfg.Verifier,
		limiter:       cfg.Limiter,
		policies:      cfg.Policies,
		machine:       cfg.Machine,
		hasher:        cfg.Hasher,
		sessions:      cfg.Sessions,
		random:        cfg.Random,
		incidents:     cfg.Incidents,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		rememberTTL:   cfg.RememberTTL,
		blockDuration: cfg.BlockDuration,
		storeTimeout:  cfg.StoreTimeout,
		dummyHash:     dummy,
	}, nil
}

// Result is the outcome of a login ceremony. Session is nil when the
// ceremony failed.
type Result struct {
	Session  *session.Session `json:"session,omitempty"`
	Decision trust.Decision   `json:"decision"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	IP       string
}

// Register creates an account with a password.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*account.Account, error) {
	ctx = incident.WithClientIP(ctx, req.IP)
	if err := s.admit(ctx, req.IP, s.policies.LoginIP); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrInvalidRequest
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	a := &account.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("auth: create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account registered", slog.String("account_id", a.ID))
	return a, nil
}

// LoginRequest is a password login.
type LoginRequest struct {
	Login      string
	Password   string
	RememberMe bool
	IP         string
}

// Login verifies a password. When RememberMe is set a remember-me token is
// issued with the session, and the decision asks for PIN setup if the
// account has none.
func (s *Service) Login(ctx context.Context, req LoginRequest) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyPassword, metrics.ResultOf(err), time.Since(start).Seconds())
	}()

	ctx = incident.WithClientIP(ctx, req.IP)
	if err := s.admit(ctx, req.IP, s.policies.LoginIP); err != nil {
		return nil, err
	}

	a, err := s.accounts.LoadByLogin(ctx, req.Login)
	if errors.Is(err, account.ErrNotFound) {
		_, _ = s.hasher.Verify(req.Password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}

	if !s.limiter.Allow(ctx, a.ID, s.policies.LoginAccount) {
		return nil, ErrRateLimited
	}

	ok, err := s.hasher.Verify(req.Password, a.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: verify password: %w", err)
	}
	if !ok {
		if err := s.machine.OnPasswordFailure(ctx, a.ID); err != nil && !errors.Is(err, trust.ErrAccountLocked) {
			s.logger.WarnContext(ctx, "failed to record password failure",
				slog.String("account_id", a.ID),
				slog.String("error", err.Error()))
		}
		return nil, ErrInvalidCredentials
	}

	d, err := s.machine.OnPasswordSuccess(ctx, a.ID, req.RememberMe)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Issue(a.ID, d.Tier)
	if err != nil {
		return nil, err
	}
	if req.RememberMe {
		token, hash, err := session.NewRememberToken(s.random)
		if err != nil {
			return nil, err
		}
		if err := s.machine.IssueRememberToken(ctx, a.ID, hash, s.clock.Now().Add(s.rememberTTL)); err != nil {
			return nil, err
		}
		sess.RememberToken = token
	}

	s.logger.InfoContext(ctx, "password login succeeded",
		slog.String("account_id", a.ID),
		slog.Bool("remember_me", req.RememberMe))
	return &Result{Session: sess, Decision: d}, nil
}

// LoginWithRememberToken signs in with a remember-me token. The granted
// tier identifies the account for PIN and WebAuthn login.
func (s *Service) LoginWithRememberToken(ctx context.Context, token, ip string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyRemember, metrics.ResultOf(err), time.Since(start).Seconds())
	}()

	ctx = incident.WithClientIP(ctx, ip)
	if err := s.checkBlocked(ctx, ip); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrInvalidCredentials
	}

	hash := session.HashRememberToken(token)
	a, err := s.accounts.LoadByRememberToken(ctx, hash)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}

	d, err := s.machine.OnRememberToken(ctx, a.ID, hash)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Issue(a.ID, d.Tier)
	if err != nil {
		return nil, err
	}
	return &Result{Session: sess, Decision: d}, nil
}

// SetupPIN enables PIN login for the account.
func (s *Service) SetupPIN(ctx context.Context, accountID, pin string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyPINSetup, metrics.ResultOf(err), time.Since(start).Seconds())
	}()
	return s.machine.SetupPIN(ctx, accountID, pin)
}

// PINLoginRequest is a PIN login.
type PINLoginRequest struct {
	AccountID string
	PIN       string
	IP        string
}

// LoginWithPIN checks a PIN. On trust.ErrInvalidPIN and
// trust.ErrPINLockedOut the returned Result carries the decision with the
// attempts left or the reset flags.
func (s *Service) LoginWithPIN(ctx context.Context, req PINLoginRequest) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyPIN, metrics.ResultOf(err), time.Since(start).Seconds())
	}()

	ctx = incident.WithClientIP(ctx, req.IP)
	if err := s.admit(ctx, req.IP, s.policies.PINIP); err != nil {
		return nil, err
	}

	d, err := s.machine.OnPINAttempt(ctx, req.AccountID, req.PIN)
	if err != nil {
		if errors.Is(err, trust.ErrInvalidPIN) || errors.Is(err, trust.ErrPINLockedOut) {
			return &Result{Decision: d}, err
		}
		return nil, err
	}
	sess, err := s.sessions.Issue(req.AccountID, d.Tier)
	if err != nil {
		return nil, err
	}
	return &Result{Session: sess, Decision: d}, nil
}

// Logout clears the remember token, or performs a full security reset.
func (s *Service) Logout(ctx context.Context, accountID string, resetSecurity bool) error {
	return s.machine.Logout(ctx, accountID, resetSecurity)
}

// ResetSecurity strips every fast-path credential from the account.
func (s *Service) ResetSecurity(ctx context.Context, accountID, reason string) error {
	return s.machine.ResetSecurity(ctx, accountID, reason)
}

// Authenticate verifies a session token.
func (s *Service) Authenticate(token string) (*session.Claims, error) {
	return s.sessions.Verify(token)
}

// admit checks the denylist and then the policy for ip.
func (s *Service) admit(ctx context.Context, ip string, p ratelimit.Policy) error {
	if err := s.checkBlocked(ctx, ip); err != nil {
		return err
	}
	if !s.limiter.Allow(ctx, ip, p) {
		s.logger.InfoContext(ctx, "attempt rate limited",
			slog.String("subject", ip),
			slog.String("action", p.Action))
		return ErrRateLimited
	}
	return nil
}

func (s *Service) checkBlocked(ctx context.Context, ip string) error {
	if !s.limiter.IsBlocked(ctx, ip) {
		return nil
	}
	s.publish(ctx, &incident.Incident{
		Type:         incident.TypeRateLimitAbuse,
		Severity:     incident.SeverityHigh,
		AttackVector: "blocked_ip",
		Indicators:   map[string]string{"ip": ip},
	})
	return ErrBlocked
}

func (s *Service) publish(ctx context.Context, inc *incident.Incident) {
	incident.Stamp(ctx, inc, s.clock.Now())
	pctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.incidents.Publish(pctx, inc); err != nil {
		s.logger.WarnContext(ctx, "failed to publish security incident",
			slog.String("type", string(inc.Type)),
			slog.String("error", err.Error()))
	}
}
