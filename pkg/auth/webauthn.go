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

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/incident"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

// BlockReasonPossibleClone is recorded when an address is blocked after a
// signature counter regression.
const BlockReasonPossibleClone = "possible_clone"

// PendingCeremony is returned by the Begin calls. The caller sends the
// options to the browser and threads Challenge back into the Finish call.
type PendingCeremony struct {
	Challenge []byte                        `json:"challenge"`
	Kind      challenge.Kind                `json:"kind"`
	Owner     string                        `json:"owner"`
	ExpiresAt time.Time                     `json:"expires_at"`
	Creation  *protocol.CredentialCreation  `json:"creation,omitempty"`
	Assertion *protocol.CredentialAssertion `json:"assertion,omitempty"`
}

// BeginWebAuthnRegistration issues a registration challenge for the account.
func (s *Service) BeginWebAuthnRegistration(ctx context.Context, accountID string) (*PendingCeremony, error) {
	a, err := s.accounts.Load(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}
	if a.Locked() {
		return nil, trust.ErrAccountLocked
	}
	existing, err := s.credentialIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ch, err := s.challenges.Issue(ctx, challenge.KindRegistration, accountID)
	if err != nil {
		return nil, err
	}
	user := webauthn.User{ID: []byte(a.ID), Name: a.Username}
	return &PendingCeremony{
		Challenge: ch.Value,
		Kind:      ch.Kind,
		Owner:     ch.Owner,
		ExpiresAt: ch.ExpiresAt(),
		Creation:  s.rp.CreationOptions(ch.Value, user, existing),
	}, nil
}

// FinishRegistrationRequest carries a navigator.credentials.create response.
type FinishRegistrationRequest struct {
	AccountID         string
	SessionActive     bool
	Challenge         []byte
	ClientDataJSON    []byte
	AttestationObject []byte
	IP                string
}

// FinishWebAuthnRegistration verifies the attestation, enables WebAuthn on
// the account and stores the credential.
func (s *Service) FinishWebAuthnRegistration(ctx context.Context, req FinishRegistrationRequest) (cred *account.Credential, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.ResultOf(err), time.Since(start).Seconds())
	}()

	ctx = incident.WithClientIP(ctx, req.IP)
	if err := s.admit(ctx, req.IP, s.policies.WebAuthnIP); err != nil {
		return nil, err
	}

	ch, err := s.challenges.Consume(ctx, req.Challenge, challenge.KindRegistration)
	if err != nil {
		return nil, err
	}
	if ch.Owner != req.AccountID {
		return nil, ErrCeremonyMismatch
	}

	verified, err := s.verifier.VerifyRegistration(req.ClientDataJSON, req.AttestationObject, ch.Value)
	if err != nil {
		s.logger.InfoContext(ctx, "webauthn registration rejected",
			slog.String("account_id", req.AccountID),
			slog.String("error", err.Error()))
		return nil, err
	}

	cred = &account.Credential{
		ID:                verified.ID,
		AccountID:         req.AccountID,
		PublicKey:         verified.PublicKey,
		Algorithm:         int64(verified.Algorithm),
		SignCount:         verified.SignCount,
		AttestationFormat: verified.AttestationFormat,
		AAGUID:            verified.AAGUID,
		CreatedAt:         s.clock.Now(),
	}
	if err := s.credentials.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("auth: store credential: %w", err)
	}
	if err := s.machine.EnableWebAuthn(ctx, req.AccountID, req.SessionActive); err != nil {
		if derr := s.credentials.Delete(ctx, cred.ID); derr != nil {
			s.logger.ErrorContext(ctx, "failed to remove credential after enrolment was refused",
				slog.String("account_id", req.AccountID),
				slog.String("error", derr.Error()))
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "webauthn credential registered",
		slog.String("account_id", req.AccountID),
		slog.String("format", cred.AttestationFormat),
		slog.String("algorithm", verified.Algorithm.String()))
	return cred, nil
}

// BeginWebAuthnLogin issues an authentication challenge restricted to the
// account's credentials.
func (s *Service) BeginWebAuthnLogin(ctx context.Context, accountID string) (*PendingCeremony, error) {
	a, err := s.accounts.Load(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}
	if a.Locked() {
		return nil, trust.ErrAccountLocked
	}
	if !a.WebAuthnEnabled {
		return nil, trust.ErrWebAuthnNotEnabled
	}
	allowed, err := s.credentialIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, trust.ErrWebAuthnNotEnabled
	}

	ch, err := s.challenges.Issue(ctx, challenge.KindAuthentication, accountID)
	if err != nil {
		return nil, err
	}
	return &PendingCeremony{
		Challenge: ch.Value,
		Kind:      ch.Kind,
		Owner:     ch.Owner,
		ExpiresAt: ch.ExpiresAt(),
		Assertion: s.rp.RequestOptions(ch.Value, allowed),
	}, nil
}

// FinishLoginRequest carries a navigator.credentials.get response.
type FinishLoginRequest struct {
	AccountID         string
	Challenge         []byte
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	IP                string
}

// FinishWebAuthnLogin verifies an assertion. Once the challenge is known to
// belong to the account, any verification failure performs a full security
// reset; a counter regression also blocks the client address and raises a
// high severity incident. The counter is stored with compare-and-swap so
// two assertions verified against the same stored counter cannot both
// succeed.
func (s *Service) FinishWebAuthnLogin(ctx context.Context, req FinishLoginRequest) (res *Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyAssertion, metrics.ResultOf(err), time.Since(start).Seconds())
	}()

	ctx = incident.WithClientIP(ctx, req.IP)
	if err := s.admit(ctx, req.IP, s.policies.WebAuthnIP); err != nil {
		return nil, err
	}

	ch, err := s.challenges.Consume(ctx, req.Challenge, challenge.KindAuthentication)
	if err != nil {
		return nil, err
	}
	if ch.Owner != req.AccountID {
		return nil, ErrCeremonyMismatch
	}

	a, err := s.accounts.Load(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}
	if a.Locked() {
		return nil, trust.ErrAccountLocked
	}
	if !a.WebAuthnEnabled {
		return nil, trust.ErrWebAuthnNotEnabled
	}

	stored, err := s.credentials.FindByCredentialID(ctx, req.CredentialID)
	switch {
	case errors.Is(err, account.ErrNotFound):
		return nil, s.failWebAuthn(ctx, req, nil, fmt.Errorf("%w: unknown credential", ErrInvalidCredentials))
	case err != nil:
		return nil, fmt.Errorf("auth: load credential: %w", err)
	case stored.AccountID != req.AccountID:
		return nil, s.failWebAuthn(ctx, req, nil, fmt.Errorf("%w: credential belongs to another account", ErrInvalidCredentials))
	}

	counter, err := s.verifier.VerifyAssertion(req.ClientDataJSON, req.AuthenticatorData, req.Signature, ch.Value, &webauthn.Credential{
		ID:                stored.ID,
		PublicKey:         stored.PublicKey,
		Algorithm:         webauthn.Algorithm(stored.Algorithm),
		SignCount:         stored.SignCount,
		AAGUID:            stored.AAGUID,
		AttestationFormat: stored.AttestationFormat,
	})
	if err != nil {
		return nil, s.failWebAuthn(ctx, req, stored, err)
	}

	err = s.credentials.UpdateCounter(ctx, stored.ID, stored.SignCount, counter)
	if errors.Is(err, account.ErrCounterConflict) {
		return nil, s.failWebAuthn(ctx, req, stored,
			webauthn.NewError("update counter", fmt.Errorf("%w: counter changed concurrently", webauthn.ErrPossibleClone)))
	}
	if err != nil {
		return nil, fmt.Errorf("auth: update counter: %w", err)
	}

	d, err := s.machine.OnWebAuthnSuccess(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Issue(req.AccountID, d.Tier)
	if err != nil {
		return nil, err
	}
	return &Result{Session: sess, Decision: d}, nil
}

// failWebAuthn applies the failure cascade and returns the error for the
// caller. stored is nil when the credential could not be resolved.
func (s *Service) failWebAuthn(ctx context.Context, req FinishLoginRequest, stored *account.Credential, cause error) error {
	clone := errors.Is(cause, webauthn.ErrPossibleClone)
	s.logger.WarnContext(ctx, "webauthn assertion rejected",
		slog.String("account_id", req.AccountID),
		slog.Bool("possible_clone", clone),
		slog.String("error", cause.Error()))

	if clone {
		if err := s.limiter.Block(ctx, req.IP, s.blockDuration, BlockReasonPossibleClone); err != nil {
			s.logger.WarnContext(ctx, "failed to block client",
				slog.String("subject", req.IP),
				slog.String("error", err.Error()))
		}
		indicators := map[string]string{"action": "block_ip"}
		if stored != nil {
			indicators["credential_id"] = fmt.Sprintf("%x", stored.ID)
			indicators["stored_counter"] = strconv.FormatUint(uint64(stored.SignCount), 10)
		}
		s.publish(ctx, &incident.Incident{
			Type:         incident.TypePossibleClone,
			Severity:     incident.SeverityHigh,
			AccountID:    req.AccountID,
			AttackVector: "webauthn",
			Indicators:   indicators,
		})
	}

	if _, err := s.machine.OnWebAuthnFailure(ctx, req.AccountID, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("auth: reset after webauthn failure: %w", err))
	}
	return fmt.Errorf("%w: %w", ErrQuickAccessReset, cause)
}

func (s *Service) credentialIDs(ctx context.Context, accountID string) ([][]byte, error) {
	creds, err := s.credentials.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("auth: list credentials: %w", err)
	}
	ids := make([][]byte, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
