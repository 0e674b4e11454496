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

package trust

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/incident"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
)

// Machine applies trust transitions to accounts. Every read-modify-write
// goes through AccountRepository.CompareAndSwap; a failure to read the
// account fails closed.
type Machine struct {
	accounts    account.AccountRepository
	credentials account.CredentialRepository
	hasher      password.Hasher
	clock       clock.Clock
	logger      *slog.Logger
	incidents   incident.Sink
	maxRetries  int
	timeout     time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithIncidentSink sets where security incidents are published.
func WithIncidentSink(s incident.Sink) Option {
	return func(m *Machine) { m.incidents = s }
}

// WithMaxRetries bounds compare-and-swap retries per transition.
func WithMaxRetries(n int) Option {
	return func(m *Machine) { m.maxRetries = n }
}

// WithStoreTimeout bounds each repository call and incident publish. A
// call that exceeds it fails the transition with context.DeadlineExceeded.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Machine) { m.timeout = d }
}

// New creates a Machine.
func New(accounts account.AccountRepository, credentials account.CredentialRepository, hasher password.Hasher, opts ...Option) (*Machine, error) {
	if accounts == nil || credentials == nil {
		return nil, errors.New("trust: account and credential repositories are required")
	}
	if hasher == nil {
		return nil, errors.New("trust: hasher is required")
	}
	m := &Machine{
		accounts:    accounts,
		credentials: credentials,
		hasher:      hasher,
		clock:       clock.System{},
		logger:      slog.Default(),
		incidents:   incident.NopSink{},
		maxRetries:  DefaultMaxRetries,
		timeout:     account.DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	if m.timeout <= 0 {
		m.timeout = account.DefaultStoreTimeout
	}
	m.accounts = account.WithTimeout(m.accounts, m.timeout)
	m.credentials = account.CredentialsWithTimeout(m.credentials, m.timeout)
	return m, nil
}

// State returns the enrolment state of the account.
func (m *Machine) State(ctx context.Context, accountID string) (State, error) {
	a, err := m.accounts.Load(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("trust: load account: %w", err)
	}
	return StateOf(a), nil
}

// OnPasswordSuccess records a verified password. The failed-login counter
// is cleared and the password tier is marked verified. When the caller
// asked to be remembered and no PIN is set, the decision requests PIN
// setup.
func (m *Machine) OnPasswordSuccess(ctx context.Context, accountID string, rememberMe bool) (Decision, error) {
	var d Decision
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		now := m.clock.Now()
		a.FailedLogins = 0
		a.PasswordVerifiedAt = &now
		a.RecordLogin(account.MethodPassword, now)
		d = Decision{Tier: TierPassword, NeedsPINSetup: rememberMe && !a.PINEnabled}
		return true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordDecision(string(d.Tier))
	return d, nil
}

// OnPasswordFailure increments the failed-login counter.
func (m *Machine) OnPasswordFailure(ctx context.Context, accountID string) error {
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		a.FailedLogins++
		return true, nil
	})
	return err
}

// IssueRememberToken stores the hash of a new remember-me token,
// replacing any previous one.
func (m *Machine) IssueRememberToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		a.RememberTokenHash = tokenHash
		a.RememberExpiresAt = &expiresAt
		return true, nil
	})
	return err
}

// OnRememberToken grants the remembered tier when tokenHash matches the
// stored token and it has not expired. An expired token is cleared.
func (m *Machine) OnRememberToken(ctx context.Context, accountID, tokenHash string) (Decision, error) {
	var d Decision
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		if a.RememberTokenHash == "" ||
			subtle.ConstantTimeCompare([]byte(a.RememberTokenHash), []byte(tokenHash)) != 1 {
			return false, ErrRememberTokenInvalid
		}
		now := m.clock.Now()
		if a.RememberExpiresAt == nil || !now.Before(*a.RememberExpiresAt) {
			a.ClearRememberToken()
			return true, ErrRememberTokenInvalid
		}
		a.RecordLogin(account.MethodRemember, now)
		d = Decision{Tier: TierRemembered}
		return true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordDecision(string(d.Tier))
	return d, nil
}

// SetupPIN enables the PIN tier. The password must have been verified at
// least once.
func (m *Machine) SetupPIN(ctx context.Context, accountID, pin string) error {
	if err := password.ValidatePIN(pin); err != nil {
		return ErrInvalidPINFormat
	}
	hash, err := m.hasher.Hash(pin)
	if err != nil {
		return fmt.Errorf("trust: hash PIN: %w", err)
	}
	_, err = m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		if a.PasswordVerifiedAt == nil {
			return false, ErrPasswordNotVerified
		}
		a.PINHash = hash
		a.PINEnabled = true
		a.PINAttempts = 0
		a.QuickAccessEnabled = true
		return true, nil
	})
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "PIN enabled", slog.String("account_id", accountID))
	return nil
}

// OnPINAttempt checks a PIN. A stored attempt count at or above
// MaxPINAttempts resets the account without comparing. A mismatch
// increments the count and resets the account once no attempts are left.
func (m *Machine) OnPINAttempt(ctx context.Context, accountID, pin string) (Decision, error) {
	if err := password.ValidatePIN(pin); err != nil {
		return Decision{}, ErrInvalidPINFormat
	}

	var d Decision
	var attempts int
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		d = Decision{}
		if a.Locked() {
			return false, ErrAccountLocked
		}
		if !a.PINEnabled || a.PINHash == "" {
			return false, ErrPINNotEnabled
		}
		attempts = a.PINAttempts
		if a.PINAttempts >= MaxPINAttempts {
			a.ClearQuickAccess()
			d = Decision{LockoutTriggered: true, ResetTriggered: true}
			return true, ErrPINLockedOut
		}

		ok, err := m.hasher.Verify(pin, a.PINHash)
		if err != nil {
			return false, fmt.Errorf("trust: verify PIN: %w", err)
		}
		if !ok {
			a.PINAttempts++
			attempts = a.PINAttempts
			left := MaxPINAttempts - a.PINAttempts
			if left <= 0 {
				a.ClearQuickAccess()
				d = Decision{LockoutTriggered: true, ResetTriggered: true}
				return true, ErrPINLockedOut
			}
			d = Decision{AttemptsLeft: left}
			return true, ErrInvalidPIN
		}

		a.PINAttempts = 0
		a.RecordLogin(account.MethodPIN, m.clock.Now())
		d = Decision{Tier: TierPIN}
		return true, nil
	})

	switch {
	case err == nil:
		metrics.RecordDecision(string(d.Tier))
		return d, nil
	case d.ResetTriggered && errors.Is(err, ErrPINLockedOut):
		resetErr := m.finishReset(ctx, accountID, ReasonPINLockout, &incident.Incident{
			Type:         incident.TypePINLockout,
			Severity:     incident.SeverityMedium,
			AttackVector: "pin",
			Indicators: map[string]string{
				"attempts": strconv.Itoa(attempts),
				"action":   "full_reset",
			},
		})
		return d, errors.Join(err, resetErr)
	case errors.Is(err, ErrInvalidPIN):
		return d, err
	default:
		return Decision{}, err
	}
}

// EnableWebAuthn marks WebAuthn enrolled. It requires the PIN tier or an
// active session.
func (m *Machine) EnableWebAuthn(ctx context.Context, accountID string, sessionActive bool) error {
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		if !a.PINEnabled && !sessionActive {
			return false, ErrWebAuthnPrerequisite
		}
		if a.WebAuthnEnabled {
			return false, nil
		}
		a.WebAuthnEnabled = true
		return true, nil
	})
	return err
}

// OnWebAuthnSuccess grants the WebAuthn tier after a verified assertion.
func (m *Machine) OnWebAuthnSuccess(ctx context.Context, accountID string) (Decision, error) {
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.Locked() {
			return false, ErrAccountLocked
		}
		if !a.WebAuthnEnabled {
			return false, ErrWebAuthnNotEnabled
		}
		a.RecordLogin(account.MethodWebAuthn, m.clock.Now())
		return true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordDecision(string(TierWebAuthn))
	return Decision{Tier: TierWebAuthn}, nil
}

// OnWebAuthnFailure performs a full security reset. Any failed WebAuthn
// verification is treated as possible compromise.
func (m *Machine) OnWebAuthnFailure(ctx context.Context, accountID, reason string) (Decision, error) {
	err := m.reset(ctx, accountID, ReasonWebAuthnFailure, &incident.Incident{
		Type:         incident.TypeSuspiciousLogin,
		Severity:     incident.SeverityHigh,
		AttackVector: "webauthn",
		Indicators: map[string]string{
			"webauthn_error": reason,
			"action":         "full_reset",
		},
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{ResetTriggered: true}, nil
}

// ResetSecurity clears the PIN, remember token, quick access and WebAuthn
// flag, and deletes every registered credential. The password is kept.
// Resetting an already reset account leaves it unchanged.
func (m *Machine) ResetSecurity(ctx context.Context, accountID, reason string) error {
	return m.reset(ctx, accountID, reason, &incident.Incident{
		Type:       incident.TypeSecurityReset,
		Severity:   incident.SeverityMedium,
		Indicators: map[string]string{"reason": reason},
	})
}

// Logout clears the remember token, or performs a full reset when
// resetSecurity is set.
func (m *Machine) Logout(ctx context.Context, accountID string, resetSecurity bool) error {
	if resetSecurity {
		return m.ResetSecurity(ctx, accountID, ReasonLogout)
	}
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.RememberTokenHash == "" && a.RememberExpiresAt == nil {
			return false, nil
		}
		a.ClearRememberToken()
		return true, nil
	})
	return err
}

func (m *Machine) reset(ctx context.Context, accountID, reason string, inc *incident.Incident) error {
	_, err := m.mutate(ctx, accountID, func(a *account.Account) (bool, error) {
		a.ClearQuickAccess()
		return true, nil
	})
	if err != nil {
		return err
	}
	return m.finishReset(ctx, accountID, reason, inc)
}

// finishReset runs after the account flags were cleared.
func (m *Machine) finishReset(ctx context.Context, accountID, reason string, inc *incident.Incident) error {
	removed, err := m.credentials.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("trust: remove credentials: %w", err)
	}
	metrics.RecordReset(reason)
	m.logger.WarnContext(ctx, "security reset",
		slog.String("account_id", accountID),
		slog.String("reason", reason),
		slog.Int("credentials_removed", removed))

	inc.AccountID = accountID
	m.publish(ctx, inc)
	return nil
}

func (m *Machine) publish(ctx context.Context, inc *incident.Incident) {
	incident.Stamp(ctx, inc, m.clock.Now())
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.incidents.Publish(pctx, inc); err != nil {
		m.logger.WarnContext(ctx, "failed to publish security incident",
			slog.String("type", string(inc.Type)),
			slog.String("error", err.Error()))
	}
}

// mutate loads the account, applies fn and stores the result with
// compare-and-swap, reloading on version conflicts. fn reports whether it
// changed the account; its error is returned after a successful write.
func (m *Machine) mutate(ctx context.Context, accountID string, fn func(a *account.Account) (bool, error)) (*account.Account, error) {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := m.accounts.Load(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("trust: load account: %w", err)
		}
		dirty, fnErr := fn(a)
		if !dirty {
			return a, fnErr
		}
		err = m.accounts.CompareAndSwap(ctx, a)
		if errors.Is(err, account.ErrVersionConflict) {
			m.logger.DebugContext(ctx, "account version conflict, retrying",
				slog.String("account_id", accountID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("trust: store account: %w", err)
		}
		return a, fnErr
	}
	return nil, ErrConcurrentUpdate
}
