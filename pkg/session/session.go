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

// Package session issues the signed session tokens returned after a
// successful ceremony, and the long-lived remember-me tokens.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

const (
	// DefaultIssuer is the iss claim when none is configured.
	DefaultIssuer = "go-quickauth"

	// DefaultTTL is the session token lifetime.
	DefaultTTL = time.Hour

	// MinSecretLength is the minimum HMAC secret size in bytes.
	MinSecretLength = 32
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrWeakSecret   = fmt.Errorf("session: secret must be at least %d bytes", MinSecretLength)
)

// Session is returned to the caller after a successful ceremony.
type Session struct {
	AccountID     string     `json:"account_id"`
	Tier          trust.Tier `json:"tier"`
	Token         string     `json:"token"`
	RememberToken string     `json:"remember_token,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// Claims are the JWT claims of a session token.
type Claims struct {
	Tier trust.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// Config configures an Issuer.
type Config struct {
	Secret   string        `yaml:"secret" json:"-"`
	Issuer   string        `yaml:"issuer" json:"issuer"`
	Audience string        `yaml:"audience" json:"audience"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return ErrWeakSecret
	}
	if c.TTL < 0 {
		return errors.New("session: ttl must not be negative")
	}
	return nil
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    clock.Clock
}

// NewIssuer creates an Issuer. A nil clock selects the system clock.
func NewIssuer(cfg Config, clk clock.Clock) (*Issuer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Issuer{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		clock:    clk,
	}, nil
}

// Issue signs a session token for the account at the given tier.
func (i *Issuer) Issue(accountID string, tier trust.Tier) (*Session, error) {
	if accountID == "" {
		return nil, errors.New("session: account id is required")
	}
	now := i.clock.Now()
	expires := now.Add(i.ttl)

	claims := Claims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("session: sign token: %w", err)
	}
	return &Session{
		AccountID: accountID,
		Tier:      tier,
		Token:     token,
		ExpiresAt: expires,
	}, nil
}

// Verify parses a session token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// TTL returns the session token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
