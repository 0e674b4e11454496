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

package session

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

var testSecret = strings.Repeat("s", MinSecretLength)

func newTestIssuer(t *testing.T) (*Issuer, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	iss, err := NewIssuer(Config{Secret: testSecret, Audience: "quickauth-web"}, clk)
	require.NoError(t, err)
	return iss, clk
}

func TestConfig(t *testing.T) {
	cfg := Config{Secret: testSecret}
	cfg.SetDefaults()
	assert.Equal(t, DefaultIssuer, cfg.Issuer)
	assert.Equal(t, DefaultTTL, cfg.TTL)
	assert.NoError(t, cfg.Validate())

	_, err := NewIssuer(Config{Secret: "short"}, nil)
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewIssuer(Config{Secret: testSecret, TTL: -time.Second}, nil)
	assert.Error(t, err)
}

func TestIssuer_IssueAndVerify(t *testing.T) {
	iss, clk := newTestIssuer(t)

	s, err := iss.Issue("acct-1", trust.TierPIN)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", s.AccountID)
	assert.Equal(t, trust.TierPIN, s.Tier)
	assert.Equal(t, clk.Now().Add(DefaultTTL), s.ExpiresAt)

	claims, err := iss.Verify(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.Subject)
	assert.Equal(t, trust.TierPIN, claims.Tier)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, DefaultTTL, iss.TTL())

	_, err = iss.Issue("", trust.TierPIN)
	assert.Error(t, err)
}

func TestIssuer_Expired(t *testing.T) {
	iss, clk := newTestIssuer(t)
	s, err := iss.Issue("acct-1", trust.TierPassword)
	require.NoError(t, err)

	clk.Advance(DefaultTTL + time.Second)
	_, err = iss.Verify(s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsForeignTokens(t *testing.T) {
	iss, clk := newTestIssuer(t)
	other, err := NewIssuer(Config{Secret: strings.Repeat("x", MinSecretLength), Audience: "quickauth-web"}, clk)
	require.NoError(t, err)

	s, err := other.Issue("acct-1", trust.TierWebAuthn)
	require.NoError(t, err)
	_, err = iss.Verify(s.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "different secret")

	claims := Claims{
		Tier: trust.TierWebAuthn,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "acct-1",
			Audience:  jwt.ClaimStrings{"quickauth-web"},
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	claims.Audience = jwt.ClaimStrings{"elsewhere"}
	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = iss.Verify(wrongAud)
	assert.ErrorIs(t, err, ErrInvalidToken, "audience")

	_, err = iss.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRememberToken(t *testing.T) {
	random := rand.NewReader(bytes.NewReader(bytes.Repeat([]byte{0xab}, RememberTokenBytes)))

	token, hash, err := NewRememberToken(random)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", RememberTokenBytes), token)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashRememberToken(token))
	assert.NotEqual(t, hash, HashRememberToken(token+"0"))

	_, _, err = NewRememberToken(random)
	assert.Error(t, err, "source exhausted")
}
