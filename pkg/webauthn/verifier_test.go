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

package webauthn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

func newTestVerifier(t *testing.T, mutate ...func(*Config)) *Verifier {
	t.Helper()
	cfg := &Config{
		RPID:          testRPID,
		RPDisplayName: "Example",
		RPOrigins:     []string{testOrigin},
	}
	for _, m := range mutate {
		m(cfg)
	}
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	return v
}

func testChallenge(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

// register runs a full registration and returns the stored credential.
func register(t *testing.T, v *Verifier, auth *MockAuthenticator) *Credential {
	t.Helper()
	challenge := testChallenge(0x01)
	att, err := auth.Register(challenge, testOrigin)
	require.NoError(t, err)

	cred, err := v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
	require.NoError(t, err)
	return cred
}

func TestNewVerifier(t *testing.T) {
	_, err := NewVerifier(nil)
	assert.Error(t, err)

	_, err = NewVerifier(&Config{RPID: "x"})
	assert.Error(t, err)
}

func TestVerifyRegistration(t *testing.T) {
	for _, tc := range []struct {
		name   string
		alg    Algorithm
		format string
	}{
		{"es256 none", AlgES256, FormatNone},
		{"es256 packed self", AlgES256, FormatPacked},
		{"rs256 none", AlgRS256, FormatNone},
		{"rs256 packed self", AlgRS256, FormatPacked},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(t)
			auth, err := NewMockAuthenticator(testRPID, WithAlgorithm(tc.alg), WithAttestationFormat(tc.format))
			require.NoError(t, err)

			cred := register(t, v, auth)
			assert.Equal(t, auth.CredentialID, cred.ID)
			assert.Equal(t, tc.alg, cred.Algorithm)
			assert.Equal(t, uint32(0), cred.SignCount)
			assert.Equal(t, auth.AAGUID, cred.AAGUID)
			assert.Equal(t, tc.format, cred.AttestationFormat)

			expectedKey, err := auth.PublicKeyBytes()
			require.NoError(t, err)
			assert.Equal(t, expectedKey, cred.PublicKey)
		})
	}
}

func TestVerifyRegistration_ClientDataChecks(t *testing.T) {
	v := newTestVerifier(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	challenge := testChallenge(0x02)

	t.Run("challenge mismatch", func(t *testing.T) {
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, testChallenge(0x03))
		assert.ErrorIs(t, err, ErrClientDataMismatch)
	})

	t.Run("wrong ceremony type", func(t *testing.T) {
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		clientData := auth.buildClientDataJSON(challenge, testOrigin, ClientDataGet)
		_, err = v.VerifyRegistration(clientData, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrClientDataMismatch)
	})

	t.Run("origin not allowed", func(t *testing.T) {
		att, err := auth.Register(challenge, "https://evil.example")
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrOriginNotAllowed)
	})

	t.Run("origin match ignores case and trailing slash", func(t *testing.T) {
		att, err := auth.Register(challenge, "HTTPS://Example.com/")
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.NoError(t, err)
	})

	t.Run("empty expected challenge", func(t *testing.T) {
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, nil)
		assert.ErrorIs(t, err, ErrClientDataMismatch)
	})

	t.Run("garbage client data", func(t *testing.T) {
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration([]byte("{not json"), att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestVerifyRegistration_AuthenticatorDataChecks(t *testing.T) {
	challenge := testChallenge(0x04)

	t.Run("rp id mismatch", func(t *testing.T) {
		v := newTestVerifier(t)
		auth, err := NewMockAuthenticator("other.example")
		require.NoError(t, err)
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrRPIDMismatch)
	})

	t.Run("user not present", func(t *testing.T) {
		v := newTestVerifier(t)
		auth, err := NewMockAuthenticator(testRPID, WithUserPresent(false))
		require.NoError(t, err)
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrUserNotPresent)
	})

	t.Run("user verification required", func(t *testing.T) {
		v := newTestVerifier(t, func(c *Config) { c.UserVerification = "required" })
		auth, err := NewMockAuthenticator(testRPID, WithUserVerified(false))
		require.NoError(t, err)
		att, err := auth.Register(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrUserNotPresent)
	})
}

func TestVerifyRegistration_AttestationFormats(t *testing.T) {
	challenge := testChallenge(0x05)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	att, err := auth.Register(challenge, testOrigin)
	require.NoError(t, err)

	var obj map[string]interface{}
	require.NoError(t, webauthncbor.Unmarshal(att.AttestationObject, &obj))
	authData := obj["authData"]

	encode := func(format string, stmt map[string]interface{}) []byte {
		raw, err := webauthncbor.Marshal(map[string]interface{}{
			"fmt":      format,
			"attStmt":  stmt,
			"authData": authData,
		})
		require.NoError(t, err)
		return raw
	}

	v := newTestVerifier(t)

	t.Run("unknown format", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode("tpm", map[string]interface{}{}), challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("format outside configured allow-list", func(t *testing.T) {
		strict := newTestVerifier(t, func(c *Config) { c.AttestationFormats = []string{FormatPacked} })
		_, err := strict.VerifyRegistration(att.ClientDataJSON, att.AttestationObject, challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("none with statement", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatNone, map[string]interface{}{"sig": []byte{1}}), challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("packed missing sig", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatPacked, map[string]interface{}{"alg": int(AlgES256)}), challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("packed missing alg", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatPacked, map[string]interface{}{"sig": []byte{1, 2}}), challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("packed self attestation with bad signature", func(t *testing.T) {
		stmt := map[string]interface{}{"alg": int(AlgES256), "sig": []byte{0x30, 0x00}}
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatPacked, stmt), challenge)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("packed with certificate chain is not evaluated", func(t *testing.T) {
		stmt := map[string]interface{}{"alg": int(AlgES256), "sig": []byte{1}, "x5c": [][]byte{{0x30}}}
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatPacked, stmt), challenge)
		assert.NoError(t, err)
	})

	t.Run("fido-u2f requires x5c", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatFIDOU2F, map[string]interface{}{"sig": []byte{1}}), challenge)
		assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
	})

	t.Run("fido-u2f with sig and x5c", func(t *testing.T) {
		stmt := map[string]interface{}{"sig": []byte{1}, "x5c": [][]byte{{0x30}}}
		_, err := v.VerifyRegistration(att.ClientDataJSON, encode(FormatFIDOU2F, stmt), challenge)
		assert.NoError(t, err)
	})

	t.Run("garbage attestation object", func(t *testing.T) {
		_, err := v.VerifyRegistration(att.ClientDataJSON, []byte{0xff, 0x00}, challenge)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestVerifyAssertion(t *testing.T) {
	for _, alg := range []Algorithm{AlgES256, AlgRS256} {
		t.Run(alg.String(), func(t *testing.T) {
			v := newTestVerifier(t)
			auth, err := NewMockAuthenticator(testRPID, WithAlgorithm(alg))
			require.NoError(t, err)
			cred := register(t, v, auth)

			challenge := testChallenge(0x10)
			assertion, err := auth.Assert(challenge, testOrigin)
			require.NoError(t, err)

			counter, err := v.VerifyAssertion(assertion.ClientDataJSON, assertion.AuthenticatorData, assertion.Signature, challenge, cred)
			require.NoError(t, err)
			assert.Equal(t, uint32(1), counter)
		})
	}
}

func TestVerifyAssertion_Failures(t *testing.T) {
	v := newTestVerifier(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	cred := register(t, v, auth)
	challenge := testChallenge(0x11)

	t.Run("tampered signature", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		a.Signature[len(a.Signature)-1] ^= 0xff
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered authenticator data", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		a.AuthenticatorData[len(a.AuthenticatorData)-1]++
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signature from another key", func(t *testing.T) {
		other, err := NewMockAuthenticator(testRPID)
		require.NoError(t, err)
		a, err := other.Assert(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("registered algorithm differs from key", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		wrong := *cred
		wrong.Algorithm = AlgRS256
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, &wrong)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("create type on assertion", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		clientData := auth.buildClientDataJSON(challenge, testOrigin, ClientDataCreate)
		_, err = v.VerifyAssertion(clientData, a.AuthenticatorData, a.Signature, challenge, cred)
		assert.ErrorIs(t, err, ErrClientDataMismatch)
	})

	t.Run("nil credential", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, nil)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("short authenticator data", func(t *testing.T) {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData[:10], a.Signature, challenge, cred)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestVerifyAssertion_CounterMonotonicity(t *testing.T) {
	v := newTestVerifier(t)
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	cred := register(t, v, auth)
	challenge := testChallenge(0x20)

	// Advance to 5 and persist it.
	auth.SetSignCount(4)
	a, err := auth.Assert(challenge, testOrigin)
	require.NoError(t, err)
	counter, err := v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
	require.NoError(t, err)
	require.Equal(t, uint32(5), counter)
	cred.SignCount = counter

	for _, tc := range []struct {
		name    string
		next    uint32
		wantErr error
	}{
		{"lower counter", 3, ErrPossibleClone},
		{"equal counter", 5, ErrPossibleClone},
		{"higher counter", 6, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			auth.SetSignCount(tc.next - 1)
			a, err := auth.Assert(challenge, testOrigin)
			require.NoError(t, err)
			_, err = v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyAssertion_ZeroCounterAuthenticator(t *testing.T) {
	v := newTestVerifier(t)
	auth, err := NewMockAuthenticator(testRPID, WithoutCounter())
	require.NoError(t, err)
	cred := register(t, v, auth)
	challenge := testChallenge(0x21)

	for i := 0; i < 3; i++ {
		a, err := auth.Assert(challenge, testOrigin)
		require.NoError(t, err)
		counter, err := v.VerifyAssertion(a.ClientDataJSON, a.AuthenticatorData, a.Signature, challenge, cred)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), counter)
	}
}

func TestCheckCounter(t *testing.T) {
	assert.NoError(t, CheckCounter(0, 0))
	assert.NoError(t, CheckCounter(5, 0))
	assert.NoError(t, CheckCounter(5, 6))
	assert.ErrorIs(t, CheckCounter(5, 5), ErrPossibleClone)
	assert.ErrorIs(t, CheckCounter(5, 4), ErrPossibleClone)
}

func TestParseClientData_PaddedChallenge(t *testing.T) {
	v := newTestVerifier(t)
	challenge := []byte("exactly-sixteen!")
	raw, err := json.Marshal(ClientData{
		Type:      ClientDataGet,
		Challenge: base64.URLEncoding.EncodeToString(challenge),
		Origin:    testOrigin,
	})
	require.NoError(t, err)
	assert.NoError(t, v.verifyClientData(raw, ClientDataGet, challenge))
}
