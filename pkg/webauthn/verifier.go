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
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

const (
	opVerifyRegistration = "verify registration"
	opVerifyAssertion    = "verify assertion"
)

// Verifier checks registration and assertion ceremony artifacts. It is
// stateless apart from its configuration and safe for concurrent use.
type Verifier struct {
	rpIDHash  [32]byte
	origins   map[string]struct{}
	formats   map[string]struct{}
	requireUV bool
}

// NewVerifier validates cfg, applies defaults, and returns a Verifier.
func NewVerifier(cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webauthn: config is required")
	}
	c := *cfg
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("webauthn: invalid config: %w", err)
	}

	v := &Verifier{
		rpIDHash:  sha256.Sum256([]byte(c.RPID)),
		origins:   make(map[string]struct{}, len(c.RPOrigins)),
		formats:   make(map[string]struct{}, len(c.AttestationFormats)),
		requireUV: c.UserVerification == "required",
	}
	for _, o := range c.RPOrigins {
		v.origins[normalizeOrigin(o)] = struct{}{}
	}
	for _, f := range c.AttestationFormats {
		v.formats[f] = struct{}{}
	}
	return v, nil
}

// VerifyRegistration validates a navigator.credentials.create response and
// returns the credential to persist. The returned SignCount is always zero.
func (v *Verifier) VerifyRegistration(clientDataJSON, attestationObject, expectedChallenge []byte) (*Credential, error) {
	if err := v.verifyClientData(clientDataJSON, ClientDataCreate, expectedChallenge); err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}

	obj, err := ParseAttestationObject(attestationObject)
	if err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}
	if _, ok := v.formats[obj.Format]; !ok {
		return nil, NewError(opVerifyRegistration,
			fmt.Errorf("%w: %q", ErrUnsupportedAttestationFormat, obj.Format))
	}

	ad, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}
	if err := v.checkAuthenticatorData(ad); err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}
	if !ad.Flags.HasAttestedCredentialData() {
		return nil, NewError(opVerifyRegistration, malformed("attested credential data missing"))
	}

	key, err := ParsePublicKey(ad.PublicKey)
	if err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	if err := checkStatement(obj, key, clientDataHash[:]); err != nil {
		return nil, NewError(opVerifyRegistration, err)
	}

	return &Credential{
		ID:                append([]byte(nil), ad.CredentialID...),
		PublicKey:         append([]byte(nil), ad.PublicKey...),
		Algorithm:         key.Algorithm(),
		SignCount:         0,
		AAGUID:            append([]byte(nil), ad.AAGUID...),
		AttestationFormat: obj.Format,
	}, nil
}

// VerifyAssertion validates a navigator.credentials.get response against a
// stored credential and returns the authenticator's new signature counter.
func (v *Verifier) VerifyAssertion(clientDataJSON, authenticatorData, signature, expectedChallenge []byte, cred *Credential) (uint32, error) {
	if cred == nil {
		return 0, NewError(opVerifyAssertion, fmt.Errorf("%w: no credential", ErrInvalidSignature))
	}

	if err := v.verifyClientData(clientDataJSON, ClientDataGet, expectedChallenge); err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}

	ad, err := ParseAuthenticatorData(authenticatorData)
	if err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}
	if err := v.checkAuthenticatorData(ad); err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}

	key, err := ParsePublicKey(cred.PublicKey)
	if err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}
	if key.Algorithm() != cred.Algorithm {
		return 0, NewError(opVerifyAssertion,
			fmt.Errorf("%w: key algorithm %s, registered %s", ErrInvalidSignature, key.Algorithm(), cred.Algorithm))
	}

	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(authenticatorData)+len(clientDataHash))
	signed = append(signed, authenticatorData...)
	signed = append(signed, clientDataHash[:]...)
	if err := key.Verify(signed, signature); err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}

	if err := CheckCounter(cred.SignCount, ad.SignCount); err != nil {
		return 0, NewError(opVerifyAssertion, err)
	}
	return ad.SignCount, nil
}

// CheckCounter applies the clone-detection rule: a non-zero counter must
// strictly increase. Authenticators that never count report zero forever.
func CheckCounter(stored, received uint32) error {
	if received != 0 && received <= stored {
		return fmt.Errorf("%w: stored %d, received %d", ErrPossibleClone, stored, received)
	}
	return nil
}

func (v *Verifier) checkAuthenticatorData(ad *AuthenticatorData) error {
	if subtle.ConstantTimeCompare(ad.RPIDHash, v.rpIDHash[:]) != 1 {
		return ErrRPIDMismatch
	}
	if !ad.Flags.UserPresent() {
		return ErrUserNotPresent
	}
	if v.requireUV && !ad.Flags.UserVerified() {
		return ErrUserNotPresent
	}
	return nil
}
