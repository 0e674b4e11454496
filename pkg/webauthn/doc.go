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

// Package webauthn verifies WebAuthn registration and authentication
// ceremonies for the biometric tier.
//
// The Verifier is deliberately narrow: it receives the raw artifacts the
// browser posted (clientDataJSON, attestation object or authenticator data,
// signature) plus the challenge the caller consumed, and either returns the
// credential / new counter or a *VerifyError wrapping one sentinel:
//
//   - ErrClientDataMismatch, ErrOriginNotAllowed: client data checks
//   - ErrUnsupportedAlgorithm: COSE key outside EC2 (ES256/384/512) or RSA (RS256/384/512, PS256)
//   - ErrUnsupportedAttestationFormat: format outside none, packed, fido-u2f
//   - ErrInvalidSignature: any cryptographic mismatch
//   - ErrPossibleClone: counter regression
//
// Challenge storage, persistence and trust decisions live elsewhere; the
// verifier never retries and never mutates state.
//
// # Usage
//
//	v, err := webauthn.NewVerifier(&webauthn.Config{
//	    RPID:          "example.com",
//	    RPDisplayName: "Example",
//	    RPOrigins:     []string{"https://example.com"},
//	})
//	cred, err := v.VerifyRegistration(clientDataJSON, attestationObject, challenge)
//	counter, err := v.VerifyAssertion(clientDataJSON, authData, sig, challenge, cred)
//
// Attestation certificate chains are not validated against manufacturer
// roots. Packed self-attestation is verified with the credential key.
package webauthn
