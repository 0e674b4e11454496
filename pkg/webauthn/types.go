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
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// Algorithm is a COSE algorithm identifier.
type Algorithm int64

// Supported COSE algorithms.
const (
	AlgES256 = Algorithm(webauthncose.AlgES256)
	AlgES384 = Algorithm(webauthncose.AlgES384)
	AlgES512 = Algorithm(webauthncose.AlgES512)
	AlgRS256 = Algorithm(webauthncose.AlgRS256)
	AlgRS384 = Algorithm(webauthncose.AlgRS384)
	AlgRS512 = Algorithm(webauthncose.AlgRS512)
	AlgPS256 = Algorithm(webauthncose.AlgPS256)
)

// String returns the JOSE name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgES256:
		return "ES256"
	case AlgES384:
		return "ES384"
	case AlgES512:
		return "ES512"
	case AlgRS256:
		return "RS256"
	case AlgRS384:
		return "RS384"
	case AlgRS512:
		return "RS512"
	case AlgPS256:
		return "PS256"
	default:
		return "unknown"
	}
}

// SupportedAlgorithms lists the algorithms offered to authenticators in
// preference order.
func SupportedAlgorithms() []Algorithm {
	return []Algorithm{AlgES256, AlgES384, AlgES512, AlgPS256, AlgRS256, AlgRS384, AlgRS512}
}

// Attestation statement formats accepted at registration.
const (
	FormatNone    = "none"
	FormatPacked  = "packed"
	FormatFIDOU2F = "fido-u2f"
)

// Credential is the relying party's view of a registered authenticator key.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// Algorithm is the COSE algorithm recorded at registration.
	Algorithm Algorithm `json:"algorithm"`

	// SignCount is the last accepted signature counter.
	SignCount uint32 `json:"sign_count"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// AttestationFormat is the attestation statement format presented at registration.
	AttestationFormat string `json:"attestation_format"`
}
