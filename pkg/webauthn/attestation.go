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
	"github.com/fxamacker/cbor/v2"
)

// AttestationObject is the CBOR structure returned by navigator.credentials.create.
type AttestationObject struct {
	Format   string                     `cbor:"fmt"`
	AttStmt  map[string]cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte                     `cbor:"authData"`
}

// ParseAttestationObject decodes a raw attestation object.
func ParseAttestationObject(raw []byte) (*AttestationObject, error) {
	var obj AttestationObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, malformed("attestation object: %v", err)
	}
	if obj.Format == "" || len(obj.AuthData) == 0 {
		return nil, malformed("attestation object missing fmt or authData")
	}
	return &obj, nil
}

// checkStatement enforces the per-format statement shape. Packed
// self-attestation (no x5c) is verified against the credential key.
// Certificate chains are never evaluated.
func checkStatement(obj *AttestationObject, key PublicKey, clientDataHash []byte) error {
	switch obj.Format {
	case FormatNone:
		if len(obj.AttStmt) != 0 {
			return ErrUnsupportedAttestationFormat
		}
		return nil

	case FormatPacked:
		sig, ok := statementBytes(obj.AttStmt, "sig")
		if !ok {
			return ErrUnsupportedAttestationFormat
		}
		rawAlg, ok := obj.AttStmt["alg"]
		if !ok {
			return ErrUnsupportedAttestationFormat
		}
		var alg int64
		if err := cbor.Unmarshal(rawAlg, &alg); err != nil {
			return ErrUnsupportedAttestationFormat
		}
		if _, hasChain := obj.AttStmt["x5c"]; hasChain {
			return nil
		}
		if Algorithm(alg) != key.Algorithm() {
			return ErrInvalidSignature
		}
		signed := make([]byte, 0, len(obj.AuthData)+len(clientDataHash))
		signed = append(signed, obj.AuthData...)
		signed = append(signed, clientDataHash...)
		return key.Verify(signed, sig)

	case FormatFIDOU2F:
		if _, ok := statementBytes(obj.AttStmt, "sig"); !ok {
			return ErrUnsupportedAttestationFormat
		}
		if _, ok := obj.AttStmt["x5c"]; !ok {
			return ErrUnsupportedAttestationFormat
		}
		return nil

	default:
		return ErrUnsupportedAttestationFormat
	}
}

func statementBytes(stmt map[string]cbor.RawMessage, name string) ([]byte, bool) {
	raw, ok := stmt[name]
	if !ok {
		return nil, false
	}
	var b []byte
	if err := cbor.Unmarshal(raw, &b); err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}
