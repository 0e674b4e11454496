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
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
)

const (
	rpIDHashLen   = 32
	flagsLen      = 1
	counterLen    = 4
	aaguidLen     = 16
	credIDLenSize = 2

	minAuthDataLen = rpIDHashLen + flagsLen + counterLen
	maxCredIDLen   = 1023
)

// AuthenticatorData is the parsed authenticator data structure:
//
//	rpIdHash(32) | flags(1) | signCount(4, big endian) | [attestedCredentialData] | [extensions]
type AuthenticatorData struct {
	RPIDHash  []byte
	Flags     protocol.AuthenticatorFlags
	SignCount uint32

	// Populated only when the AT flag is set.
	AAGUID       []byte
	CredentialID []byte
	PublicKey    []byte
}

// ParseAuthenticatorData decodes raw authenticator data.
func ParseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < minAuthDataLen {
		return nil, malformed("authenticator data too short: %d bytes", len(raw))
	}

	ad := &AuthenticatorData{
		RPIDHash:  raw[:rpIDHashLen],
		Flags:     protocol.AuthenticatorFlags(raw[rpIDHashLen]),
		SignCount: binary.BigEndian.Uint32(raw[rpIDHashLen+flagsLen : minAuthDataLen]),
	}
	rest := raw[minAuthDataLen:]

	if ad.Flags.HasAttestedCredentialData() {
		if len(rest) < aaguidLen+credIDLenSize {
			return nil, malformed("attested credential data truncated")
		}
		ad.AAGUID = rest[:aaguidLen]
		idLen := int(binary.BigEndian.Uint16(rest[aaguidLen : aaguidLen+credIDLenSize]))
		rest = rest[aaguidLen+credIDLenSize:]

		if idLen == 0 || idLen > maxCredIDLen || len(rest) < idLen {
			return nil, malformed("invalid credential id length %d", idLen)
		}
		ad.CredentialID = rest[:idLen]
		rest = rest[idLen:]

		var key cbor.RawMessage
		remaining, err := cbor.UnmarshalFirst(rest, &key)
		if err != nil {
			return nil, malformed("credential public key: %v", err)
		}
		ad.PublicKey = []byte(key)
		rest = remaining
	}

	if ad.Flags.HasExtensions() {
		var ext cbor.RawMessage
		remaining, err := cbor.UnmarshalFirst(rest, &ext)
		if err != nil {
			return nil, malformed("extensions: %v", err)
		}
		rest = remaining
	}

	if len(rest) != 0 {
		return nil, malformed("%d trailing bytes in authenticator data", len(rest))
	}
	return ad, nil
}
