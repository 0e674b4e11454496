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
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Client data ceremony types.
const (
	ClientDataCreate = "webauthn.create"
	ClientDataGet    = "webauthn.get"
)

// ClientData is the collected client data serialized by the browser.
type ClientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin,omitempty"`
}

// ParseClientData decodes clientDataJSON.
func ParseClientData(raw []byte) (*ClientData, error) {
	var cd ClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, malformed("client data: %v", err)
	}
	return &cd, nil
}

// challengeBytes decodes the base64url challenge, tolerating padding.
func (cd *ClientData) challengeBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(cd.Challenge, "="))
}

// verifyClientData checks type, challenge and origin in that order.
func (v *Verifier) verifyClientData(raw []byte, wantType string, expectedChallenge []byte) error {
	cd, err := ParseClientData(raw)
	if err != nil {
		return err
	}

	if cd.Type != wantType {
		return ErrClientDataMismatch
	}

	got, err := cd.challengeBytes()
	if err != nil {
		return ErrClientDataMismatch
	}
	if len(expectedChallenge) == 0 || subtle.ConstantTimeCompare(got, expectedChallenge) != 1 {
		return ErrClientDataMismatch
	}

	if !v.originAllowed(cd.Origin) {
		return ErrOriginNotAllowed
	}
	return nil
}

func (v *Verifier) originAllowed(origin string) bool {
	_, ok := v.origins[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}
