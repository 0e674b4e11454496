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
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// User identifies the account a registration ceremony is for.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CreationOptions builds the PublicKeyCredentialCreationOptions sent to the
// browser for a registration ceremony. Existing credential IDs are excluded
// so an authenticator cannot be registered twice.
func (c *Config) CreationOptions(challenge []byte, user User, existing [][]byte) *protocol.CredentialCreation {
	cfg := *c
	cfg.SetDefaults()

	params := make([]protocol.CredentialParameter, 0, len(SupportedAlgorithms()))
	for _, alg := range SupportedAlgorithms() {
		params = append(params, protocol.CredentialParameter{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: webauthncose.COSEAlgorithmIdentifier(alg),
		})
	}

	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Name
	}

	return &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{Name: cfg.RPDisplayName},
				ID:               cfg.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{Name: user.Name},
				DisplayName:      displayName,
				ID:               protocol.URLEncodedBase64(user.ID),
			},
			Challenge:              protocol.URLEncodedBase64(challenge),
			Parameters:             params,
			Timeout:                int(cfg.Timeout.Milliseconds()),
			CredentialExcludeList:  descriptors(existing),
			AuthenticatorSelection: cfg.authenticatorSelection(),
			Attestation:            conveyance(cfg.AttestationPreference),
		},
	}
}

// RequestOptions builds the PublicKeyCredentialRequestOptions for an
// authentication ceremony restricted to the given credential IDs.
func (c *Config) RequestOptions(challenge []byte, allowed [][]byte) *protocol.CredentialAssertion {
	cfg := *c
	cfg.SetDefaults()

	return &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(challenge),
			Timeout:            int(cfg.Timeout.Milliseconds()),
			RelyingPartyID:     cfg.RPID,
			AllowedCredentials: descriptors(allowed),
			UserVerification:   userVerification(cfg.UserVerification),
		},
	}
}

func (c *Config) authenticatorSelection() protocol.AuthenticatorSelection {
	sel := protocol.AuthenticatorSelection{
		UserVerification: userVerification(c.UserVerification),
	}

	switch c.ResidentKeyRequirement {
	case "required":
		sel.ResidentKey = protocol.ResidentKeyRequirementRequired
	case "preferred":
		sel.ResidentKey = protocol.ResidentKeyRequirementPreferred
	case "discouraged":
		sel.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	}

	switch c.AuthenticatorAttachment {
	case "platform":
		sel.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		sel.AuthenticatorAttachment = protocol.CrossPlatform
	}
	return sel
}

func userVerification(v string) protocol.UserVerificationRequirement {
	switch v {
	case "required":
		return protocol.VerificationRequired
	case "discouraged":
		return protocol.VerificationDiscouraged
	default:
		return protocol.VerificationPreferred
	}
}

func conveyance(pref string) protocol.ConveyancePreference {
	switch pref {
	case "indirect":
		return protocol.PreferIndirectAttestation
	case "direct":
		return protocol.PreferDirectAttestation
	case "enterprise":
		return protocol.PreferEnterpriseAttestation
	default:
		return protocol.PreferNoAttestation
	}
}

func descriptors(ids [][]byte) []protocol.CredentialDescriptor {
	if len(ids) == 0 {
		return nil
	}
	out := make([]protocol.CredentialDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: protocol.URLEncodedBase64(id),
		})
	}
	return out
}
