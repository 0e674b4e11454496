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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
)

// MockAuthenticator simulates a platform authenticator for tests. It emits
// the same raw artifacts a browser would post: clientDataJSON, the CBOR
// attestation object, authenticator data and a signature.
type MockAuthenticator struct {
	// AAGUID is the authenticator's model identifier (16 bytes).
	AAGUID []byte

	// CredentialID is the credential identifier.
	CredentialID []byte

	// SignCount is the current signature counter.
	SignCount uint32

	// CounterDisabled keeps the counter at zero, like authenticators that
	// do not implement one.
	CounterDisabled bool

	// UserPresent indicates whether UP flag should be set.
	UserPresent bool

	// UserVerified indicates whether UV flag should be set.
	UserVerified bool

	// Format is the attestation statement format: "none" or "packed".
	Format string

	// Algorithm selects the key type: AlgES256 or AlgRS256.
	Algorithm Algorithm

	signer   crypto.Signer
	rpIDHash []byte
}

// MockAttestation is the output of a registration ceremony.
type MockAttestation struct {
	ClientDataJSON    []byte
	AttestationObject []byte
}

// MockAssertion is the output of an authentication ceremony.
type MockAssertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// MockAuthenticatorOption is a functional option for configuring a MockAuthenticator.
type MockAuthenticatorOption func(*MockAuthenticator)

// WithAAGUID sets a custom AAGUID.
func WithAAGUID(aaguid []byte) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.AAGUID = aaguid
	}
}

// WithCredentialID sets a custom credential ID.
func WithCredentialID(credID []byte) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.CredentialID = credID
	}
}

// WithSignCount sets the initial sign count.
func WithSignCount(count uint32) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.SignCount = count
	}
}

// WithoutCounter disables counter increments.
func WithoutCounter() MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.CounterDisabled = true
	}
}

// WithUserPresent sets the UP flag.
func WithUserPresent(up bool) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.UserPresent = up
	}
}

// WithUserVerified sets the UV flag.
func WithUserVerified(uv bool) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.UserVerified = uv
	}
}

// WithAttestationFormat sets the attestation format.
func WithAttestationFormat(format string) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.Format = format
	}
}

// WithAlgorithm selects an ES256 or RS256 key.
func WithAlgorithm(alg Algorithm) MockAuthenticatorOption {
	return func(m *MockAuthenticator) {
		m.Algorithm = alg
	}
}

// NewMockAuthenticator creates a new mock authenticator bound to rpID.
func NewMockAuthenticator(rpID string, opts ...MockAuthenticatorOption) (*MockAuthenticator, error) {
	rpIDHash := sha256.Sum256([]byte(rpID))

	m := &MockAuthenticator{
		AAGUID:       make([]byte, aaguidLen),
		CredentialID: make([]byte, 32),
		UserPresent:  true,
		UserVerified: true,
		Format:       FormatNone,
		Algorithm:    AlgES256,
		rpIDHash:     rpIDHash[:],
	}
	if _, err := rand.Read(m.AAGUID); err != nil {
		return nil, err
	}
	if _, err := rand.Read(m.CredentialID); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(m)
	}

	switch m.Algorithm {
	case AlgES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		m.signer = key
	case AlgRS256:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		m.signer = key
	default:
		return nil, fmt.Errorf("mock authenticator: unsupported algorithm %s", m.Algorithm)
	}

	return m, nil
}

// PublicKey returns the authenticator's public key.
func (m *MockAuthenticator) PublicKey() crypto.PublicKey {
	return m.signer.Public()
}

// PublicKeyBytes returns the public key in COSE format.
func (m *MockAuthenticator) PublicKeyBytes() ([]byte, error) {
	switch pub := m.signer.Public().(type) {
	case *ecdsa.PublicKey:
		x := make([]byte, 32)
		y := make([]byte, 32)
		pub.X.FillBytes(x)
		pub.Y.FillBytes(y)
		return webauthncbor.Marshal(map[int]interface{}{
			coseKeyType:   coseKeyTypeEC2,
			coseAlgorithm: int(AlgES256),
			coseEC2Curve:  coseCurveP256,
			coseEC2X:      x,
			coseEC2Y:      y,
		})
	case *rsa.PublicKey:
		return webauthncbor.Marshal(map[int]interface{}{
			coseKeyType:     coseKeyTypeRSA,
			coseAlgorithm:   int(AlgRS256),
			coseRSAModulus:  pub.N.Bytes(),
			coseRSAExponent: big.NewInt(int64(pub.E)).Bytes(),
		})
	default:
		return nil, fmt.Errorf("mock authenticator: unexpected key type %T", pub)
	}
}

// SetSignCount sets the sign count to a specific value (useful for testing clone detection).
func (m *MockAuthenticator) SetSignCount(count uint32) {
	m.SignCount = count
}

// Register produces a registration response for challenge.
func (m *MockAuthenticator) Register(challenge []byte, origin string) (*MockAttestation, error) {
	authData, err := m.buildAuthenticatorData(true)
	if err != nil {
		return nil, err
	}
	clientDataJSON := m.buildClientDataJSON(challenge, origin, ClientDataCreate)

	stmt := map[string]interface{}{}
	if m.Format == FormatPacked {
		clientDataHash := sha256.Sum256(clientDataJSON)
		sig, err := m.sign(append(append([]byte(nil), authData...), clientDataHash[:]...))
		if err != nil {
			return nil, err
		}
		stmt["alg"] = int(m.Algorithm)
		stmt["sig"] = sig
	}

	attObj, err := webauthncbor.Marshal(map[string]interface{}{
		"fmt":      m.Format,
		"attStmt":  stmt,
		"authData": authData,
	})
	if err != nil {
		return nil, err
	}

	return &MockAttestation{
		ClientDataJSON:    clientDataJSON,
		AttestationObject: attObj,
	}, nil
}

// Assert produces an authentication response for challenge, advancing the
// counter unless it is disabled.
func (m *MockAuthenticator) Assert(challenge []byte, origin string) (*MockAssertion, error) {
	if !m.CounterDisabled {
		m.SignCount++
	}

	authData, err := m.buildAuthenticatorData(false)
	if err != nil {
		return nil, err
	}
	clientDataJSON := m.buildClientDataJSON(challenge, origin, ClientDataGet)
	clientDataHash := sha256.Sum256(clientDataJSON)

	sig, err := m.sign(append(append([]byte(nil), authData...), clientDataHash[:]...))
	if err != nil {
		return nil, err
	}

	return &MockAssertion{
		CredentialID:      append([]byte(nil), m.CredentialID...),
		ClientDataJSON:    clientDataJSON,
		AuthenticatorData: authData,
		Signature:         sig,
	}, nil
}

func (m *MockAuthenticator) flags(includeCredential bool) byte {
	var flags byte
	if m.UserPresent {
		flags |= 0x01 // UP
	}
	if m.UserVerified {
		flags |= 0x04 // UV
	}
	if includeCredential {
		flags |= 0x40 // AT
	}
	return flags
}

func (m *MockAuthenticator) buildAuthenticatorData(includeCredential bool) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(m.rpIDHash)
	buf.WriteByte(m.flags(includeCredential))

	counter := m.SignCount
	if includeCredential {
		counter = 0
	}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], counter)
	buf.Write(count[:])

	if includeCredential {
		buf.Write(m.AAGUID)

		var idLen [2]byte
		binary.BigEndian.PutUint16(idLen[:], uint16(len(m.CredentialID)))
		buf.Write(idLen[:])
		buf.Write(m.CredentialID)

		pub, err := m.PublicKeyBytes()
		if err != nil {
			return nil, err
		}
		buf.Write(pub)
	}

	return buf.Bytes(), nil
}

func (m *MockAuthenticator) buildClientDataJSON(challenge []byte, origin, ceremony string) []byte {
	clientData := ClientData{
		Type:      ceremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	}
	jsonBytes, _ := json.Marshal(clientData)
	return jsonBytes
}

func (m *MockAuthenticator) sign(data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)
	switch key := m.signer.(type) {
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(rand.Reader, key, hash[:])
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	default:
		return nil, fmt.Errorf("mock authenticator: unexpected signer %T", key)
	}
}
