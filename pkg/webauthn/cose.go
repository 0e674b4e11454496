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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE key labels and values (RFC 9053).
const (
	coseKeyType   = 1
	coseAlgorithm = 3

	coseEC2Curve = -1
	coseEC2X     = -2
	coseEC2Y     = -3

	coseRSAModulus  = -1
	coseRSAExponent = -2

	coseKeyTypeEC2 = 2
	coseKeyTypeRSA = 3

	coseCurveP256 = 1
	coseCurveP384 = 2
	coseCurveP521 = 3

	minRSABits = 2048
)

// PublicKey is a decoded COSE credential key. The set of implementations is
// closed: EC2Key and RSAKey.
type PublicKey interface {
	// Algorithm returns the COSE algorithm bound to the key.
	Algorithm() Algorithm

	// Verify checks sig over data and returns ErrInvalidSignature on mismatch.
	Verify(data, sig []byte) error

	isPublicKey()
}

// EC2Key is an ECDSA credential key (ES256, ES384, ES512).
type EC2Key struct {
	Alg Algorithm
	Key *ecdsa.PublicKey
}

func (k *EC2Key) Algorithm() Algorithm { return k.Alg }

func (k *EC2Key) isPublicKey() {}

// Verify checks an ASN.1 DER encoded ECDSA signature.
func (k *EC2Key) Verify(data, sig []byte) error {
	h, err := hashFor(k.Alg)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(k.Key, digest(h, data), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// RSAKey is an RSA credential key (RS256, RS384, RS512, PS256).
type RSAKey struct {
	Alg Algorithm
	Key *rsa.PublicKey
}

func (k *RSAKey) Algorithm() Algorithm { return k.Alg }

func (k *RSAKey) isPublicKey() {}

// Verify checks a PKCS #1 v1.5 or PSS signature depending on the algorithm.
func (k *RSAKey) Verify(data, sig []byte) error {
	h, err := hashFor(k.Alg)
	if err != nil {
		return err
	}
	hashed := digest(h, data)

	if k.Alg == AlgPS256 {
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
		if err := rsa.VerifyPSS(k.Key, h, hashed, sig, opts); err != nil {
			return ErrInvalidSignature
		}
		return nil
	}
	if err := rsa.VerifyPKCS1v15(k.Key, h, hashed, sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// ParsePublicKey decodes a COSE_Key into one of the supported variants.
// Keys with an unknown key type, curve or algorithm fail with
// ErrUnsupportedAlgorithm; structurally invalid keys fail with ErrMalformed.
func ParsePublicKey(raw []byte) (PublicKey, error) {
	var fields map[int]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &fields); err != nil {
		return nil, malformed("cose key: %v", err)
	}

	kty, err := intField(fields, coseKeyType)
	if err != nil {
		return nil, err
	}
	algValue, err := intField(fields, coseAlgorithm)
	if err != nil {
		return nil, err
	}
	alg := Algorithm(algValue)

	switch kty {
	case coseKeyTypeEC2:
		return parseEC2(fields, alg)
	case coseKeyTypeRSA:
		return parseRSA(fields, alg)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func parseEC2(fields map[int]cbor.RawMessage, alg Algorithm) (PublicKey, error) {
	crv, err := intField(fields, coseEC2Curve)
	if err != nil {
		return nil, err
	}

	var curve elliptic.Curve
	switch {
	case alg == AlgES256 && crv == coseCurveP256:
		curve = elliptic.P256()
	case alg == AlgES384 && crv == coseCurveP384:
		curve = elliptic.P384()
	case alg == AlgES512 && crv == coseCurveP521:
		curve = elliptic.P521()
	default:
		return nil, ErrUnsupportedAlgorithm
	}

	x, err := bytesField(fields, coseEC2X)
	if err != nil {
		return nil, err
	}
	y, err := bytesField(fields, coseEC2Y)
	if err != nil {
		return nil, err
	}

	size := (curve.Params().BitSize + 7) / 8
	if len(x) > size || len(y) > size {
		return nil, malformed("ec2 coordinate too long")
	}

	point := make([]byte, 1+2*size)
	point[0] = 0x04
	copy(point[1+size-len(x):1+size], x)
	copy(point[1+2*size-len(y):], y)

	pub, err := ecdsa.ParseUncompressedPublicKey(curve, point)
	if err != nil {
		return nil, malformed("ec2 point: %v", err)
	}
	return &EC2Key{Alg: alg, Key: pub}, nil
}

func parseRSA(fields map[int]cbor.RawMessage, alg Algorithm) (PublicKey, error) {
	switch alg {
	case AlgRS256, AlgRS384, AlgRS512, AlgPS256:
	default:
		return nil, ErrUnsupportedAlgorithm
	}

	n, err := bytesField(fields, coseRSAModulus)
	if err != nil {
		return nil, err
	}
	e, err := bytesField(fields, coseRSAExponent)
	if err != nil {
		return nil, err
	}

	modulus := new(big.Int).SetBytes(n)
	if modulus.BitLen() < minRSABits {
		return nil, malformed("rsa modulus too small: %d bits", modulus.BitLen())
	}
	exponent := new(big.Int).SetBytes(e)
	if !exponent.IsInt64() || exponent.Int64() < 3 || exponent.Int64() > 1<<31-1 || exponent.Bit(0) == 0 {
		return nil, malformed("rsa exponent out of range")
	}

	return &RSAKey{
		Alg: alg,
		Key: &rsa.PublicKey{N: modulus, E: int(exponent.Int64())},
	}, nil
}

func intField(fields map[int]cbor.RawMessage, label int) (int64, error) {
	raw, ok := fields[label]
	if !ok {
		return 0, malformed("cose key missing label %d", label)
	}
	var v int64
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return 0, malformed("cose key label %d: %v", label, err)
	}
	return v, nil
}

func bytesField(fields map[int]cbor.RawMessage, label int) ([]byte, error) {
	raw, ok := fields[label]
	if !ok {
		return nil, malformed("cose key missing label %d", label)
	}
	var v []byte
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, malformed("cose key label %d: %v", label, err)
	}
	if len(v) == 0 {
		return nil, malformed("cose key label %d is empty", label)
	}
	return v, nil
}

func hashFor(alg Algorithm) (crypto.Hash, error) {
	switch alg {
	case AlgES256, AlgRS256, AlgPS256:
		return crypto.SHA256, nil
	case AlgES384, AlgRS384:
		return crypto.SHA384, nil
	case AlgES512, AlgRS512:
		return crypto.SHA512, nil
	default:
		return 0, ErrUnsupportedAlgorithm
	}
}

func digest(h crypto.Hash, data []byte) []byte {
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}
