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

// Package password hashes passwords and PINs with argon2id.
//
// Hashes are encoded in the PHC string format
// ($argon2id$v=19$m=65536,t=4,p=3$<salt>$<key>) so the cost parameters used
// at hash time travel with the hash and verification never depends on the
// current policy.
package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
)

// PINLength is the number of digits in a PIN.
const PINLength = 6

var (
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("password: secret cannot be empty")

	// ErrInvalidHash is returned when a stored hash cannot be decoded.
	ErrInvalidHash = errors.New("password: invalid hash encoding")

	// ErrIncompatibleVersion is returned for hashes from another argon2 version.
	ErrIncompatibleVersion = errors.New("password: incompatible argon2 version")

	// ErrPINFormat is returned when a PIN is not exactly PINLength digits.
	ErrPINFormat = errors.New("password: PIN must be 6 digits")
)

// Hasher hashes secrets and verifies them against stored hashes.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// Params are argon2id cost parameters.
type Params struct {
	Memory  uint32 `yaml:"memory" json:"memory"` // KiB
	Time    uint32 `yaml:"time" json:"time"`
	Threads uint8  `yaml:"threads" json:"threads"`
	KeyLen  uint32 `yaml:"key_len" json:"key_len"`
	SaltLen uint32 `yaml:"salt_len" json:"salt_len"`
}

// DefaultParams returns the production cost: 64 MiB, 4 passes, 3 lanes.
func DefaultParams() Params {
	return Params{
		Memory:  64 * 1024,
		Time:    4,
		Threads: 3,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// Validate rejects parameters argon2 cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Time == 0:
		return errors.New("password: time must be at least 1")
	case p.Threads == 0:
		return errors.New("password: threads must be at least 1")
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("password: memory must be at least %d KiB", 8*uint32(p.Threads))
	case p.KeyLen < 16:
		return errors.New("password: key length must be at least 16 bytes")
	case p.SaltLen < 8:
		return errors.New("password: salt length must be at least 8 bytes")
	}
	return nil
}

// Argon2id is the Hasher used for passwords and PINs.
type Argon2id struct {
	params Params
	random rand.Source
}

var _ Hasher = (*Argon2id)(nil)

// NewArgon2id creates a hasher. A nil random source selects crypto/rand.
func NewArgon2id(params Params, random rand.Source) (*Argon2id, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.NewSoftware()
	}
	return &Argon2id{params: params, random: random}, nil
}

// Hash derives a new PHC-encoded hash with a fresh salt.
func (h *Argon2id) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	salt, err := h.random.Rand(int(h.params.SaltLen))
	if err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return encode(h.params, salt, key), nil
}

// Verify reports whether secret matches encoded. The comparison is constant
// time; a malformed hash is an error, never a match.
func (h *Argon2id) Verify(secret, encoded string) (bool, error) {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters other
// than the hasher's current ones.
func (h *Argon2id) NeedsRehash(encoded string) bool {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Time != h.params.Time ||
		params.Threads != h.params.Threads ||
		uint32(len(key)) != h.params.KeyLen ||
		uint32(len(salt)) != h.params.SaltLen
}

// ValidatePIN checks that pin is exactly PINLength ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return ErrPINFormat
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrPINFormat
		}
	}
	return nil
}

func encode(p Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if p.Time == 0 || p.Threads == 0 || p.Memory == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}
	return p, salt, key, nil
}
