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

package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
)

const (
	// RememberTokenBytes is the entropy of a remember-me token.
	RememberTokenBytes = 32

	// DefaultRememberTTL is how long a remember-me token stays valid.
	DefaultRememberTTL = 30 * 24 * time.Hour
)

// NewRememberToken returns a hex-encoded random token for the client and
// the hash to store server side.
func NewRememberToken(random rand.Source) (token, hash string, err error) {
	raw, err := random.Rand(RememberTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("session: generate remember token: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, HashRememberToken(token), nil
}

// HashRememberToken returns the stored form of a remember-me token.
func HashRememberToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
