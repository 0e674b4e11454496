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

// Package validation provides input validation for account identifiers.
// Every entry point (HTTP, CLI) reaches the auth service, which applies
// these checks before touching storage.
package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

const (
	// MaxUsernameLength bounds usernames.
	MaxUsernameLength = 64

	// MaxEmailLength is the RFC 5321 path limit.
	MaxEmailLength = 254

	// MaxAccountIDLength bounds account identifiers supplied by clients.
	MaxAccountIDLength = 128
)

var (
	// usernamePattern matches safe usernames
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

	// accountIDPattern matches generated account IDs (UUIDs) and other
	// opaque identifiers without separators or control characters
	accountIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// ValidateUsername validates a username.
// Rejects:
// - empty strings and strings over MaxUsernameLength
// - null bytes and control characters
// - '@', so a username can never collide with an email login
// - anything outside letters, digits, '_', '-' and '.'
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if strings.Contains(username, "\x00") {
		return fmt.Errorf("username contains null byte")
	}
	// Check length before the pattern (prevent ReDoS)
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("username too long (max %d characters)", MaxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (allowed: a-z, A-Z, 0-9, _, -, .)")
	}
	return nil
}

// ValidateEmail validates an optional email address. An empty string is
// valid.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > MaxEmailLength {
		return fmt.Errorf("email too long (max %d characters)", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email: %w", err)
	}
	// Display names ("Alice <a@example.com>") are not logins.
	if addr.Address != email {
		return fmt.Errorf("invalid email: %q is not a bare address", email)
	}
	return nil
}

// ValidateAccountID validates an account identifier received from a
// client.
func ValidateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if len(id) > MaxAccountIDLength {
		return fmt.Errorf("account ID too long (max %d characters)", MaxAccountIDLength)
	}
	if !accountIDPattern.MatchString(id) {
		return fmt.Errorf("account ID contains invalid characters")
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	// Remove control characters and null bytes
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}

	return s
}
