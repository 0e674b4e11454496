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

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// accountView is the printable projection of an account. Secrets and
// their hashes are never printed.
type accountView struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email,omitempty"`
	Status          string     `json:"status"`
	State           string     `json:"state"`
	PINEnabled      bool       `json:"pin_enabled"`
	PINAttempts     int        `json:"pin_attempts"`
	WebAuthnEnabled bool       `json:"webauthn_enabled"`
	Credentials     int        `json:"credentials"`
	Remembered      bool       `json:"remembered"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	LastLoginMethod string     `json:"last_login_method,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func newAccountView(a *account.Account, credentials int) accountView {
	return accountView{
		ID:              a.ID,
		Username:        a.Username,
		Email:           a.Email,
		Status:          string(a.Status),
		State:           string(trust.StateOf(a)),
		PINEnabled:      a.PINEnabled,
		PINAttempts:     a.PINAttempts,
		WebAuthnEnabled: a.WebAuthnEnabled,
		Credentials:     credentials,
		Remembered:      a.RememberTokenHash != "",
		LastLoginAt:     a.LastLoginAt,
		LastLoginMethod: a.LastLoginMethod,
		CreatedAt:       a.CreatedAt,
	}
}

// PrintAccount prints an account and its trust state
func (p *Printer) PrintAccount(a *account.Account, credentials int) error {
	v := newAccountView(a, credentials)
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(v)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Account:     %s\n", v.ID)
		fmt.Fprintf(p.writer, "Username:    %s\n", v.Username)
		if v.Email != "" {
			fmt.Fprintf(p.writer, "Email:       %s\n", v.Email)
		}
		fmt.Fprintf(p.writer, "Status:      %s\n", v.Status)
		fmt.Fprintf(p.writer, "Trust state: %s\n", v.State)
		fmt.Fprintf(p.writer, "PIN:         %t (%d failed)\n", v.PINEnabled, v.PINAttempts)
		fmt.Fprintf(p.writer, "WebAuthn:    %t (%d credentials)\n", v.WebAuthnEnabled, v.Credentials)
		fmt.Fprintf(p.writer, "Remembered:  %t\n", v.Remembered)
		if v.LastLoginAt != nil {
			fmt.Fprintf(p.writer, "Last login:  %s via %s\n", v.LastLoginAt.Format(time.RFC3339), v.LastLoginMethod)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPurge prints the result of a rate limit purge
func (p *Printer) PrintPurge(deleted int64, maxAge time.Duration) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"deleted": deleted,
			"max_age": maxAge.String(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Deleted %d rate limit entries older than %s\n", deleted, maxAge)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintVersion prints build information
func (p *Printer) PrintVersion(v VersionInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(v)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "quickauth version %s\n", v.Version)
		fmt.Fprintf(p.writer, "Git commit: %s\n", v.Commit)
		fmt.Fprintf(p.writer, "Build date: %s\n", v.BuildDate)
		fmt.Fprintf(p.writer, "Go version: %s\n", v.GoVersion)
		fmt.Fprintf(p.writer, "OS/Arch: %s/%s\n", v.OS, v.Arch)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
