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
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/account"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.OutputFormat != "text" {
		t.Errorf("OutputFormat = %v, want text", cfg.OutputFormat)
	}
	if cfg.Verbose {
		t.Error("Verbose should be false by default")
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile should be empty by default, got %v", cfg.ConfigFile)
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"newline terminated", "hunter2hunter2\n", "hunter2hunter2", false},
		{"crlf", "hunter2hunter2\r\n", "hunter2hunter2", false},
		{"no newline", "hunter2hunter2", "hunter2hunter2", false},
		{"only first line", "first-line\nsecond-line\n", "first-line", false},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLine(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readLine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrinter_Account(t *testing.T) {
	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &account.Account{
		ID:                "acct-1",
		Username:          "alice",
		Email:             "alice@example.com",
		PasswordHash:      "$argon2id$secret",
		PINHash:           "$argon2id$pin",
		PINEnabled:        true,
		RememberTokenHash: "deadbeef",
		Status:            account.StatusActive,
		LastLoginAt:       &last,
		LastLoginMethod:   "pin",
	}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewPrinter("json", &buf).PrintAccount(a, 2); err != nil {
			t.Fatalf("PrintAccount() error = %v", err)
		}
		if strings.Contains(buf.String(), "argon2id") || strings.Contains(buf.String(), "deadbeef") {
			t.Fatalf("output leaks a secret: %s", buf.String())
		}

		var v accountView
		if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if v.State != "pin_enabled" {
			t.Errorf("State = %v, want pin_enabled", v.State)
		}
		if v.Credentials != 2 || !v.Remembered {
			t.Errorf("Credentials = %d, Remembered = %t", v.Credentials, v.Remembered)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewPrinter("text", &buf).PrintAccount(a, 0); err != nil {
			t.Fatalf("PrintAccount() error = %v", err)
		}
		for _, want := range []string{"alice", "pin_enabled", "2025-03-01T12:00:00Z via pin"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q:\n%s", want, buf.String())
			}
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := NewPrinter("yaml", &bytes.Buffer{}).PrintAccount(a, 0); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter("json", &buf).PrintError(errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"error": "boom"`) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

const testConfigYAML = `
webauthn:
  id: example.com
  display_name: Example
  origins: ["https://example.com"]
session:
  secret: "0123456789abcdef0123456789abcdef"
password:
  memory: 64
  time: 1
  threads: 1
  key_len: 32
  salt_len: 16
storage:
  backend: file
  path: %s
logging:
  level: error
metrics:
  enabled: false
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quickauth.yaml")
	yaml := strings.Replace(testConfigYAML, "%s", filepath.Join(dir, "data"), 1)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "-o", "json",
		"account", "create", "erin", "--email", "erin@example.com", "--password", "correct horse battery")
	if err != nil {
		t.Fatalf("account create: %v", err)
	}
	var created accountView
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("account create output: %v\n%s", err, out)
	}
	if created.Username != "erin" || created.ID == "" {
		t.Fatalf("unexpected account: %+v", created)
	}

	out, err = execute(t, "--config", cfgPath, "-o", "json", "account", "show", "ERIN@example.com")
	if err != nil {
		t.Fatalf("account show: %v", err)
	}
	var shown accountView
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("account show output: %v\n%s", err, out)
	}
	if shown.ID != created.ID || shown.State != "no_quick_access" {
		t.Errorf("unexpected account: %+v", shown)
	}

	out, err = execute(t, "--config", cfgPath, "-o", "text", "account", "reset", created.ID)
	if err != nil {
		t.Fatalf("account reset: %v", err)
	}
	if !strings.Contains(out, "Quick access reset for erin") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := execute(t, "--config", cfgPath, "account", "show", "nobody"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("show unknown: err = %v, want ErrNotFound", err)
	}

	out, err = execute(t, "--config", cfgPath, "-o", "text", "ratelimit", "purge", "--max-age", "1h")
	if err != nil {
		t.Fatalf("ratelimit purge: %v", err)
	}
	if !strings.Contains(out, "Deleted 0 rate limit entries older than 1h0m0s") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var v VersionInfo
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if v.Version != Version || v.GoVersion == "" {
		t.Errorf("unexpected version info: %+v", v)
	}
}
