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

package config

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// TLSConfig controls HTTPS on the listener.
type TLSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	MinVersion   string   `yaml:"min_version"` // TLS1.2, TLS1.3
	CipherSuites []string `yaml:"cipher_suites"`
}

// Load builds a tls.Config, or returns nil when TLS is disabled.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	minVersion, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion defaults to TLS 1.2
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}
	if len(c.CipherSuites) > 0 {
		if cfg.CipherSuites, err = parseCipherSuites(c.CipherSuites); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parseTLSVersion(version string) (uint16, error) {
	switch strings.ToUpper(version) {
	case "", "TLS1.2":
		return tls.VersionTLS12, nil
	case "TLS1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min_version: %s (must be TLS1.2 or TLS1.3)", version)
	}
}

// parseCipherSuites resolves names against the suites crypto/tls
// considers secure.
func parseCipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite: %s", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
