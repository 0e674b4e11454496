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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-quickauth/internal/config"
	"github.com/jeremyhahn/go-quickauth/internal/server"
	"github.com/jeremyhahn/go-quickauth/pkg/logging"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the service configuration file. Empty
	// means defaults plus environment overrides.
	ConfigFile string

	// OutputFormat controls output formatting (json, text)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
	}
}

// LoadServiceConfig loads the service configuration named by ConfigFile.
func (c *Config) LoadServiceConfig() (*config.Config, error) {
	printVerbose("loading configuration from %q", c.ConfigFile)
	return config.Load(c.ConfigFile)
}

// Logger builds the service logger. Administrative commands log to
// stderr so their output stays machine readable.
func (c *Config) Logger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logCfg := cfg.Logging
	if c.Verbose {
		logCfg.Level = "debug"
	}
	return logging.New(logCfg, w)
}

// withComponents loads the configuration, wires the backends and runs fn.
func withComponents(ctx context.Context, fn func(context.Context, *config.Config, *server.Components) error) error {
	cfg, err := getConfig().LoadServiceConfig()
	if err != nil {
		return err
	}
	logger, err := getConfig().Logger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendMemory {
		printVerbose("storage backend is memory, changes will not persist")
	}

	components, err := server.NewComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer func() { _ = components.Close() }()

	return fn(ctx, cfg, components)
}
