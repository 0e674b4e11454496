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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalConfig holds the persistent flags shared by every subcommand.
var globalConfig = NewConfig()

var rootCmd = &cobra.Command{
	Use:   "quickauth",
	Short: "Progressive authentication service",
	Long: `quickauth authenticates accounts by password, then lets trusted
devices step down to a remember token, a PIN or a platform authenticator.
Trust tiers are tracked per account, sliding-window rate limits guard
every ceremony, and any suspicious failure clears quick access.

Storage backends:
  - memory:   in-process, lost on restart
  - file:     JSON documents under a data directory
  - postgres: PostgreSQL via pgx`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalConfig.ConfigFile, "config", "",
		"YAML config file; QUICKAUTH_* environment variables override it")
	flags.StringVarP(&globalConfig.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&globalConfig.Verbose, "verbose", "v", false,
		"debug logging and progress messages on stderr")

	rootCmd.AddCommand(serveCmd, accountCmd, ratelimitCmd, versionCmd)
}

// Execute runs the CLI and exits non-zero after printing any error in
// the selected output format.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_ = NewPrinter(globalConfig.OutputFormat, os.Stderr).PrintError(err)
		os.Exit(1)
	}
}

func getConfig() *Config {
	return globalConfig
}

func printVerbose(format string, args ...interface{}) {
	if !globalConfig.Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "quickauth: "+format+"\n", args...)
}
