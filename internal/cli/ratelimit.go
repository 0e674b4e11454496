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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quickauth/internal/config"
	"github.com/jeremyhahn/go-quickauth/internal/server"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Maintain rate limit state",
}

var ratelimitPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired rate limit events and blocks",
	Long: `Delete sliding-window events older than --max-age and blocks that
have expired. Only the postgres store keeps history; the memory and redis
stores expire entries on their own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		return withComponents(cmd.Context(), func(ctx context.Context, cfg *config.Config, c *server.Components) error {
			if cfg.RateLimit.Backend != config.BackendPostgres {
				printVerbose("rate limit backend %s expires events itself", cfg.RateLimit.Backend)
			}
			if maxAge <= 0 {
				maxAge = cfg.RateLimit.Policies.MaxWindow()
			}
			n, err := c.PurgeRateLimitEvents(ctx, maxAge)
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintPurge(n, maxAge)
		})
	},
}

func init() {
	ratelimitPurgeCmd.Flags().Duration("max-age", 0, "age beyond which events are deleted (default: longest policy window)")
	ratelimitCmd.AddCommand(ratelimitPurgeCmd)
}

