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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quickauth/internal/server"
)

// serveCmd runs the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication server",
	Long: `Run the HTTP authentication server until SIGINT or SIGTERM.

The server drains in-flight requests for up to server.shutdown_timeout
before closing its storage, redis and AMQP connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig().LoadServiceConfig()
		if err != nil {
			return err
		}
		logger, err := getConfig().Logger(cfg, os.Stdout)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := server.SetupSignalHandler()
		defer stop()

		logger.Info("starting quickauth server",
			slog.String("version", Version),
			slog.String("address", cfg.Server.Addr()),
			slog.String("storage", cfg.Storage.Backend),
			slog.String("ratelimit", cfg.RateLimit.Backend),
			slog.String("challenges", cfg.Challenge.Backend))

		srv, err := server.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}
