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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-quickauth/internal/config"
	"github.com/jeremyhahn/go-quickauth/internal/server"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/auth"
	"github.com/jeremyhahn/go-quickauth/pkg/trust"
)

// cliSubject is the rate limit subject for administrative commands.
const cliSubject = "cli"

// accountCmd represents the account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
	Long: `Commands for managing accounts directly against the configured
storage backend. The memory backend does not persist between runs.`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account with a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		pass, err := readPassword(cmd)
		if err != nil {
			return err
		}

		return withComponents(cmd.Context(), func(ctx context.Context, _ *config.Config, c *server.Components) error {
			a, err := c.Service.Register(ctx, auth.RegisterRequest{
				Username: args[0],
				Email:    email,
				Password: pass,
				IP:       cliSubject,
			})
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintAccount(a, 0)
		})
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <username|email|id>",
	Short: "Show account trust state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, _ *config.Config, c *server.Components) error {
			a, err := lookupAccount(ctx, c.Accounts, args[0])
			if err != nil {
				return err
			}
			creds, err := c.Credentials.ListByAccount(ctx, a.ID)
			if err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintAccount(a, len(creds))
		})
	},
}

var accountResetCmd = &cobra.Command{
	Use:   "reset <username|email|id>",
	Short: "Reset quick access for an account",
	Long: `Clear the PIN, remember token and WebAuthn credentials of an account.
The account holder must sign in with their password again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withComponents(cmd.Context(), func(ctx context.Context, _ *config.Config, c *server.Components) error {
			a, err := lookupAccount(ctx, c.Accounts, args[0])
			if err != nil {
				return err
			}
			if err := c.Service.ResetSecurity(ctx, a.ID, reason); err != nil {
				return err
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).
				PrintSuccess(fmt.Sprintf("Quick access reset for %s (%s)", a.Username, a.ID))
		})
	},
}

func init() {
	accountCreateCmd.Flags().String("email", "", "email address")
	accountCreateCmd.Flags().String("password", "", "password (prefer --password-stdin)")
	accountCreateCmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	accountResetCmd.Flags().String("reason", trust.ReasonAdministrative, "reason recorded with the reset")

	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountResetCmd)
}

func readPassword(cmd *cobra.Command) (string, error) {
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	if !fromStdin {
		pass, _ := cmd.Flags().GetString("password")
		if pass == "" {
			return "", errors.New("a password is required (--password or --password-stdin)")
		}
		return pass, nil
	}
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

// lookupAccount resolves a username or email, falling back to an ID.
func lookupAccount(ctx context.Context, repo account.AccountRepository, key string) (*account.Account, error) {
	a, err := repo.LoadByLogin(ctx, key)
	if errors.Is(err, account.ErrNotFound) {
		a, err = repo.Load(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", key, err)
	}
	return a, nil
}
