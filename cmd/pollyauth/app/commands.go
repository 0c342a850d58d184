// Package app provides the entry point for the pollyauth command-line
// application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/navikt/polly-sub000/pkg/crypto"
	"github.com/navikt/polly-sub000/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "pollyauth",
	DisableAutoGenTag: true,
	Short:             "OIDC login and session service",
	Long: `pollyauth handles browser login against an OIDC identity provider and
manages the resulting sessions: it drives the authorization-code flow with
PKCE, stores encrypted refresh credentials, and authenticates incoming
requests from either a session cookie or a bearer token.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

var generateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Generate a new session encryption key",
	Long: `Generate a random 256-bit key, base64 encoded, suitable for the
encryption_key setting. Rotating the key invalidates all active sessions.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

// NewRootCmd creates the root command for the pollyauth CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateKeyCmd)

	return rootCmd
}
