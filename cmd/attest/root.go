package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"attest/api/internal/config"
)

var version = "dev"

var cfg config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "attest",
	Short: "Attest - requirement assessment server and client",
	Long: `Attest serves compliance assessments and edits them.

The serve and migrate commands run the API. The remaining commands talk to a
running API and apply edits optimistically: local state changes first and
updates are persisted in the background.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if token != "" {
			cfg.Token = token
		}
	},
}

var (
	serverURL string
	token     string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "attest %s\n", version)
	},
}

func init() {
	cfg = config.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default $ATTEST_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default $ATTEST_TOKEN)")

	rootCmd.AddCommand(versionCmd)
}
