package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:   "authsession",
		Short: "Session service for the blog platform",
		Long: `authsession signs readers in with an external identity provider,
completes first time registrations and keeps refresh sessions alive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "env files to load before reading the environment")

	rootCmd.AddCommand(
		serveCmd(&envFiles),
		migrateCmd(&envFiles),
		revokeCmd(&envFiles),
		purgeCmd(&envFiles),
		configCmd(&envFiles),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version, commit)
		},
	}
}
