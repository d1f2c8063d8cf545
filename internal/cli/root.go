// Package cli implements the buildserver command-line interface using
// Cobra. Subcommands cover serving, queue inspection, and configuration.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "buildserver",
	Short: "buildserver — Build and deploy HTML simulations",
	Long: `buildserver is the simulation build and deploy orchestrator.
It accepts deploy requests over HTTP, builds each simulation from pinned
source shas, and publishes the result to the dev and production servers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
