package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mergedash",
		Short: "Merge request dashboard",
		Long: `mergedash serves a dashboard for merge requests.

Pages are loaded from the deployed asset bundle on first use. Slow pages
show a loading state, pages that never arrive show an error with a retry,
and a redeploy that removes a page bundle prompts the user to reload.

Quick start:
  mergedash serve      # Start the dashboard
  mergedash pages      # Show the page table
  mergedash validate   # Validate configuration`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "mergedash.yaml", "config file path")

	cmd.AddCommand(
		newServeCmd(),
		newPagesCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
