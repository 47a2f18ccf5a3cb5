package main

import (
	"fmt"
	"os"

	"github.com/artpar/mergedash/bootstrap"
	"github.com/artpar/mergedash/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var hotReload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long: `Start the mergedash server.

The server will:
  - Load configuration from mergedash.yaml (or --config)
  - Or load configuration from MERGEDASH_* environment variables
  - Serve pages from assets.dir, or the bundled pages when unset
  - Reload page timing and the log level when the config file changes

Environment variables:
  MERGEDASH_SERVER_PORT      - Server port (default: 8080)
  MERGEDASH_ASSETS_DIR       - Deployed page bundles
  MERGEDASH_TIMING_DELAY     - Delay before a loading state (default: 200ms)
  MERGEDASH_TIMING_TIMEOUT   - Time before a page load fails (default: 30s)
  MERGEDASH_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  mergedash serve
  mergedash serve --config /etc/mergedash/config.yaml
  mergedash serve --hot-reload=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, hotReload)
		},
	}

	cmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
	return cmd
}

func runServe(cmd *cobra.Command, hotReload bool) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var a *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with config file
		a, err = bootstrap.NewWithHotReload(cfgFile, bootstrap.Options{})
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		if !hasConfigFile {
			fmt.Fprintln(cmd.ErrOrStderr(), "Running with environment variables (no config file)")
		}
		a, err = bootstrap.New(cfg, bootstrap.Options{})
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return a.Run()
}
