package main

import (
	"fmt"
	"os"

	"github.com/artpar/mergedash/config"
	"github.com/spf13/cobra"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func newValidateCmd() *cobra.Command {
	var checkAssets bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration before deployment",
		Long: `Validate the mergedash configuration file.

Checks:
  - YAML syntax is valid
  - Timing, logging and metrics settings are valid
  - Every page bundle loads from the deployment (optional)

Examples:
  mergedash validate
  mergedash validate --config /etc/mergedash/config.yaml --check-assets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, checkAssets)
		},
	}

	cmd.Flags().BoolVar(&checkAssets, "check-assets", false, "load every page bundle from the deployment")
	return cmd
}

func runValidate(cmd *cobra.Command, checkAssets bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	// Show config summary
	assetsDir := cfg.Assets.Dir
	if assetsDir == "" {
		assetsDir = "(bundled)"
	}
	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Assets: %s\n", checkMark, assetsDir)
	fmt.Fprintf(out, "  %s Timing: delay %s, timeout %s, %d overrides\n",
		checkMark, cfg.Timing.Delay, cfg.Timing.Timeout, len(cfg.Timing.Overrides))

	table, store, err := openPageTable(cfg)
	if err != nil {
		fmt.Fprintf(out, "  %s Page table\n", crossMark)
		return err
	}
	defer store.Stop()
	fmt.Fprintf(out, "  %s Page table: %d pages, assets %s\n", checkMark, len(table.IDs()), store.Version())

	// Optional: load every page
	if checkAssets {
		results := checkPages(cmd.Context(), table)
		for _, d := range table.Descriptors() {
			mark := checkMark
			if results[d.ID] != nil {
				mark = crossMark
			}
			fmt.Fprintf(out, "  %s Page %s: %s\n", mark, d.ID, status(results[d.ID]))
		}
		if failed := countFailed(results); failed > 0 {
			return fmt.Errorf("%d of %d pages failed to load", failed, len(results))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}
