package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/artpar/mergedash/adapters/assets"
	"github.com/artpar/mergedash/app"
	"github.com/artpar/mergedash/config"
	"github.com/artpar/mergedash/domain/page"
	"github.com/artpar/mergedash/domain/staleasset"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newPagesCmd() *cobra.Command {
	var check, asJSON bool

	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Show the page table",
		Long: `Show every page of the dashboard with its path and timing.

With --check each page bundle is loaded from the configured deployment,
which finds pages a redeploy left without a bundle.

Examples:
  mergedash pages
  mergedash pages --check
  mergedash pages --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFallback(cfgFile)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			table, store, err := openPageTable(cfg)
			if err != nil {
				return err
			}
			defer store.Stop()

			var results map[page.ID]error
			if check {
				results = checkPages(cmd.Context(), table)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writePagesJSON(out, table, results, check)
			}
			writePagesTable(out, table, results, check)

			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d of %d pages failed to load", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "load every page bundle")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// openPageTable builds the page table over the configured deployment.
func openPageTable(cfg *config.Config) (*app.PageTable, *assets.Store, error) {
	logger := zerolog.Nop()

	var store *assets.Store
	var err error
	if cfg.Assets.Dir != "" {
		store, err = assets.OpenDir(cfg.Assets.Dir, logger)
	} else {
		store, err = assets.OpenBundled(logger)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open assets: %w", err)
	}

	tableCfg := app.PageTableConfig{
		Defaults:  cfg.Timing.Policy(),
		Overrides: cfg.Timing.PolicyOverrides(),
	}
	if _, err := app.ResolvePolicies(app.Pages, tableCfg); err != nil {
		store.Stop()
		return nil, nil, err
	}
	return app.NewPageTable(app.Pages, store, tableCfg, logger), store, nil
}

// checkPages runs every page loader once, bounded by the page timeout.
func checkPages(ctx context.Context, table *app.PageTable) map[page.ID]error {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make(map[page.ID]error)
	for _, d := range table.Descriptors() {
		loadCtx, cancel := context.WithTimeout(ctx, d.Policy.Timeout)
		_, err := d.Loader(loadCtx)
		cancel()
		results[d.ID] = err
	}
	return results
}

func countFailed(results map[page.ID]error) int {
	n := 0
	for _, err := range results {
		if err != nil {
			n++
		}
	}
	return n
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	if sig, ok := staleasset.Classify(err.Error()); ok {
		return "stale (" + sig + ")"
	}
	return "error: " + err.Error()
}

func writePagesTable(out io.Writer, table *app.PageTable, results map[page.ID]error, check bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if check {
		fmt.Fprintln(w, "ID\tPATH\tTITLE\tDELAY\tTIMEOUT\tSTATUS")
		fmt.Fprintln(w, "--\t----\t-----\t-----\t-------\t------")
	} else {
		fmt.Fprintln(w, "ID\tPATH\tTITLE\tDELAY\tTIMEOUT")
		fmt.Fprintln(w, "--\t----\t-----\t-----\t-------")
	}

	for _, d := range table.Descriptors() {
		if check {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.ID, d.Path, d.Title, d.Policy.Delay, d.Policy.Timeout, status(results[d.ID]))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Path, d.Title, d.Policy.Delay, d.Policy.Timeout)
	}

	w.Flush()
}

type pageJSON struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	DelayMS   int64  `json:"delay_ms"`
	TimeoutMS int64  `json:"timeout_ms"`
	Status    string `json:"status,omitempty"`
}

func writePagesJSON(out io.Writer, table *app.PageTable, results map[page.ID]error, check bool) error {
	descs := table.Descriptors()
	list := make([]pageJSON, 0, len(descs))
	for _, d := range descs {
		p := pageJSON{
			ID:        string(d.ID),
			Path:      d.Path,
			Title:     d.Title,
			DelayMS:   d.Policy.Delay.Milliseconds(),
			TimeoutMS: d.Policy.Timeout.Milliseconds(),
		}
		if check {
			p.Status = status(results[d.ID])
		}
		list = append(list, p)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		return err
	}
	if failed := countFailed(results); failed > 0 {
		return fmt.Errorf("%d of %d pages failed to load", failed, len(results))
	}
	return nil
}
