package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/siteindex/internal/ingest"
)

var maxPages int

var ingestCmd = &cobra.Command{
	Use:   "ingest <tenant> <base-url>",
	Short: "Crawl a site and replace the tenant's index",
	Long: `Crawl a site in process and replace the tenant's index with the result.

The existing index is kept when the crawl finds no usable pages. The run
summary is printed as JSON.

Examples:
  siteindexd ingest acme https://acme.example
  siteindexd ingest acme https://acme.example --max-pages 200`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit (default crawler.max_pages)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	job := ingest.Job{TenantID: args[0], BaseURL: args[1], MaxPages: maxPages}
	if job.MaxPages == 0 {
		job.MaxPages = cfg.Crawler.MaxPages
	}
	if err := job.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{ingest: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	res, runErr := a.ingest.Run(ctx, job)
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
	return runErr
}
