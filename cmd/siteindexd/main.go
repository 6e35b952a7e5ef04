// Siteindexd crawls tenant websites into a semantic index and answers
// similarity queries over it.
//
// Usage:
//
//	# Run the HTTP API (and the Temporal worker when enabled)
//	siteindexd serve
//
//	# Ingest a site once, in process
//	siteindexd ingest acme https://acme.example --max-pages 30
//
//	# Query a tenant's index
//	siteindexd search acme "what are your opening hours"
//
//	# Serve the MCP tools on stdio
//	siteindexd mcp
//
// Configuration is read from ~/.config/siteindex/config.yaml (or --config)
// and overridden by SITEINDEX_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "siteindexd",
	Short: "Website ingestion and semantic retrieval service",
	Long: `siteindexd crawls a tenant's website, chunks and embeds the text, and
keeps one searchable index per tenant. Re-ingesting a site replaces the
tenant's index in a single swap.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/siteindex/config.yaml)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("siteindexd %s (commit %s, built %s)\n", version, gitCommit, buildDate))
	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, mcpCmd)
}
