package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/siteindex/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools on stdio",
	Long: `Serve site_search and site_status as MCP tools over stdin/stdout.

Logs go to stderr so stdout carries only the protocol stream. The tools
read the same index the HTTP API writes.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{stdio: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = a.logger.Named("mcp")
	mcpCfg.DefaultTopK = cfg.Retrieval.TopK
	mcpCfg.DefaultMinScore = cfg.Retrieval.MinSimilarity

	srv, err := mcp.NewServer(mcpCfg, a.retriever, a.writer)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "siteindexd mcp %s started on stdio\n", version)
	return srv.Run(ctx)
}
