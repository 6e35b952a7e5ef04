package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/siteindex/internal/retriever"
)

var (
	searchTopK int
	searchMin  float64
)

var searchCmd = &cobra.Command{
	Use:   "search <tenant> <query...>",
	Short: "Query a tenant's index",
	Long: `Embed the query and print the most similar passages from the tenant's
index as JSON. An empty list means nothing scored above the threshold.

Examples:
  siteindexd search acme "do you ship to Canada"
  siteindexd search acme refund policy -k 3 --min 0.5`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum results (default retrieval.top_k)")
	searchCmd.Flags().Float64Var(&searchMin, "min", 0, "minimum similarity (default retrieval.min_similarity)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	k := cfg.Retrieval.TopK
	if cmd.Flags().Changed("top-k") {
		k = searchTopK
	}
	minScore := cfg.Retrieval.MinSimilarity
	if cmd.Flags().Changed("min") {
		minScore = searchMin
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	results, err := a.retriever.FindSimilar(ctx, args[0], strings.Join(args[1:], " "), k, minScore)
	if err != nil {
		return err
	}
	if results == nil {
		results = []retriever.Result{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}
