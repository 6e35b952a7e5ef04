//go:build cgo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/siteindex/internal/embeddings"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library used by the fastembed embeddings
provider. The library is installed to ~/.config/siteindex/lib/ unless
ONNX_PATH is set.

Examples:
  siteindexd init
  siteindexd init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	rt := embeddings.DefaultONNXRuntime(nil)
	if !forceDownload {
		if path := rt.LibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
	path, err := rt.Install(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to install ONNX runtime: %w", err)
	}
	cmd.Printf("Installed ONNX runtime to: %s\n", path)
	return nil
}
