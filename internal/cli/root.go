// Package cli implements the parleyd command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/paths"
)

// parleyDir is the global --parley-dir flag value.
var parleyDir string

var rootCmd = &cobra.Command{
	Use:   "parleyd",
	Short: "Coding agent chat daemon",
	Long:  "parleyd mediates between clients and coding-agent CLI sessions, persisting chat history and streaming events over WebSocket.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Propagate --parley-dir through the environment so every path
		// helper picks up the override.
		if parleyDir != "" {
			if err := os.Setenv(paths.EnvParleyDir, parleyDir); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&parleyDir, "parley-dir", "", "base directory for parley data (overrides ~/.parley)")
}

func Execute() error {
	return rootCmd.Execute()
}
