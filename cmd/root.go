package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geo-cli",
	Short: "Places search and contact enrichment pipeline",
	Long:  "Searches the Places API for a list of keywords in a city, deduplicates the results, optionally enriches them with registry contact data, then stores and exports them.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
