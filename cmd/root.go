package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dizin",
	Short: "Business directory crawler with geocoding enrichment",
	Long:  "Crawls the turkeytr.net business directory, records firms and their category listings, and resolves firm addresses into normalized localities via the Google geocoding API.",
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
