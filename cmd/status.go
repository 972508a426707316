package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anatolia-labs/dizin/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored row counts and the latest crawl checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		cp, err := st.LatestCheckpoint(ctx)
		if err != nil {
			return err
		}

		out := struct {
			Stats      *store.Stats      `yaml:"stats"`
			Checkpoint *store.Checkpoint `yaml:"checkpoint,omitempty"`
		}{Stats: stats, Checkpoint: cp}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
