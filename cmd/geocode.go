package main

import (
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anatolia-labs/dizin/internal/model"
)

var (
	geocodeChunk       int
	geocodeConcurrency int
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Backfill geocoding for firms without a resolved locality",
	Long: `Loads firms whose locality is still unresolved in chunks and runs the
enrichment flow for each. Firms the geocoder cannot place are marked with a
terminal unknown marker and are not retried on later runs.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCrawlEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("command", "geocode"))

		var total int64
		for {
			firms, err := env.Store.UnresolvedFirms(ctx, geocodeChunk)
			if err != nil {
				return err
			}
			if len(firms) == 0 {
				break
			}

			var resolved atomic.Int64
			g := new(errgroup.Group)
			g.SetLimit(geocodeConcurrency)
			for i := range firms {
				firm := firms[i]
				g.Go(func() error {
					if err := env.Enricher.Enrich(ctx, &firm); err != nil {
						log.Warn("enrichment failed",
							zap.String("firm", firm.Name),
							zap.Error(err),
						)
						return nil
					}
					if firm.Locality != nil && *firm.Locality != model.LocalityUnknown {
						resolved.Add(1)
					}
					return nil
				})
			}
			_ = g.Wait()

			if ctx.Err() != nil {
				break
			}

			// Every firm in the chunk got a terminal outcome or failed; a
			// failed firm stays unresolved and would come straight back, so
			// stop when a full pass makes no progress.
			total += resolved.Load()
			log.Info("chunk done",
				zap.Int("size", len(firms)),
				zap.Int64("resolved", resolved.Load()),
			)
			if resolved.Load() == 0 {
				log.Warn("no progress in last chunk, stopping")
				break
			}
		}

		log.Info("backfill done", zap.Int64("resolved", total))
		return nil
	},
}

func init() {
	geocodeCmd.Flags().IntVar(&geocodeChunk, "chunk", 100, "firms loaded per pass")
	geocodeCmd.Flags().IntVar(&geocodeConcurrency, "concurrency", 4, "concurrent enrichments")
	rootCmd.AddCommand(geocodeCmd)
}
