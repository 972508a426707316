package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/checkpoint"
	"github.com/anatolia-labs/dizin/internal/crawl"
	"github.com/anatolia-labs/dizin/internal/diag"
	"github.com/anatolia-labs/dizin/internal/extract"
	"github.com/anatolia-labs/dizin/internal/ledger"
)

var (
	crawlResume bool
	crawlDiag   bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the directory and enrich newly discovered firms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCrawlEnv(ctx, crawlResume)
		if err != nil {
			return err
		}
		defer env.Close()

		log := zap.L().With(zap.String("command", "crawl"))

		// Periodic best-effort state saves, plus one final save on exit.
		cpCtx, cpStop := context.WithCancel(ctx)
		cpDone := make(chan struct{})
		runner := checkpoint.New(env.Store, env.Ledger, cfg.Checkpoint.Interval())
		go func() {
			defer close(cpDone)
			runner.Run(cpCtx)
		}()

		if crawlDiag {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Server.Port)
				if err := diag.Serve(ctx, addr, diag.NewRouter(env.Ledger, env.Store)); err != nil {
					log.Warn("diagnostics server stopped", zap.Error(err))
				}
			}()
		}

		expander := crawl.New(env.Sched, extract.NewDirectoryStrategy(), env.Store, env.Enricher, crawl.Config{
			PageBatchSize: cfg.Crawl.PageBatchSize,
			Denylist:      cfg.Crawl.Denylist,
		})

		runErr := expander.Run(ctx)

		cpStop()
		<-cpDone

		reportShutdown(log, env.Ledger.Snapshot())

		if runErr != nil {
			log.Error("crawl finished with failures", zap.Error(runErr))
			return runErr
		}
		log.Info("crawl complete")
		return nil
	},
}

// reportShutdown prints the operator summary: which URLs never completed, so
// a follow-up run knows what remains.
func reportShutdown(log *zap.Logger, snap ledger.Snapshot) {
	for state, n := range snap.Counts {
		log.Info("ledger state count", zap.String("state", string(state)), zap.Int("count", n))
	}
	if len(snap.TimedOut) > 0 {
		log.Warn("urls that timed out", zap.Strings("urls", snap.TimedOut))
	}
	if len(snap.Queued) > 0 {
		log.Warn("urls left unfinished", zap.Strings("urls", snap.Queued))
	}
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlResume, "resume", true, "preload previously visited links and skip them")
	crawlCmd.Flags().BoolVar(&crawlDiag, "diag", false, "serve diagnostics endpoints while crawling")
	rootCmd.AddCommand(crawlCmd)
}
