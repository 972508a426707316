package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/enrich"
	"github.com/anatolia-labs/dizin/internal/fetch"
	"github.com/anatolia-labs/dizin/internal/geocode"
	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/limiter"
	"github.com/anatolia-labs/dizin/internal/scheduler"
	"github.com/anatolia-labs/dizin/internal/store"
)

// crawlEnv bundles the wired dependencies shared by the crawl and geocode
// commands.
type crawlEnv struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Sched    *scheduler.Scheduler
	Enricher *enrich.Enricher
}

func (e *crawlEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// openStore opens and migrates the configured backend.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initCrawlEnv wires store, ledger, limiter, fetcher, scheduler, and
// enricher. With resume set, previously visited links are preloaded into the
// ledger so a restarted crawl skips work already done.
func initCrawlEnv(ctx context.Context, resume bool) (*crawlEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	led := ledger.New()
	if resume {
		visited, err := st.VisitedLinks(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
		led.Preload(visited)
		zap.L().Info("resuming, visited links preloaded", zap.Int("count", len(visited)))
	}

	hosts, err := limiter.New(cfg.Hosts)
	if err != nil {
		st.Close()
		return nil, err
	}

	fetcher := fetch.NewHTTP(cfg.Fetch.Timeout())
	sched, err := scheduler.New(cfg.BaseURL, led, hosts, fetcher, st, cfg.Fetch.MaxAttempts)
	if err != nil {
		st.Close()
		return nil, err
	}

	geoClient := geocode.NewClient(cfg.Geocode.APIKey,
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithLanguage(cfg.Geocode.Language),
		geocode.WithRateLimit(cfg.Geocode.RPS),
	)
	enricher := enrich.New(sched, geoClient, st, cfg.Geocode.Country)

	return &crawlEnv{
		Store:    st,
		Ledger:   led,
		Sched:    sched,
		Enricher: enricher,
	}, nil
}
