// Package enrich resolves a firm's raw postal address into a normalized
// locality and centroid coordinates via the geocoding service.
package enrich

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/fetch"
	"github.com/anatolia-labs/dizin/internal/geocode"
	"github.com/anatolia-labs/dizin/internal/model"
	"github.com/anatolia-labs/dizin/internal/scheduler"
	"github.com/anatolia-labs/dizin/internal/store"
)

// Enricher runs the two-query geocoding flow: resolve the raw address, then
// canonicalize the resulting toponym. Geocode fetches bypass ledger dedup
// because the same textual query legitimately recurs for different firms.
type Enricher struct {
	sched   *scheduler.Scheduler
	geo     *geocode.Client
	store   store.Store
	country string
	log     *zap.Logger
}

// New creates an Enricher. country is the qualifier appended on the single
// fallback query when the raw address yields no results.
func New(sched *scheduler.Scheduler, geo *geocode.Client, st store.Store, country string) *Enricher {
	return &Enricher{
		sched:   sched,
		geo:     geo,
		store:   st,
		country: country,
		log:     zap.L().With(zap.String("component", "enrich")),
	}
}

// Enrich resolves firm's address and persists the outcome. Geocoder domain
// outcomes (no match, non-OK status) are terminal data results, not errors;
// only transport and persistence failures return an error.
func (e *Enricher) Enrich(ctx context.Context, firm *model.Firm) error {
	return e.query(ctx, firm, firm.Address, true)
}

// query issues one geocode fetch for address. allowFallback permits exactly
// one retry with the country qualifier appended; the fallback query itself
// never falls back again.
func (e *Enricher) query(ctx context.Context, firm *model.Firm, address string, allowFallback bool) error {
	if err := e.geo.Wait(ctx); err != nil {
		return err
	}
	return e.sched.Fetch(ctx, e.geo.QueryURL(address), func(ctx context.Context, resp *fetch.Response) error {
		gr, err := geocode.Parse(resp.Body)
		if err != nil {
			return err
		}

		if gr.Status == geocode.StatusZeroResults {
			if allowFallback && !strings.Contains(address, e.country) {
				fallback := address + " , " + e.country
				e.log.Info("no results, retrying with country qualifier",
					zap.String("firm", firm.Name),
					zap.String("address", fallback),
				)
				return e.query(ctx, firm, fallback, false)
			}
			return e.markUnknown(ctx, firm, gr.Status)
		}

		if gr.Status != geocode.StatusOK || len(gr.Results) == 0 {
			return e.markUnknown(ctx, firm, gr.Status)
		}

		best := gr.Results[0]
		centroid := best.Centroid()
		preliminary := geocode.Toponym(best.AddressComponents, false)
		if preliminary == "" {
			return e.markUnknown(ctx, firm, "no locality components")
		}
		return e.normalize(ctx, firm, preliminary, best.AddressComponents, centroid)
	}, scheduler.WithoutDedupe())
}

// normalize issues the second geocode query on the preliminary toponym and
// persists the normalized locality (the second response's components joined
// in reverse order) plus the firm's centroid, inside one transaction scope.
func (e *Enricher) normalize(ctx context.Context, firm *model.Firm, preliminary string, firstComponents []geocode.Component, centroid model.Coordinates) error {
	if err := e.geo.Wait(ctx); err != nil {
		return err
	}
	return e.sched.Fetch(ctx, e.geo.QueryURL(preliminary), func(ctx context.Context, resp *fetch.Response) error {
		gr, err := geocode.Parse(resp.Body)
		if err != nil {
			return err
		}

		// When the canonical lookup misses, the first query's components
		// still name the place; reverse those instead of giving up.
		normalized := ""
		locCentroid := centroid
		if gr.Status == geocode.StatusOK && len(gr.Results) > 0 {
			normalized = geocode.Toponym(gr.Results[0].AddressComponents, true)
			locCentroid = gr.Results[0].Centroid()
		}
		if normalized == "" {
			normalized = geocode.Toponym(firstComponents, true)
		}

		return store.Scoped(ctx, e.store, false, func(st store.Store) error {
			loc, err := st.GetLocalityByName(ctx, normalized)
			if err != nil {
				return err
			}
			if loc == nil {
				if err := st.CreateLocality(ctx, &model.Locality{Name: normalized, Centroid: locCentroid}); err != nil {
					return err
				}
			}
			firm.Locality = &normalized
			firm.Coordinates = &centroid
			return st.UpdateFirmGeo(ctx, firm.ID, normalized, &centroid)
		})
	}, scheduler.WithoutDedupe())
}

// markUnknown records the terminal unresolved outcome for this firm; it is
// never re-queried automatically.
func (e *Enricher) markUnknown(ctx context.Context, firm *model.Firm, reason string) error {
	e.log.Warn("geocoding unresolved",
		zap.String("firm", firm.Name),
		zap.String("address", firm.Address),
		zap.String("reason", reason),
	)
	return store.Scoped(ctx, e.store, false, func(st store.Store) error {
		unknown := model.LocalityUnknown
		firm.Locality = &unknown
		return st.UpdateFirmGeo(ctx, firm.ID, unknown, firm.Coordinates)
	})
}
