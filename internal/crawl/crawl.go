// Package crawl expands the directory site recursively: landing page to
// categories, categories to paginated listings, listings to subcategories,
// and finally to the firm entries on each leaf page. Every fan-out level
// uses the same partial-failure isolation: sibling failures are deferred and
// aggregated, never aborting the rest of the branch.
package crawl

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/extract"
	"github.com/anatolia-labs/dizin/internal/fetch"
	"github.com/anatolia-labs/dizin/internal/model"
	"github.com/anatolia-labs/dizin/internal/resilience"
	"github.com/anatolia-labs/dizin/internal/scheduler"
	"github.com/anatolia-labs/dizin/internal/store"
)

// Enricher geocodes newly discovered firms.
type Enricher interface {
	Enrich(ctx context.Context, firm *model.Firm) error
}

// Config controls Expander behavior.
type Config struct {
	// PageBatchSize bounds how many pagination pages run concurrently
	// within one category or subcategory.
	PageBatchSize int

	// Denylist excludes non-informative category paths by substring match.
	Denylist []string
}

// Expander walks the crawl stages, submitting child fetches back to the
// scheduler.
type Expander struct {
	sched    *scheduler.Scheduler
	strat    extract.Strategy
	store    store.Store
	enricher Enricher
	cfg      Config
	log      *zap.Logger
}

// New creates an Expander.
func New(sched *scheduler.Scheduler, strat extract.Strategy, st store.Store, enricher Enricher, cfg Config) *Expander {
	if cfg.PageBatchSize <= 0 {
		cfg.PageBatchSize = 2
	}
	return &Expander{
		sched:    sched,
		strat:    strat,
		store:    st,
		enricher: enricher,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "crawl")),
	}
}

// Run crawls the whole site starting from the landing page.
func (x *Expander) Run(ctx context.Context) error {
	err := x.sched.Fetch(ctx, "/", x.site)
	if errors.Is(err, scheduler.ErrSkipped) {
		return nil
	}
	return err
}

// site extracts the top-level category links and fans out one fetch per
// category, skipping denylisted paths.
func (x *Expander) site(ctx context.Context, resp *fetch.Response) error {
	links, err := x.strat.CategoryLinks(resp.Body)
	if err != nil {
		return err
	}

	var keep []string
	for _, link := range links {
		if x.denied(link) {
			x.log.Debug("category denylisted", zap.String("url", link))
			continue
		}
		keep = append(keep, link)
	}

	errs := runBatches(ctx, keep, 0, func(ctx context.Context, link string) error {
		return x.sched.Fetch(ctx, link, x.category)
	})
	return aggregate("site", resp.EffectiveURL, errs)
}

func (x *Expander) denied(link string) bool {
	for _, pattern := range x.cfg.Denylist {
		if strings.Contains(link, pattern) {
			return true
		}
	}
	return false
}

// category treats the fetched page as listing page 1, discovers further
// pages from the pagination control, and processes them in bounded batches.
func (x *Expander) category(ctx context.Context, resp *fetch.Response) error {
	title, err := x.strat.Title(resp.Body)
	if err != nil {
		return err
	}
	br := newBranch(x.log, "category", title)
	br.advance(branchFetched)

	var errs []error

	// This page doubles as pager page 1.
	if err := x.categoryPage(ctx, resp, title); err != nil && !errors.Is(err, scheduler.ErrSkipped) {
		errs = append(errs, err)
	}

	pages, err := x.pagerPages(resp, categoryPageURL)
	if err != nil {
		errs = append(errs, err)
	}
	br.advance(branchExpanded)

	errs = append(errs, runBatches(ctx, pages, x.cfg.PageBatchSize, func(ctx context.Context, pageURL string) error {
		return x.sched.Fetch(ctx, pageURL, func(ctx context.Context, r *fetch.Response) error {
			return x.categoryPage(ctx, r, title)
		})
	})...)

	return br.finish(errs)
}

// categoryPage extracts subcategory links from one category listing page and
// fans out one fetch per subcategory.
func (x *Expander) categoryPage(ctx context.Context, resp *fetch.Response, mainCat string) error {
	links, err := x.strat.SubcategoryLinks(resp.Body)
	if err != nil {
		return err
	}

	errs := runBatches(ctx, links, 0, func(ctx context.Context, link string) error {
		return x.sched.Fetch(ctx, link, func(ctx context.Context, r *fetch.Response) error {
			return x.subcategory(ctx, r, mainCat)
		})
	})

	if len(errs) == 0 {
		x.log.Info("category page done", zap.String("category", mainCat), zap.String("url", resp.EffectiveURL))
	}
	return aggregate("category page", resp.EffectiveURL, errs)
}

// subcategory mirrors category: page 1 plus discovered pagination pages in
// bounded batches.
func (x *Expander) subcategory(ctx context.Context, resp *fetch.Response, mainCat string) error {
	title, err := x.strat.Title(resp.Body)
	if err != nil {
		return err
	}
	br := newBranch(x.log, "subcategory", mainCat+">"+title)
	br.advance(branchFetched)

	var errs []error

	if err := x.subcategoryPage(ctx, resp, mainCat, title); err != nil && !errors.Is(err, scheduler.ErrSkipped) {
		errs = append(errs, err)
	}

	pages, err := x.pagerPages(resp, subcategoryPageURL)
	if err != nil {
		errs = append(errs, err)
	}
	br.advance(branchExpanded)

	errs = append(errs, runBatches(ctx, pages, x.cfg.PageBatchSize, func(ctx context.Context, pageURL string) error {
		return x.sched.Fetch(ctx, pageURL, func(ctx context.Context, r *fetch.Response) error {
			return x.subcategoryPage(ctx, r, mainCat, title)
		})
	})...)

	return br.finish(errs)
}

// subcategoryPage is the leaf stage: extract firm listings, create unseen
// firms (submitting each to enrichment exactly once), and record an address
// listing for every occurrence. Malformed items are logged and skipped.
func (x *Expander) subcategoryPage(ctx context.Context, resp *fetch.Response, mainCat, subCat string) error {
	items, err := x.strat.Listings(resp.Body)
	if err != nil {
		return err
	}

	var errs []error
	for _, item := range items {
		if item.Err != nil {
			x.log.Warn("listing decode failed, skipping",
				zap.String("url", resp.EffectiveURL),
				zap.Error(item.Err),
			)
			continue
		}
		if item.Listing.Name == "" {
			continue
		}
		if err := x.recordListing(ctx, item.Listing, mainCat, subCat); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		x.log.Info("listing page done",
			zap.String("category", mainCat),
			zap.String("subcategory", subCat),
			zap.String("url", resp.EffectiveURL),
		)
	}
	return aggregate("listing page", resp.EffectiveURL, errs)
}

// listingWriteAttempts bounds the retry loop for listing transactions that
// lose a firm-creation race.
const listingWriteAttempts = 3

// recordListing persists one listing occurrence and, for firms seen for the
// first time, runs enrichment. Existing firms are never re-geocoded.
//
// The same new firm legitimately appears on concurrent sibling pages; both
// transactions may pass the lookup and race on the insert. The loser's
// transaction is rolled back whole, so it is re-run from the lookup, which
// now finds the winner's committed row and records the listing against it.
func (x *Expander) recordListing(ctx context.Context, item extract.Listing, mainCat, subCat string) error {
	var firm *model.Firm
	created := false

	persist := func() error {
		created = false
		return store.Scoped(ctx, x.store, false, func(st store.Store) error {
			var err error
			firm, err = st.GetFirmByName(ctx, item.Name)
			if err != nil {
				return err
			}
			if firm == nil {
				firm = &model.Firm{Name: item.Name, Address: item.Address}
				if err := st.CreateFirm(ctx, firm); err != nil {
					return err
				}
				created = true
			}
			return st.CreateListing(ctx, &model.Listing{
				Category:    mainCat,
				Subcategory: subCat,
				FirmID:      firm.ID,
			})
		})
	}

	err := persist()
	for attempt := 1; err != nil && attempt < listingWriteAttempts && resilience.IsPersistence(err); attempt++ {
		x.log.Debug("listing write conflicted, retrying",
			zap.String("firm", item.Name),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		err = persist()
	}
	if err != nil {
		return err
	}

	if created && x.enricher != nil {
		if err := x.enricher.Enrich(ctx, firm); err != nil && !errors.Is(err, scheduler.ErrSkipped) {
			return err
		}
	}
	return nil
}

// pagerPages reads the pagination control and derives the URLs of pages
// 2..max with the stage's templating rule.
func (x *Expander) pagerPages(resp *fetch.Response, template func(string, int) string) ([]string, error) {
	maxPage, err := x.strat.MaxPage(resp.Body)
	if err != nil {
		return nil, err
	}
	var pages []string
	for n := 2; n <= maxPage; n++ {
		pages = append(pages, template(resp.EffectiveURL, n))
	}
	return pages, nil
}
