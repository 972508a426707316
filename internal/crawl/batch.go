package crawl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anatolia-labs/dizin/internal/scheduler"
)

// runBatches submits items through submit in fixed-size batches, bounding
// the number of simultaneously pending child tasks. Failures inside a batch
// are deferred so later batches still run; ErrSkipped submissions are
// no-ops. The collected failures come back for aggregation by the caller.
func runBatches(ctx context.Context, items []string, size int, submit func(ctx context.Context, item string) error) []error {
	if size <= 0 {
		size = len(items)
	}

	var mu sync.Mutex
	var failures []error

	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}

		g := new(errgroup.Group)
		for _, item := range items[start:end] {
			g.Go(func() error {
				if err := submit(ctx, item); err != nil && !errors.Is(err, scheduler.ErrSkipped) {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return failures
}

// aggregate folds deferred sibling failures into one error for the branch,
// or nil when everything succeeded.
func aggregate(stage, name string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return eris.Errorf("crawl: %s %q: %d failed: %s", stage, name, len(errs), strings.Join(msgs, "; "))
}

var (
	categoryPageRe    = regexp.MustCompile(`/([^/]*)\.htm$`)
	subcategoryPageRe = regexp.MustCompile(`\.html$`)
)

// categoryPageURL derives the URL of page n of a category from the page-1
// URL: /widgets.htm becomes /widgets/widgets_pg-2.html.
func categoryPageURL(pageOne string, n int) string {
	return categoryPageRe.ReplaceAllString(pageOne, fmt.Sprintf("/$1/${1}_pg-%d.html", n))
}

// subcategoryPageURL derives page n of a subcategory: /gears.html becomes
// /gears_page-2.html.
func subcategoryPageURL(pageOne string, n int) string {
	return subcategoryPageRe.ReplaceAllString(pageOne, fmt.Sprintf("_page-%d.html", n))
}

// branchState tracks one crawl branch through its lifecycle. Retries live in
// the scheduler; a branch only moves forward.
type branchState int

const (
	branchDiscovered branchState = iota
	branchFetched
	branchExpanded
	branchDone
	branchDoneWithErrors
)

func (s branchState) String() string {
	switch s {
	case branchDiscovered:
		return "discovered"
	case branchFetched:
		return "fetched"
	case branchExpanded:
		return "expanded"
	case branchDone:
		return "done"
	case branchDoneWithErrors:
		return "done-with-errors"
	default:
		return "unknown"
	}
}

type branch struct {
	stage string
	name  string
	state branchState
	log   *zap.Logger
}

func newBranch(log *zap.Logger, stage, name string) *branch {
	return &branch{stage: stage, name: name, state: branchDiscovered, log: log}
}

func (b *branch) advance(s branchState) {
	b.state = s
	b.log.Debug("branch state",
		zap.String("stage", b.stage),
		zap.String("name", b.name),
		zap.String("state", s.String()),
	)
}

// finish moves the branch to its terminal state and returns the aggregated
// error, if any.
func (b *branch) finish(errs []error) error {
	if len(errs) == 0 {
		b.advance(branchDone)
		b.log.Info("branch done", zap.String("stage", b.stage), zap.String("name", b.name))
		return nil
	}
	b.advance(branchDoneWithErrors)
	return aggregate(b.stage, b.name, errs)
}
