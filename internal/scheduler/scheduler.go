// Package scheduler owns every network fetch: deduplication against the
// link ledger, per-host permits, and the bounded retry loop for transient
// failures. Continuations run extraction and persistence; their errors never
// re-trigger network retries.
package scheduler

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/fetch"
	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/limiter"
	"github.com/anatolia-labs/dizin/internal/resilience"
)

// ErrSkipped is returned when a fetch is dropped without error: either the
// URL was already queued, in flight, or completed, or every attempt timed
// out and the URL was abandoned. Callers aggregate real failures and treat
// ErrSkipped as a no-op.
var ErrSkipped = eris.New("scheduler: skipped")

// DefaultMaxAttempts bounds the transient retry loop.
const DefaultMaxAttempts = 5

// Continuation processes a downloaded response. Any sub-fetches it issues
// complete before the enclosing Fetch call returns.
type Continuation func(ctx context.Context, resp *fetch.Response) error

// VisitedRecorder persists the durable "this URL is done" fact.
type VisitedRecorder interface {
	RecordVisited(ctx context.Context, url string) error
}

// Scheduler coordinates the ledger, the per-host limiter, and the fetcher.
type Scheduler struct {
	base        *url.URL
	ledger      *ledger.Ledger
	hosts       *limiter.HostLimiter
	fetcher     fetch.Fetcher
	visited     VisitedRecorder
	maxAttempts int
	log         *zap.Logger
}

// New creates a Scheduler. baseURL anchors relative URLs from extracted
// links; visited may be nil when durability is not wanted (tests).
func New(baseURL string, led *ledger.Ledger, hosts *limiter.HostLimiter, f fetch.Fetcher, visited VisitedRecorder, maxAttempts int) (*Scheduler, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse base url %q", baseURL)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Scheduler{
		base:        base,
		ledger:      led,
		hosts:       hosts,
		fetcher:     f,
		visited:     visited,
		maxAttempts: maxAttempts,
		log:         zap.L().With(zap.String("component", "scheduler")),
	}, nil
}

// Ledger exposes the link ledger for diagnostics and checkpointing.
func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }

type options struct {
	dedupe      bool
	maxAttempts int
}

// Option adjusts a single Fetch call.
type Option func(*options)

// WithoutDedupe bypasses ledger deduplication. Geocode queries use this: the
// same textual query legitimately recurs for different firms.
func WithoutDedupe() Option {
	return func(o *options) { o.dedupe = false }
}

// WithMaxAttempts overrides the transient retry budget for one call.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Fetch resolves rawURL against the base URL, registers it in the ledger,
// downloads it under the host's permit with bounded retries on timeouts, and
// runs cont on the response. It returns ErrSkipped for duplicate submissions
// and for URLs abandoned after the attempt budget; fatal transport errors and
// continuation errors propagate.
func (s *Scheduler) Fetch(ctx context.Context, rawURL string, cont Continuation, opts ...Option) error {
	o := options{dedupe: true, maxAttempts: s.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "scheduler: parse url %q", rawURL)
	}
	abs := s.base.ResolveReference(ref)
	target := abs.String()
	host := abs.Hostname()
	// Logs and the visited-links table carry the sanitized form so geocoder
	// API keys never leave the process. The ledger keys on the real URL.
	safe := fetch.SanitizeURL(target)

	if !s.ledger.TryQueue(target, !o.dedupe) {
		s.log.Warn("url already queued for download", zap.String("url", safe))
		return ErrSkipped
	}
	s.log.Debug("queueing", zap.String("url", safe))

	resp, err := s.download(ctx, target, safe, host, o.maxAttempts)
	if err != nil {
		return err
	}
	if resp == nil {
		// Attempt budget exhausted; entry already abandoned.
		return ErrSkipped
	}

	if err := cont(ctx, resp); err != nil {
		// The response was obtained, so this is a data-layer failure, not a
		// fetch failure. Completed is not set; the URL stays retryable by a
		// future run. Recoverable persistence errors additionally release
		// the in-memory entry because their transaction was rolled back.
		if resilience.IsPersistence(err) {
			s.ledger.Release(target)
		}
		return err
	}

	s.ledger.MarkCompleted(target)
	if s.visited != nil {
		if err := s.visited.RecordVisited(ctx, safe); err != nil {
			s.log.Warn("record visited link failed", zap.String("url", safe), zap.Error(err))
		}
	}
	s.log.Debug("done", zap.String("url", safe))
	return nil
}

// download runs the attempt loop. A nil response with nil error means the
// URL was abandoned after maxAttempts timeouts.
func (s *Scheduler) download(ctx context.Context, target, safe, host string, maxAttempts int) (*fetch.Response, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		release, err := s.hosts.Acquire(ctx, host)
		if err != nil {
			s.ledger.Release(target)
			return nil, err
		}

		s.ledger.MarkInFlight(target)
		s.log.Debug("downloading", zap.String("url", safe), zap.Int("attempt", attempt))
		resp, err := s.fetcher.Fetch(ctx, target)
		release()

		if err == nil {
			return resp, nil
		}

		if !resilience.IsTransient(err) {
			// Fatal transport error. The entry stays queued, blocking
			// duplicate submissions for the rest of this run; the operator
			// report lists it so the crawl can be resumed.
			s.ledger.TryQueue(target, true)
			return nil, eris.Wrapf(err, "scheduler: fetch %s", safe)
		}

		s.ledger.MarkTimedOut(target)
		s.log.Warn("timed out, requeueing", zap.String("url", safe), zap.Int("attempt", attempt))
	}

	s.ledger.Abandon(target)
	s.log.Warn("abandoning after exhausted attempts",
		zap.String("url", safe),
		zap.Int("attempts", maxAttempts),
	)
	return nil, nil
}
