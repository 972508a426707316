// Package checkpoint periodically persists the link ledger's snapshot so an
// interrupted crawl can be inspected and resumed.
package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/store"
)

// Runner saves a ledger snapshot on a fixed cadence. Saves are best effort:
// a failed save is logged and suppressed, never interrupting the crawl.
type Runner struct {
	store    store.Store
	led      *ledger.Ledger
	interval time.Duration
	log      *zap.Logger
}

// DefaultInterval is the cadence used when config supplies none.
const DefaultInterval = 30 * time.Second

// New creates a Runner. Non-positive intervals fall back to DefaultInterval
// so a zero config value cannot take down the ticker.
func New(st store.Store, led *ledger.Ledger, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		store:    st,
		led:      led,
		interval: interval,
		log:      zap.L().With(zap.String("component", "checkpoint")),
	}
}

// Run saves checkpoints until ctx is canceled, then writes one final
// snapshot. The final save uses a fresh short-lived context because the
// loop's context is already done.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.Save(final)
			cancel()
			return
		case <-ticker.C:
			r.Save(ctx)
		}
	}
}

// Save persists one snapshot, suppressing persistence failures.
func (r *Runner) Save(ctx context.Context) {
	snap := r.led.Snapshot()
	_ = store.Scoped(ctx, r.store, true, func(st store.Store) error {
		return st.SaveCheckpoint(ctx, snap)
	})
	r.log.Debug("checkpoint saved",
		zap.Int("queued", len(snap.Queued)),
		zap.Int("timed_out", len(snap.TimedOut)),
	)
}
