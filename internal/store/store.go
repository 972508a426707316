// Package store persists firms, listings, localities, visited links, and
// crawl checkpoints. Two backends exist: SQLite (default, single file) and
// Postgres. All writes that belong together run inside an explicit scoped
// transaction; see Scoped.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/model"
	"github.com/anatolia-labs/dizin/internal/resilience"
)

// Stats summarizes stored row counts for the status command.
type Stats struct {
	Firms      int `yaml:"firms" json:"firms"`
	Listings   int `yaml:"listings" json:"listings"`
	Localities int `yaml:"localities" json:"localities"`
	Visited    int `yaml:"visited" json:"visited"`
}

// Checkpoint is a persisted ledger snapshot.
type Checkpoint struct {
	ID       string          `yaml:"id" json:"id"`
	TakenAt  time.Time       `yaml:"taken_at" json:"taken_at"`
	Snapshot ledger.Snapshot `yaml:"snapshot" json:"snapshot"`
}

// Store is the persistence contract shared by the crawl expander and the
// enrichment pipeline. Lookups return (nil, nil) when nothing matches.
type Store interface {
	GetFirmByName(ctx context.Context, name string) (*model.Firm, error)
	CreateFirm(ctx context.Context, firm *model.Firm) error
	UpdateFirmGeo(ctx context.Context, firmID, locality string, coords *model.Coordinates) error
	UnresolvedFirms(ctx context.Context, limit int) ([]model.Firm, error)

	CreateListing(ctx context.Context, listing *model.Listing) error

	GetLocalityByName(ctx context.Context, name string) (*model.Locality, error)
	CreateLocality(ctx context.Context, loc *model.Locality) error

	RecordVisited(ctx context.Context, url string) error
	VisitedLinks(ctx context.Context) ([]string, error)

	SaveCheckpoint(ctx context.Context, snap ledger.Snapshot) error
	LatestCheckpoint(ctx context.Context) (*Checkpoint, error)

	Stats(ctx context.Context) (*Stats, error)

	// WithTx runs fn against a transaction-bound view of the store,
	// committing on success and rolling back on error. Nesting is not
	// supported.
	WithTx(ctx context.Context, fn func(Store) error) error

	Migrate(ctx context.Context) error
	Close() error
}

// Scoped is the single transaction-wrapping discipline of the repository:
// it runs fn inside a transaction scope and, on failure, rolls back and
// either re-raises the error as a recoverable persistence failure (in-line
// writes, so the caller's batch aggregation records it) or suppresses it
// with a log line (best-effort checkpoint saves, which must never crash the
// crawl).
func Scoped(ctx context.Context, s Store, suppress bool, fn func(Store) error) error {
	err := s.WithTx(ctx, fn)
	if err == nil {
		return nil
	}
	if suppress {
		zap.L().Warn("suppressed persistence failure", zap.Error(err))
		return nil
	}
	return resilience.NewPersistenceError(err)
}

// formatCoords renders coordinates in the "lat lng" column format.
func formatCoords(c *model.Coordinates) *string {
	if c == nil {
		return nil
	}
	s := c.String()
	return &s
}

// parseCoords reads the "lat lng" column format; empty input yields nil.
func parseCoords(s *string) (*model.Coordinates, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var c model.Coordinates
	if _, err := fmt.Sscanf(strings.TrimSpace(*s), "%f %f", &c.Lat, &c.Lng); err != nil {
		return nil, eris.Wrapf(err, "store: malformed coordinates %q", *s)
	}
	return &c, nil
}
