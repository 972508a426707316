package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	q    querier
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, q: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS firms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	address     TEXT NOT NULL,
	locality    TEXT,
	coordinates TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS listings (
	id          TEXT PRIMARY KEY,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL,
	firm_id     TEXT NOT NULL REFERENCES firms(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS localities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	lat        DOUBLE PRECISION NOT NULL,
	lng        DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS visited_links (
	link       TEXT PRIMARY KEY,
	visited_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id       TEXT PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	snapshot TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_firms_locality ON firms(locality);
CREATE INDEX IF NOT EXISTS idx_listings_cat ON listings(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_checkpoints_taken_at ON checkpoints(taken_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// WithTx implements Store.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return eris.New("postgres: nested transaction")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	if err := fn(&PostgresStore{pool: s.pool, q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return eris.Wrapf(err, "postgres: rollback also failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) GetFirmByName(ctx context.Context, name string) (*model.Firm, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, address, locality, coordinates, created_at FROM firms WHERE name = $1`,
		name,
	)
	firm, err := scanFirmPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return firm, err
}

func (s *PostgresStore) CreateFirm(ctx context.Context, firm *model.Firm) error {
	if firm.ID == "" {
		firm.ID = uuid.New().String()
	}
	firm.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx,
		`INSERT INTO firms (id, name, address, locality, coordinates, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		firm.ID, firm.Name, firm.Address, firm.Locality, formatCoords(firm.Coordinates), firm.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert firm %q", firm.Name)
}

func (s *PostgresStore) UpdateFirmGeo(ctx context.Context, firmID, locality string, coords *model.Coordinates) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE firms SET locality = $1, coordinates = $2 WHERE id = $3`,
		locality, formatCoords(coords), firmID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update firm geo %s", firmID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("firm not found: %s", firmID)
	}
	return nil
}

func (s *PostgresStore) UnresolvedFirms(ctx context.Context, limit int) ([]model.Firm, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, name, address, locality, coordinates, created_at FROM firms
		 WHERE locality IS NULL ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unresolved firms")
	}
	defer rows.Close()

	var firms []model.Firm
	for rows.Next() {
		f, err := scanFirmPG(rows)
		if err != nil {
			return nil, err
		}
		firms = append(firms, *f)
	}
	return firms, eris.Wrap(rows.Err(), "postgres: unresolved firms iterate")
}

func (s *PostgresStore) CreateListing(ctx context.Context, listing *model.Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	listing.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx,
		`INSERT INTO listings (id, category, subcategory, firm_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		listing.ID, listing.Category, listing.Subcategory, listing.FirmID, listing.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert listing for firm %s", listing.FirmID)
}

func (s *PostgresStore) GetLocalityByName(ctx context.Context, name string) (*model.Locality, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, name, lat, lng, created_at FROM localities WHERE name = $1`,
		name,
	)
	var loc model.Locality
	err := row.Scan(&loc.ID, &loc.Name, &loc.Centroid.Lat, &loc.Centroid.Lng, &loc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get locality %q", name)
	}
	return &loc, nil
}

func (s *PostgresStore) CreateLocality(ctx context.Context, loc *model.Locality) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	loc.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx,
		`INSERT INTO localities (id, name, lat, lng, created_at) VALUES ($1, $2, $3, $4, $5)`,
		loc.ID, loc.Name, loc.Centroid.Lat, loc.Centroid.Lng, loc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert locality %q", loc.Name)
}

func (s *PostgresStore) RecordVisited(ctx context.Context, url string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO visited_links (link, visited_at) VALUES ($1, $2) ON CONFLICT (link) DO NOTHING`,
		url, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record visited %s", url)
}

func (s *PostgresStore) VisitedLinks(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT link FROM visited_links`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list visited links")
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, eris.Wrap(err, "postgres: scan visited link")
		}
		links = append(links, link)
	}
	return links, eris.Wrap(rows.Err(), "postgres: visited links iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, snap ledger.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO checkpoints (id, taken_at, snapshot) VALUES ($1, $2, $3)`,
		uuid.New().String(), time.Now().UTC(), string(snapJSON),
	)
	return eris.Wrap(err, "postgres: insert checkpoint")
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, taken_at, snapshot FROM checkpoints ORDER BY taken_at DESC LIMIT 1`,
	)
	var cp Checkpoint
	var snapJSON string
	err := row.Scan(&cp.ID, &cp.TakenAt, &snapJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get latest checkpoint")
	}
	if err := json.Unmarshal([]byte(snapJSON), &cp.Snapshot); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	for _, q := range []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM firms`, &st.Firms},
		{`SELECT COUNT(*) FROM listings`, &st.Listings},
		{`SELECT COUNT(*) FROM localities`, &st.Localities},
		{`SELECT COUNT(*) FROM visited_links`, &st.Visited},
	} {
		if err := s.q.QueryRow(ctx, q.query).Scan(q.dst); err != nil {
			return nil, eris.Wrap(err, "postgres: stats")
		}
	}
	return &st, nil
}

func scanFirmPG(row pgx.Row) (*model.Firm, error) {
	var f model.Firm
	var coords *string

	err := row.Scan(&f.ID, &f.Name, &f.Address, &f.Locality, &coords, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan firm")
	}

	f.Coordinates, err = parseCoords(coords)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
