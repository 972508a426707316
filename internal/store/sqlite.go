package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	h  handle
}

// handle abstracts *sql.DB and *sql.Tx so the same queries serve both the
// plain store and its transaction-bound view.
type handle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, h: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS firms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	address     TEXT NOT NULL,
	locality    TEXT,
	coordinates TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS listings (
	id          TEXT PRIMARY KEY,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL,
	firm_id     TEXT NOT NULL REFERENCES firms(id),
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS localities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	lat        REAL NOT NULL,
	lng        REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS visited_links (
	link       TEXT PRIMARY KEY,
	visited_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id       TEXT PRIMARY KEY,
	taken_at DATETIME NOT NULL DEFAULT (datetime('now')),
	snapshot TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_firms_locality ON firms(locality);
CREATE INDEX IF NOT EXISTS idx_listings_cat ON listings(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_checkpoints_taken_at ON checkpoints(taken_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.h.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx implements Store.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.h.(*sql.Tx); ok {
		return eris.New("sqlite: nested transaction")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(&SQLiteStore{db: s.db, h: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return eris.Wrapf(err, "sqlite: rollback also failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetFirmByName(ctx context.Context, name string) (*model.Firm, error) {
	row := s.h.QueryRowContext(ctx,
		`SELECT id, name, address, locality, coordinates, created_at FROM firms WHERE name = ?`,
		name,
	)
	firm, err := scanFirm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return firm, err
}

func (s *SQLiteStore) CreateFirm(ctx context.Context, firm *model.Firm) error {
	if firm.ID == "" {
		firm.ID = uuid.New().String()
	}
	firm.CreatedAt = time.Now().UTC()

	_, err := s.h.ExecContext(ctx,
		`INSERT INTO firms (id, name, address, locality, coordinates, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		firm.ID, firm.Name, firm.Address, firm.Locality, formatCoords(firm.Coordinates), firm.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert firm %q", firm.Name)
}

func (s *SQLiteStore) UpdateFirmGeo(ctx context.Context, firmID, locality string, coords *model.Coordinates) error {
	res, err := s.h.ExecContext(ctx,
		`UPDATE firms SET locality = ?, coordinates = ? WHERE id = ?`,
		locality, formatCoords(coords), firmID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update firm geo %s", firmID)
	}
	return checkRowsAffected(res, "firm", firmID)
}

func (s *SQLiteStore) UnresolvedFirms(ctx context.Context, limit int) ([]model.Firm, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.h.QueryContext(ctx,
		`SELECT id, name, address, locality, coordinates, created_at FROM firms
		 WHERE locality IS NULL ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unresolved firms")
	}
	defer rows.Close()

	var firms []model.Firm
	for rows.Next() {
		f, err := scanFirm(rows)
		if err != nil {
			return nil, err
		}
		firms = append(firms, *f)
	}
	return firms, eris.Wrap(rows.Err(), "sqlite: unresolved firms iterate")
}

func (s *SQLiteStore) CreateListing(ctx context.Context, listing *model.Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	listing.CreatedAt = time.Now().UTC()

	_, err := s.h.ExecContext(ctx,
		`INSERT INTO listings (id, category, subcategory, firm_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		listing.ID, listing.Category, listing.Subcategory, listing.FirmID, listing.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert listing for firm %s", listing.FirmID)
}

func (s *SQLiteStore) GetLocalityByName(ctx context.Context, name string) (*model.Locality, error) {
	row := s.h.QueryRowContext(ctx,
		`SELECT id, name, lat, lng, created_at FROM localities WHERE name = ?`,
		name,
	)
	var loc model.Locality
	err := row.Scan(&loc.ID, &loc.Name, &loc.Centroid.Lat, &loc.Centroid.Lng, &loc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get locality %q", name)
	}
	return &loc, nil
}

func (s *SQLiteStore) CreateLocality(ctx context.Context, loc *model.Locality) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	loc.CreatedAt = time.Now().UTC()

	_, err := s.h.ExecContext(ctx,
		`INSERT INTO localities (id, name, lat, lng, created_at) VALUES (?, ?, ?, ?, ?)`,
		loc.ID, loc.Name, loc.Centroid.Lat, loc.Centroid.Lng, loc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert locality %q", loc.Name)
}

func (s *SQLiteStore) RecordVisited(ctx context.Context, url string) error {
	_, err := s.h.ExecContext(ctx,
		`INSERT INTO visited_links (link, visited_at) VALUES (?, ?) ON CONFLICT(link) DO NOTHING`,
		url, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record visited %s", url)
}

func (s *SQLiteStore) VisitedLinks(ctx context.Context) ([]string, error) {
	rows, err := s.h.QueryContext(ctx, `SELECT link FROM visited_links`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list visited links")
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan visited link")
		}
		links = append(links, link)
	}
	return links, eris.Wrap(rows.Err(), "sqlite: visited links iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, snap ledger.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}
	_, err = s.h.ExecContext(ctx,
		`INSERT INTO checkpoints (id, taken_at, snapshot) VALUES (?, ?, ?)`,
		uuid.New().String(), time.Now().UTC(), string(snapJSON),
	)
	return eris.Wrap(err, "sqlite: insert checkpoint")
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := s.h.QueryRowContext(ctx,
		`SELECT id, taken_at, snapshot FROM checkpoints ORDER BY taken_at DESC LIMIT 1`,
	)
	var cp Checkpoint
	var snapJSON string
	err := row.Scan(&cp.ID, &cp.TakenAt, &snapJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest checkpoint")
	}
	if err := json.Unmarshal([]byte(snapJSON), &cp.Snapshot); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
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
		if err := s.h.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return &st, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFirm(row scannable) (*model.Firm, error) {
	var f model.Firm
	var coords *string

	err := row.Scan(&f.ID, &f.Name, &f.Address, &f.Locality, &coords, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan firm")
	}

	f.Coordinates, err = parseCoords(coords)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
