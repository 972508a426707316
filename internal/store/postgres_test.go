package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolia-labs/dizin/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &PostgresStore{pool: pool, q: pool}, pool
}

func firmColumns() []string {
	return []string{"id", "name", "address", "locality", "coordinates", "created_at"}
}

func TestPGGetFirmByName(t *testing.T) {
	st, pool := newMockStore(t)

	loc := "Turkey, Ankara"
	coords := "39.900000 32.800000"
	pool.ExpectQuery(`SELECT id, name, address, locality, coordinates, created_at FROM firms WHERE name = \$1`).
		WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows(firmColumns()).
			AddRow("id-1", "Acme", "addr", &loc, &coords, time.Now()))

	firm, err := st.GetFirmByName(context.Background(), "Acme")
	require.NoError(t, err)
	require.NotNil(t, firm)
	assert.Equal(t, "id-1", firm.ID)
	require.NotNil(t, firm.Locality)
	assert.Equal(t, loc, *firm.Locality)
	require.NotNil(t, firm.Coordinates)
	assert.InDelta(t, 39.9, firm.Coordinates.Lat, 1e-6)

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGGetFirmByNameMissing(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectQuery(`SELECT id, name, address, locality, coordinates, created_at FROM firms`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	firm, err := st.GetFirmByName(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, firm)

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGCreateFirm(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectExec(`INSERT INTO firms`).
		WithArgs(pgxmock.AnyArg(), "Acme", "addr", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	firm := &model.Firm{Name: "Acme", Address: "addr"}
	require.NoError(t, st.CreateFirm(context.Background(), firm))
	assert.NotEmpty(t, firm.ID, "id assigned on insert")

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGUpdateFirmGeoNotFound(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectExec(`UPDATE firms SET locality`).
		WithArgs("Turkey, Ankara", pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateFirmGeo(context.Background(), "missing-id", "Turkey, Ankara", nil)
	assert.Error(t, err)

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGUnresolvedFirms(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectQuery(`SELECT id, name, address, locality, coordinates, created_at FROM firms\s+WHERE locality IS NULL`).
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows(firmColumns()).
			AddRow("id-1", "A", "a", (*string)(nil), (*string)(nil), time.Now()).
			AddRow("id-2", "B", "b", (*string)(nil), (*string)(nil), time.Now()))

	firms, err := st.UnresolvedFirms(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, firms, 2)
	assert.Equal(t, "A", firms[0].Name)
	assert.Nil(t, firms[0].Locality)

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGRecordVisited(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectExec(`INSERT INTO visited_links`).
		WithArgs("http://dir.test/a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.RecordVisited(context.Background(), "http://dir.test/a"))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGWithTxCommit(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectBegin()
	pool.ExpectExec(`INSERT INTO localities`).
		WithArgs(pgxmock.AnyArg(), "Turkey, Ankara", 39.9, 32.8, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx Store) error {
		return tx.CreateLocality(context.Background(), &model.Locality{
			Name:     "Turkey, Ankara",
			Centroid: model.Coordinates{Lat: 39.9, Lng: 32.8},
		})
	})
	require.NoError(t, err)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGWithTxRollback(t *testing.T) {
	st, pool := newMockStore(t)

	pool.ExpectBegin()
	pool.ExpectRollback()

	boom := errors.New("boom")
	err := st.WithTx(context.Background(), func(Store) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPGStats(t *testing.T) {
	st, pool := newMockStore(t)

	for _, c := range []struct {
		table string
		count int
	}{
		{"firms", 5},
		{"listings", 7},
		{"localities", 2},
		{"visited_links", 11},
	} {
		pool.ExpectQuery(`SELECT COUNT\(\*\) FROM ` + c.table).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(c.count))
	}

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{Firms: 5, Listings: 7, Localities: 2, Visited: 11}, stats)
	require.NoError(t, pool.ExpectationsWereMet())
}
