package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/model"
	"github.com/anatolia-labs/dizin/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestFirmRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	loc := "Turkey, İstanbul, Üsküdar"
	firm := &model.Firm{
		Name:        "Üsküdar Makina",
		Address:     "Çamlıca Mah. No:12",
		Locality:    &loc,
		Coordinates: &model.Coordinates{Lat: 41.02, Lng: 29.01},
	}
	require.NoError(t, st.CreateFirm(ctx, firm))
	assert.NotEmpty(t, firm.ID)

	got, err := st.GetFirmByName(ctx, "Üsküdar Makina")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, firm.ID, got.ID)
	assert.Equal(t, firm.Address, got.Address)
	require.NotNil(t, got.Locality)
	assert.Equal(t, loc, *got.Locality)
	require.NotNil(t, got.Coordinates)
	assert.InDelta(t, 41.02, got.Coordinates.Lat, 1e-6)
	assert.InDelta(t, 29.01, got.Coordinates.Lng, 1e-6)
}

func TestGetFirmByNameMissing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetFirmByName(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got, "missing firm is (nil, nil), not an error")
}

func TestFirmNameUnique(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateFirm(ctx, &model.Firm{Name: "Acme", Address: "a"}))
	err := st.CreateFirm(ctx, &model.Firm{Name: "Acme", Address: "b"})
	assert.Error(t, err)
}

func TestUpdateFirmGeo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	firm := &model.Firm{Name: "Acme", Address: "a"}
	require.NoError(t, st.CreateFirm(ctx, firm))

	coords := &model.Coordinates{Lat: 39.9, Lng: 32.8}
	require.NoError(t, st.UpdateFirmGeo(ctx, firm.ID, "Turkey, Ankara", coords))

	got, err := st.GetFirmByName(ctx, "Acme")
	require.NoError(t, err)
	require.NotNil(t, got.Locality)
	assert.Equal(t, "Turkey, Ankara", *got.Locality)
	require.NotNil(t, got.Coordinates)
	assert.InDelta(t, 39.9, got.Coordinates.Lat, 1e-6)

	assert.Error(t, st.UpdateFirmGeo(ctx, "no-such-id", "x", nil))
}

func TestUnresolvedFirms(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := &model.Firm{Name: "A", Address: "a"}
	b := &model.Firm{Name: "B", Address: "b"}
	require.NoError(t, st.CreateFirm(ctx, a))
	require.NoError(t, st.CreateFirm(ctx, b))
	require.NoError(t, st.UpdateFirmGeo(ctx, a.ID, "Turkey, Ankara", nil))

	firms, err := st.UnresolvedFirms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, firms, 1)
	assert.Equal(t, "B", firms[0].Name)

	// The unknown marker also counts as resolved.
	require.NoError(t, st.UpdateFirmGeo(ctx, b.ID, model.LocalityUnknown, nil))
	firms, err = st.UnresolvedFirms(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, firms)
}

func TestListings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	firm := &model.Firm{Name: "Acme", Address: "a"}
	require.NoError(t, st.CreateFirm(ctx, firm))
	require.NoError(t, st.CreateListing(ctx, &model.Listing{
		Category: "Machinery", Subcategory: "Pumps", FirmID: firm.ID,
	}))
	require.NoError(t, st.CreateListing(ctx, &model.Listing{
		Category: "Machinery", Subcategory: "Valves", FirmID: firm.ID,
	}))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Listings)
}

func TestLocalities(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.GetLocalityByName(ctx, "Turkey, Ankara")
	require.NoError(t, err)
	assert.Nil(t, got)

	loc := &model.Locality{Name: "Turkey, Ankara", Centroid: model.Coordinates{Lat: 39.9, Lng: 32.8}}
	require.NoError(t, st.CreateLocality(ctx, loc))

	got, err = st.GetLocalityByName(ctx, "Turkey, Ankara")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, got.ID)
	assert.InDelta(t, 39.9, got.Centroid.Lat, 1e-6)
}

func TestVisitedLinksIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordVisited(ctx, "http://dir.test/a"))
	require.NoError(t, st.RecordVisited(ctx, "http://dir.test/a"))
	require.NoError(t, st.RecordVisited(ctx, "http://dir.test/b"))

	links, err := st.VisitedLinks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://dir.test/a", "http://dir.test/b"}, links)
}

func TestCheckpoints(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cp, err := st.LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp, "no checkpoint yet is (nil, nil)")

	snap := ledger.Snapshot{
		Counts:   map[ledger.State]int{ledger.StateCompleted: 3, ledger.StateQueued: 1},
		Queued:   []string{"http://dir.test/left"},
		TimedOut: []string{"http://dir.test/slow"},
	}
	require.NoError(t, st.SaveCheckpoint(ctx, snap))

	cp, err = st.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, snap.Queued, cp.Snapshot.Queued)
	assert.Equal(t, snap.TimedOut, cp.Snapshot.TimedOut)
	assert.Equal(t, 3, cp.Snapshot.Counts[ledger.StateCompleted])
}

func TestWithTxCommit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx Store) error {
		firm := &model.Firm{Name: "Acme", Address: "a"}
		if err := tx.CreateFirm(ctx, firm); err != nil {
			return err
		}
		return tx.CreateListing(ctx, &model.Listing{Category: "c", Subcategory: "s", FirmID: firm.ID})
	})
	require.NoError(t, err)

	got, err := st.GetFirmByName(ctx, "Acme")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestWithTxRollback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateFirm(ctx, &model.Firm{Name: "Ghost", Address: "a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := st.GetFirmByName(ctx, "Ghost")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back write must not be visible")
}

func TestWithTxNestingRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx Store) error {
		return tx.WithTx(ctx, func(Store) error { return nil })
	})
	assert.Error(t, err)
}

func TestScoped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := Scoped(ctx, st, false, func(Store) error { return boom })
	require.Error(t, err)
	assert.True(t, resilience.IsPersistence(err), "in-line failures surface as persistence errors")

	err = Scoped(ctx, st, true, func(Store) error { return boom })
	assert.NoError(t, err, "suppressed mode swallows the failure")

	err = Scoped(ctx, st, false, func(Store) error { return nil })
	assert.NoError(t, err)
}

func TestParseCoords(t *testing.T) {
	c, err := parseCoords(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	s := "41.02 29.01"
	c, err = parseCoords(&s)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.InDelta(t, 41.02, c.Lat, 1e-9)
	assert.InDelta(t, 29.01, c.Lng, 1e-9)

	bad := "not coords"
	_, err = parseCoords(&bad)
	assert.Error(t, err)

	round := formatCoords(&model.Coordinates{Lat: 1.5, Lng: -2.25})
	require.NotNil(t, round)
	c, err = parseCoords(round)
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Lat)
	assert.Equal(t, -2.25, c.Lng)
}
