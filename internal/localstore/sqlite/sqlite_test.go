package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"salepoint/terminal/internal/domain"
	"salepoint/terminal/internal/localstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "terminal.db"), localstore.DefaultSchema())
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func product(id, barcode string) domain.Product {
	return domain.Product{ID: id, Name: "Item " + id, Barcode: barcode, Category: "misc", PriceCents: 100, Active: true}
}

func TestAddGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.Add(ctx, localstore.CollProducts, product("p1", "b1"))
	require.NoError(t, err)
	require.Equal(t, "p1", key)

	got, err := localstore.Get[domain.Product](ctx, s, localstore.CollProducts, "p1")
	require.NoError(t, err)
	require.Equal(t, "b1", got.Barcode)

	_, err = s.Get(ctx, localstore.CollProducts, "missing")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, localstore.CollProducts, product("p1", "b1"))
	require.NoError(t, err)

	_, err = s.Add(ctx, localstore.CollProducts, product("p1", "b2"))
	require.ErrorIs(t, err, localstore.ErrDuplicateKey)

	_, err = s.Add(ctx, localstore.CollProducts, product("p2", "b1"))
	require.ErrorIs(t, err, localstore.ErrDuplicateKey)

	// The rejected adds must not have landed.
	count, err := s.Count(ctx, localstore.CollProducts)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUpdateUpsertsAndReindexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, localstore.CollProducts, product("p1", "b1")))
	require.NoError(t, s.Update(ctx, localstore.CollProducts, product("p1", "b2")))

	got, err := localstore.GetByIndex[domain.Product](ctx, s, localstore.CollProducts, "barcode", "b2")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)

	_, err = s.GetByIndex(ctx, localstore.CollProducts, "barcode", "b1")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, localstore.CollProducts, product("p1", "b1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, localstore.CollProducts, "p1"))
	require.NoError(t, s.Delete(ctx, localstore.CollProducts, "p1"))

	_, err = s.GetByIndex(ctx, localstore.CollProducts, "barcode", "b1")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestGetAllByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tx := range []domain.Transaction{
		{ID: "tx-1", Status: domain.TxStatusCompleted},
		{ID: "tx-2", Status: domain.TxStatusSuspended},
		{ID: "tx-3", Status: domain.TxStatusCompleted},
	} {
		_, err := s.Add(ctx, localstore.CollTransactions, tx)
		require.NoError(t, err)
	}

	done, err := localstore.GetAllByIndex[domain.Transaction](ctx, s, localstore.CollTransactions, "status", domain.TxStatusCompleted)
	require.NoError(t, err)
	require.Len(t, done, 2)

	_, err = s.GetAllByIndex(ctx, localstore.CollTransactions, "nope", "v")
	require.ErrorIs(t, err, localstore.ErrUnknownIndex)
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.db")
	ctx := context.Background()

	s := New(path, localstore.DefaultSchema())
	require.NoError(t, s.Initialize(ctx))
	_, err := s.Add(ctx, localstore.CollProducts, product("p1", "b1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := New(path, localstore.DefaultSchema())
	require.NoError(t, reopened.Initialize(ctx))
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := localstore.GetByIndex[domain.Product](ctx, reopened, localstore.CollProducts, "barcode", "b1")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "terminal.db"), localstore.DefaultSchema())
	_, err := s.Get(context.Background(), localstore.CollProducts, "p1")
	require.ErrorIs(t, err, localstore.ErrClosed)
}
