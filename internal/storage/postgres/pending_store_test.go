package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

func newMockStore(t *testing.T) (*PendingStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewPendingStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewPendingStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPendingStoreWithPool(mock, "bad;name")
	require.Error(t, err)
	_, err = NewPendingStoreWithPool(nil, "")
	require.Error(t, err)
}

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	entry := crawler.PendingEntry{Key: "a.example|0000000001|0000000000000001", CanonicalKey: "http://a.example/", Value: []byte(`{}`)}
	mock.ExpectExec("INSERT INTO frontier_pending").
		WithArgs(entry.Key, entry.CanonicalKey, entry.Value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT canonical_key, payload FROM frontier_pending").
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{"canonical_key", "payload"}).AddRow("http://a/", []byte(`{"uri":"http://a/"}`)))
	mock.ExpectQuery("SELECT canonical_key, payload FROM frontier_pending").
		WithArgs("k2").
		WillReturnRows(pgxmock.NewRows([]string{"canonical_key", "payload"}))

	got, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, "http://a/", got.CanonicalKey)
	require.Equal(t, "k1", got.Key)

	_, err = store.Get(context.Background(), "k2")
	require.ErrorIs(t, err, crawler.ErrPendingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReportsMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM frontier_pending WHERE holder_key").
		WithArgs("k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM frontier_pending WHERE holder_key").
		WithArgs("k2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Delete(context.Background(), "k1"))
	require.ErrorIs(t, store.Delete(context.Background(), "k2"), crawler.ErrPendingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorIteratesRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"holder_key", "canonical_key", "payload"}).
		AddRow("a|1", "http://a/1", []byte(`1`)).
		AddRow("a|2", "http://a/2", []byte(`2`))
	mock.ExpectQuery(`(?s)SELECT holder_key, canonical_key, payload FROM frontier_pending.*ORDER BY holder_key COLLATE "C"`).
		WithArgs("a|").
		WillReturnRows(rows)

	cur, err := store.Cursor(context.Background(), "a|")
	require.NoError(t, err)
	var keys []string
	for cur.Next(context.Background()) {
		keys = append(keys, cur.Entry().CanonicalKey)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())
	require.Equal(t, []string{"http://a/1", "http://a/2"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupUsesIndex(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`(?s)SELECT holder_key FROM frontier_pending.*ORDER BY holder_key COLLATE "C"\s+LIMIT 1`).
		WithArgs("http://a/1", "a|").
		WillReturnRows(pgxmock.NewRows([]string{"holder_key"}).AddRow("a|1"))
	mock.ExpectQuery(`(?s)SELECT holder_key FROM frontier_pending.*ORDER BY holder_key COLLATE "C"\s+LIMIT 1`).
		WithArgs("http://a/9", "a|").
		WillReturnRows(pgxmock.NewRows([]string{"holder_key"}))
	mock.ExpectQuery(`(?s)SELECT holder_key FROM frontier_pending.*ORDER BY holder_key COLLATE "C"\s+LIMIT 1`).
		WithArgs("http://a/x", "a|").
		WillReturnError(errors.New("connection reset"))

	holder, found, err := store.Lookup(context.Background(), "http://a/1", "a|")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a|1", holder)

	_, found, err = store.Lookup(context.Background(), "http://a/9", "a|")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = store.Lookup(context.Background(), "http://a/x", "a|")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndReset(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS frontier_pending").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("DELETE FROM frontier_pending").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Reset(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingStoreSatisfiesInterfaces(t *testing.T) {
	t.Parallel()

	var _ crawler.PendingStore = (*PendingStore)(nil)
	var _ crawler.PendingLookup = (*PendingStore)(nil)
}
