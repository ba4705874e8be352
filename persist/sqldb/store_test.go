package sqldb

import (
	"context"
	"testing"

	"github.com/btcsuite/descwallet/internal/sqltest"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/persisttest"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

// TestStore runs the store suite against every available SQL backend.
func TestStore(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T, driver string,
		dbFactory sqltest.DBFactory) {

		backend, err := BackendFromDriver(driver)
		require.NoError(t, err)

		persisttest.RunStoreTests(t, func(t *testing.T) persisttest.Opener {
			db := dbFactory(t)

			return func(*testing.T) persist.Store {
				return New(db, backend)
			}
		})
	})
}

// TestCorruptChangeSet checks that an undecodable row fails
// initialization.
func TestCorruptChangeSet(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T, driver string,
		dbFactory sqltest.DBFactory) {

		backend, err := BackendFromDriver(driver)
		require.NoError(t, err)

		ctx := context.Background()
		db := dbFactory(t)
		store := New(db, backend)

		_, err = store.Initialize(ctx)
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, insertChangeSetSQL, 1, []byte{0x03})
		require.NoError(t, err)

		_, err = store.Initialize(ctx)
		require.ErrorIs(t, err, wallet.ErrInvalidChangeSet)
	})
}

// TestBackendFromDriver checks the driver name mapping.
func TestBackendFromDriver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		driver  string
		backend Backend
		err     error
	}{
		{driver: "sqlite", backend: SQLite},
		{driver: "pgx", backend: Postgres},
		{driver: "postgres", backend: Postgres},
		{driver: "mysql", err: ErrUnknownBackend},
	}

	for _, test := range tests {
		backend, err := BackendFromDriver(test.driver)
		if test.err != nil {
			require.ErrorIs(t, err, test.err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, test.backend, backend)
	}
}

// TestOpenSQLite checks that Open owns the database it opens.
func TestOpenSQLite(t *testing.T) {
	t.Parallel()

	dsn := "file:" + t.TempDir() + "/wallet.sqlite?mode=rwc"
	store, err := Open("sqlite", dsn)
	require.NoError(t, err)

	cs, err := store.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, cs.IsNone())
	require.NoError(t, store.Close())

	_, err = Open("mysql", dsn)
	require.ErrorIs(t, err, ErrUnknownBackend)
}
