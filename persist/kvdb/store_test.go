package kvdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/persisttest"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

const (
	testXpub = "[c258d2e4/84h/1h/0h]tpubDDYkZojQFQjht8Tm4jsS3iuEmKjTiEGjG" +
		"6KnuFNKKJb5A6ZUCUZKdvLdSDWofKi4ToRCwb9poe1XdqfUnP4jaJjCB2Zwv1" +
		"1ZLgSbnZSNecE"

	testExternal = "wpkh(" + testXpub + "/0/*)"
	testInternal = "wpkh(" + testXpub + "/1/*)"
)

// TestStore runs the store suite against a bbolt database in a temporary
// directory that is reopened by every Opener call.
func TestStore(t *testing.T) {
	t.Parallel()

	persisttest.RunStoreTests(t, func(t *testing.T) persisttest.Opener {
		dir := t.TempDir()

		return func(t *testing.T) persist.Store {
			store, err := Open(dir, time.Second)
			require.NoError(t, err)
			return store
		}
	})
}

// TestOpenCreatesDir checks that Open creates missing directories and
// reopens an existing database.
func TestOpenCreatesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "wallet")

	store, err := Open(dir, time.Second)
	require.NoError(t, err)
	_, err = store.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = os.Stat(filepath.Join(dir, DBName))
	require.NoError(t, err)

	store, err = Open(dir, time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

// TestCorruptChangeSet checks that an undecodable record fails
// initialization.
func TestCorruptChangeSet(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), DBName)
	db, err := walletdb.Create(dbDriver, dbPath, true, time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	store := New(db)
	_, err = store.Initialize(context.Background())
	require.NoError(t, err)

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(changeSetBucket)
		return bucket.Put([]byte{0, 0, 0, 0, 0, 0, 0, 1}, []byte{0x03})
	})
	require.NoError(t, err)

	_, err = store.Initialize(context.Background())
	require.ErrorIs(t, err, wallet.ErrInvalidChangeSet)

	// The database stays open after closing a store that does not own
	// it.
	require.NoError(t, store.Close())
	require.NoError(t, walletdb.View(db, func(tx walletdb.ReadTx) error {
		require.NotNil(t, tx.ReadBucket(changeSetBucket))
		return nil
	}))
}

// TestOpenExistingDatabase checks that a database created through walletdb
// directly is reopened by Open with its change-sets intact.
func TestOpenExistingDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	db, err := walletdb.Create(
		dbDriver, filepath.Join(dir, DBName), true, time.Second, false,
	)
	require.NoError(t, err)

	w, err := persist.Create(ctx, New(db), func() (*wallet.Wallet, error) {
		return wallet.Create(testExternal, testInternal,
			netparams.Regtest)
	})
	require.NoError(t, err)

	info, err := w.RevealNextAddress(waddrmgr.External)
	require.NoError(t, err)
	require.NoError(t, persist.Flush(ctx, New(db), w))
	require.NoError(t, db.Close())

	store, err := Open(dir, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	loaded, err := persist.Load(ctx, store)
	require.NoError(t, err)
	require.True(t, loaded.IsSome())

	idx, ok := loaded.UnsafeFromSome().DerivationIndex(waddrmgr.External)
	require.True(t, ok)
	require.Equal(t, info.Index, idx)
}
