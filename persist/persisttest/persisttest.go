// Package persisttest runs the same behavioural tests against any
// persist.Store implementation.
package persisttest

import (
	"context"
	"slices"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist"
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

// Opener opens a store. Every call of the same Opener must return a store
// over the same underlying database.
type Opener func(t *testing.T) persist.Store

// NewOpener returns an Opener over a fresh database.
type NewOpener func(t *testing.T) Opener

// RunStoreTests runs the store test suite against the stores newOpener
// creates.
func RunStoreTests(t *testing.T, newOpener NewOpener) {
	t.Helper()

	tests := []struct {
		name string
		test func(t *testing.T, open Opener)
	}{
		{"empty", testEmpty},
		{"load or create", testLoadOrCreate},
		{"create existing", testCreateExisting},
		{"closed", testClosed},
		{"persist order", testPersistOrder},
		{"reopen", testReopen},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			test.test(t, newOpener(t))
		})
	}
}

func createWallet() (*wallet.Wallet, error) {
	return wallet.Create(testExternal, testInternal, netparams.Regtest)
}

func closeStore(t *testing.T, store persist.Store) {
	t.Helper()
	require.NoError(t, store.Close())
}

// fund mines a block paying to the third external address of w and puts a
// payment to its first change address in the mempool.
func fund(t *testing.T, w *wallet.Wallet) *chain.MemBackend {
	t.Helper()

	backend := chain.NewMemBackend(w.ChainParams())

	ext, err := w.PeekAddress(waddrmgr.External, 2)
	require.NoError(t, err)
	change, err := w.PeekAddress(waddrmgr.Internal, 0)
	require.NoError(t, err)

	backend.MineBlock(chain.PayToScript(
		wire.OutPoint{Hash: chainhash.DoubleHashH([]byte("a"))},
		ext.Script, 40_000,
	))
	backend.MineEmpty(3)
	backend.AddMempoolTx(chain.PayToScript(
		wire.OutPoint{Hash: chainhash.DoubleHashH([]byte("b"))},
		change.Script, 2_500,
	))

	return backend
}

func syncWallet(t *testing.T, w *wallet.Wallet, backend chain.Backend) {
	t.Helper()

	scanner := chain.NewScanner(backend)
	scanner.StopGap = 5

	update, err := scanner.FullScan(
		context.Background(), w.StartFullScan(),
	)
	require.NoError(t, err)
	require.NoError(t, w.ApplyUpdateAt(update, 900))
}

func requireSameWallet(t *testing.T, want, got *wallet.Wallet) {
	t.Helper()

	require.Equal(t, want.Network(), got.Network())
	require.Equal(t, want.Balance(), got.Balance())
	require.Equal(t, want.LatestCheckpoint().BlockIDs(),
		got.LatestCheckpoint().BlockIDs())
	require.Equal(t, slices.Collect(want.ListUnspent()),
		slices.Collect(got.ListUnspent()))

	for _, k := range waddrmgr.Keychains {
		wantIdx, wantOk := want.DerivationIndex(k)
		gotIdx, gotOk := got.DerivationIndex(k)
		require.Equal(t, wantOk, gotOk)
		require.Equal(t, wantIdx, gotIdx)

		wantDesc, err := want.PublicDescriptor(k)
		require.NoError(t, err)
		gotDesc, err := got.PublicDescriptor(k)
		require.NoError(t, err)
		require.Equal(t, wantDesc, gotDesc)
	}
}

func testEmpty(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t)
	defer closeStore(t, store)

	cs, err := store.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, cs.IsNone())

	// Empty change-sets are not written.
	require.NoError(t, store.Persist(ctx, wallet.NewChangeSet()))
	require.NoError(t, store.Persist(ctx, nil))

	loaded, err := persist.Load(ctx, store)
	require.NoError(t, err)
	require.True(t, loaded.IsNone())
}

func testLoadOrCreate(t *testing.T, open Opener) {
	ctx := context.Background()

	store := open(t)
	w, created, err := persist.LoadOrCreate(ctx, store, createWallet)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, w.TakeStaged().IsNone())

	syncWallet(t, w, fund(t, w))
	_, err = w.RevealNextAddress(waddrmgr.External)
	require.NoError(t, err)
	require.NoError(t, persist.Flush(ctx, store, w))
	require.True(t, w.TakeStaged().IsNone())
	closeStore(t, store)

	store = open(t)
	defer closeStore(t, store)

	loaded, created, err := persist.LoadOrCreate(ctx, store, createWallet)
	require.NoError(t, err)
	require.False(t, created)
	requireSameWallet(t, w, loaded)
	require.NotZero(t, loaded.Balance().Confirmed)
}

func testCreateExisting(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t)
	defer closeStore(t, store)

	_, err := persist.Create(ctx, store, createWallet)
	require.NoError(t, err)

	_, err = persist.Create(ctx, store, createWallet)
	require.ErrorIs(t, err, persist.ErrExists)
}

func testClosed(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t)

	_, err := store.Initialize(ctx)
	require.NoError(t, err)
	closeStore(t, store)

	// Closing twice is allowed.
	closeStore(t, store)

	_, err = store.Initialize(ctx)
	require.ErrorIs(t, err, persist.ErrStoreClosed)

	err = store.Persist(ctx, wallet.NewChangeSet())
	require.ErrorIs(t, err, persist.ErrStoreClosed)
}

func testPersistOrder(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t)
	defer closeStore(t, store)

	w, err := persist.Create(ctx, store, createWallet)
	require.NoError(t, err)

	// Every reveal is flushed separately; the merge must keep the
	// highest index.
	for range 4 {
		_, err := w.RevealNextAddress(waddrmgr.Internal)
		require.NoError(t, err)
		require.NoError(t, persist.Flush(ctx, store, w))
	}

	cs, err := store.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, cs.IsSome())
	require.Equal(t, uint32(3),
		cs.UnsafeFromSome().Indexer.LastRevealed[waddrmgr.Internal])

	loaded, err := wallet.Load(cs.UnsafeFromSome())
	require.NoError(t, err)
	requireSameWallet(t, w, loaded)
}

func testReopen(t *testing.T, open Opener) {
	ctx := context.Background()

	store := open(t)
	w, err := persist.Create(ctx, store, createWallet)
	require.NoError(t, err)
	closeStore(t, store)

	// Every round reopens the existing database and appends one reveal.
	for i := range uint32(3) {
		store := open(t)

		loaded, err := persist.Load(ctx, store)
		require.NoError(t, err)
		require.True(t, loaded.IsSome())
		w = loaded.UnsafeFromSome()

		info, err := w.RevealNextAddress(waddrmgr.External)
		require.NoError(t, err)
		require.Equal(t, i, info.Index)
		require.NoError(t, persist.Flush(ctx, store, w))

		closeStore(t, store)
	}

	store = open(t)
	defer closeStore(t, store)

	loaded, err := persist.Load(ctx, store)
	require.NoError(t, err)
	requireSameWallet(t, w, loaded.UnsafeFromSome())

	idx, ok := loaded.UnsafeFromSome().DerivationIndex(waddrmgr.External)
	require.True(t, ok)
	require.Equal(t, uint32(2), idx)
}
