package wallet

import (
	"bytes"
	"slices"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// syncedWallet returns a wallet with a confirmed and an unconfirmed
// transaction together with the merge of everything it staged.
func syncedWallet(t *testing.T) (*Wallet, *ChangeSet) {
	t.Helper()

	backend := chain.NewMemBackend(testParams)
	w := newTestWallet(t)

	backend.MineBlock(chain.PayToScript(
		fundingOutPoint("a"), script(t, w, waddrmgr.External, 2), 50_000,
	))
	backend.MineEmpty(2)
	backend.AddMempoolTx(chain.PayToScript(
		fundingOutPoint("b"), script(t, w, waddrmgr.Internal, 0), 7_000,
	))

	all := NewChangeSet()
	all.Merge(w.TakeStaged().UnsafeFromSome())

	fullScan(t, w, backend, 1_234)
	_, err := w.RevealNextAddress(waddrmgr.External)
	require.NoError(t, err)
	all.Merge(w.TakeStaged().UnsafeFromSome())

	return w, all
}

// requireSameWallet asserts that two wallets expose the same state.
func requireSameWallet(t *testing.T, want, got *Wallet) {
	t.Helper()

	require.Equal(t, want.Network(), got.Network())
	require.Equal(t, want.Balance(), got.Balance())
	require.Equal(t, want.LatestCheckpoint().BlockIDs(),
		got.LatestCheckpoint().BlockIDs())
	require.Equal(t, txids(want), txids(got))
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

		require.Equal(t, want.ListUnusedAddresses(k),
			got.ListUnusedAddresses(k))
	}
}

// TestChangeSetMerge checks that merging keeps set fields and unions the
// component change-sets.
func TestChangeSetMerge(t *testing.T) {
	t.Parallel()

	desc := descriptor.MustParse(testExternal, testParams)

	a := NewChangeSet()
	require.True(t, a.IsEmpty())
	a.Descriptor = fn.Some(desc)
	a.LocalChain.Blocks[0] = fn.Some(*testParams.GenesisHash)
	a.Indexer.LastRevealed[waddrmgr.External] = 1

	b := NewChangeSet()
	b.Network = fn.Some(netparams.Regtest)
	b.LocalChain.Blocks[4] = fn.None[chainhash.Hash]()
	b.Indexer.LastRevealed[waddrmgr.External] = 3

	a.Merge(b)
	a.Merge(nil)
	require.False(t, a.IsEmpty())
	require.Equal(t, fn.Some(desc), a.Descriptor)
	require.Equal(t, fn.Some(netparams.Regtest), a.Network)
	require.Len(t, a.LocalChain.Blocks, 2)
	require.Equal(t, uint32(3), a.Indexer.LastRevealed[waddrmgr.External])
}

// TestChangeSetEncoding checks that the TLV encoding restores a change-set
// and is stable across re-encoding.
func TestChangeSetEncoding(t *testing.T) {
	t.Parallel()

	_, all := syncedWallet(t)

	b, err := all.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeChangeSetBytes(b)
	require.NoError(t, err)

	again, err := decoded.Bytes()
	require.NoError(t, err)
	require.True(t, bytes.Equal(b, again), "re-encoding differs:\n%v",
		spew.Sdump(decoded))

	require.Equal(t, all.Network, decoded.Network)
	require.Equal(t, all.LocalChain, decoded.LocalChain)
	require.Equal(t, all.Indexer, decoded.Indexer)
	require.Equal(t, all.TxGraph.Anchors, decoded.TxGraph.Anchors)
	require.Equal(t, all.TxGraph.LastSeen, decoded.TxGraph.LastSeen)
	require.Len(t, decoded.TxGraph.Txs, len(all.TxGraph.Txs))
	for txid := range all.TxGraph.Txs {
		require.Contains(t, decoded.TxGraph.Txs, txid)
	}
	require.Equal(t,
		all.Descriptor.UnsafeFromSome().PublicString(),
		decoded.Descriptor.UnsafeFromSome().PublicString(),
	)

	// Merging a decoded copy into itself is a no-op.
	decoded.Merge(decoded)
	merged, err := decoded.Bytes()
	require.NoError(t, err)
	require.Equal(t, b, merged)

	empty, err := DecodeChangeSetBytes(nil)
	require.NoError(t, err)
	require.True(t, empty.IsEmpty())
}

// TestLoadRestoresWallet checks that loading the aggregate of staged
// change-sets, directly or through its encoding, restores the wallet.
func TestLoadRestoresWallet(t *testing.T) {
	t.Parallel()

	w, all := syncedWallet(t)

	loaded, err := Load(all)
	require.NoError(t, err)
	requireSameWallet(t, w, loaded)
	require.True(t, loaded.TakeStaged().IsNone())

	b, err := all.Bytes()
	require.NoError(t, err)
	fromBytes, err := LoadBytes(b)
	require.NoError(t, err)
	requireSameWallet(t, w, fromBytes)

	initial, err := initialChangeSet(t, w).Bytes()
	require.NoError(t, err)
	fromInitial, err := LoadBytes(initial)
	require.NoError(t, err)
	requireSameWallet(t, w, fromInitial)

	// Applying the change-set again changes nothing.
	reloaded := NewChangeSet()
	reloaded.Merge(all)
	reloaded.Merge(all)
	twice, err := Load(reloaded)
	require.NoError(t, err)
	requireSameWallet(t, w, twice)
}

// TestLoadErrors checks that malformed change-sets are rejected.
func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cs *ChangeSet) *ChangeSet
	}{
		{
			name: "nil change-set",
			mutate: func(*ChangeSet) *ChangeSet {
				return nil
			},
		},
		{
			name: "missing descriptor",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.Descriptor = fn.None[*descriptor.Descriptor]()
				return cs
			},
		},
		{
			name: "missing network",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.Network = fn.None[netparams.Network]()
				return cs
			},
		},
		{
			name: "missing genesis",
			mutate: func(cs *ChangeSet) *ChangeSet {
				delete(cs.LocalChain.Blocks, 0)
				return cs
			},
		},
		{
			name: "foreign genesis",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.LocalChain.Blocks[0] = fn.Some(
					*chaincfg.MainNetParams.GenesisHash,
				)
				return cs
			},
		},
		{
			name: "network mismatch",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.Network = fn.Some(netparams.Bitcoin)
				return cs
			},
		},
		{
			name: "same descriptors",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.ChangeDescriptor = cs.Descriptor
				return cs
			},
		},
		{
			name: "unknown keychain",
			mutate: func(cs *ChangeSet) *ChangeSet {
				cs.Indexer.LastRevealed[waddrmgr.KeychainKind(9)] = 0
				return cs
			},
		},
		{
			name: "mismatched txid",
			mutate: func(cs *ChangeSet) *ChangeSet {
				for _, tx := range cs.TxGraph.Txs {
					cs.TxGraph.Txs[chainhash.Hash{1}] = tx
					break
				}
				return cs
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			w, _ := syncedWallet(t)
			_, err := Load(test.mutate(initialChangeSet(t, w)))
			require.ErrorIs(t, err, ErrInvalidChangeSet)
		})
	}
}

// TestLoadBytesErrors checks that undecodable encodings are rejected.
func TestLoadBytesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		b    []byte
	}{
		{
			name: "empty",
			b:    nil,
		},
		{
			name: "truncated record",
			b:    []byte{0x01, 0x20, 'w'},
		},
		{
			name: "unknown network",
			b:    []byte{0x03, 0x01, 0x63},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadBytes(test.b)
			require.ErrorIs(t, err, ErrInvalidChangeSet)
		})
	}
}

// TestInsertBlockStaged checks that inserted blocks are staged and extend
// the chain.
func TestInsertBlockStaged(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	w.TakeStaged()

	id := checkpoint.BlockID{Height: 5, Hash: chainhash.Hash{5}}
	require.NoError(t, w.InsertBlock(id))
	require.Equal(t, id, w.LatestCheckpoint().BlockID())

	staged := w.TakeStaged()
	require.True(t, staged.IsSome())
	require.Equal(t, fn.Some(id.Hash),
		staged.UnsafeFromSome().LocalChain.Blocks[5])

	err := w.InsertBlock(checkpoint.BlockID{Hash: chainhash.Hash{9}})
	require.ErrorIs(t, err, checkpoint.ErrAlterGenesis)
}
