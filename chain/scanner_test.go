package chain

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

// spk returns a deterministic P2WPKH-shaped script for a keychain index.
func spk(k waddrmgr.KeychainKind, index uint32) []byte {
	script := make([]byte, 22)
	script[0], script[1] = 0x00, 0x14
	script[2] = byte(k)
	script[3] = byte(index)
	script[4] = byte(index >> 8)
	return script
}

func unbounded(k waddrmgr.KeychainKind) iter.Seq2[uint32, []byte] {
	return func(yield func(uint32, []byte) bool) {
		for i := uint32(0); ; i++ {
			if !yield(i, spk(k, i)) {
				return
			}
		}
	}
}

func genesisTip() checkpoint.CheckPoint {
	return checkpoint.New(checkpoint.BlockID{
		Height: 0,
		Hash:   *params.GenesisHash,
	})
}

func fullScanRequest(tip checkpoint.CheckPoint) *FullScanRequest {
	return &FullScanRequest{
		ChainTip:  tip,
		StartTime: uint64(time.Unix(1_700_000_000, 0).Unix()),
		SpksByKeychain: map[waddrmgr.KeychainKind]iter.Seq2[uint32, []byte]{
			waddrmgr.External: unbounded(waddrmgr.External),
			waddrmgr.Internal: unbounded(waddrmgr.Internal),
		},
	}
}

func fundingOutPoint(label string) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.DoubleHashH([]byte(label))}
}

// TestFullScanStopGap ensures the scan stops after the stop gap and reports
// the last index with history regardless of the batch size.
func TestFullScanStopGap(t *testing.T) {
	t.Parallel()

	for _, parallelism := range []int{1, 3, 10} {
		backend := NewMemBackend(params)
		tx0 := PayToScript(
			fundingOutPoint("a"), spk(waddrmgr.External, 0), 1_000,
		)
		tx3 := PayToScript(
			fundingOutPoint("b"), spk(waddrmgr.External, 3), 2_000,
		)
		tip := backend.MineBlock(tx0, tx3)

		scanner := NewScanner(backend)
		scanner.StopGap = 5
		scanner.Parallelism = parallelism

		update, err := scanner.FullScan(
			context.Background(), fullScanRequest(genesisTip()),
		)
		require.NoError(t, err)

		require.Equal(t, map[waddrmgr.KeychainKind]uint32{
			waddrmgr.External: 3,
		}, update.LastActiveIndices, "parallelism %d", parallelism)

		require.Len(t, update.TxUpdate.Txs, 2)
		require.Len(t, update.TxUpdate.Anchors, 2)
		require.Empty(t, update.TxUpdate.SeenAts)
		for _, a := range update.TxUpdate.Anchors {
			require.Equal(t, tip, a.Anchor.Block)
		}

		require.True(t, update.Chain.IsSome())
		require.Equal(t, tip, update.Chain.UnsafeFromSome().BlockID())

		if parallelism == 1 {
			// External walks 0..8, internal 0..4.
			require.Equal(t, 14, backend.ScriptQueries())
		}
	}
}

// TestFullScanStopGapZero checks that a zero stop gap behaves like one.
func TestFullScanStopGapZero(t *testing.T) {
	t.Parallel()

	backend := NewMemBackend(params)
	backend.MineBlock(
		PayToScript(fundingOutPoint("a"), spk(waddrmgr.External, 0), 1),
		PayToScript(fundingOutPoint("b"), spk(waddrmgr.External, 3), 1),
	)

	scanner := &Scanner{Backend: backend}
	update, err := scanner.FullScan(
		context.Background(), fullScanRequest(genesisTip()),
	)
	require.NoError(t, err)
	require.Equal(t, uint32(0), update.LastActiveIndices[waddrmgr.External])
	require.Len(t, update.TxUpdate.Txs, 1)
}

// TestSync covers scripts, txids and outpoints of a sync request.
func TestSync(t *testing.T) {
	t.Parallel()

	backend := NewMemBackend(params)
	script := spk(waddrmgr.External, 0)
	funding := PayToScript(fundingOutPoint("a"), script, 10_000)
	backend.AddMempoolTx(funding)

	scanner := NewScanner(backend)
	req := &SyncRequest{
		ChainTip:  genesisTip(),
		StartTime: 42,
		Spks: []waddrmgr.KeychainSpk{{
			Keychain: waddrmgr.External,
			Script:   script,
		}},
	}

	update, err := scanner.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []*wire.MsgTx{funding}, update.TxUpdate.Txs)
	require.Empty(t, update.TxUpdate.Anchors)
	require.Equal(t, uint64(42), update.TxUpdate.SeenAts[funding.TxHash()])
	require.Empty(t, update.LastActiveIndices)

	// Once mined, a txid-only request picks up the anchor.
	block := backend.MineBlock()
	spend := PayToScript(
		wire.OutPoint{Hash: funding.TxHash()}, spk(waddrmgr.Internal, 0),
		9_000,
	)
	backend.AddMempoolTx(spend)

	update, err = scanner.Sync(context.Background(), &SyncRequest{
		ChainTip:  genesisTip(),
		StartTime: 43,
		Txids:     []chainhash.Hash{funding.TxHash(), {0x01}},
		OutPoints: []wire.OutPoint{{Hash: funding.TxHash()}},
	})
	require.NoError(t, err)
	require.Len(t, update.TxUpdate.Anchors, 1)
	require.Equal(t, funding.TxHash(), update.TxUpdate.Anchors[0].Txid)
	require.Equal(t, block, update.TxUpdate.Anchors[0].Anchor.Block)
	require.Equal(t, []*wire.MsgTx{spend}, update.TxUpdate.Txs)
	require.Equal(t, uint64(43), update.TxUpdate.SeenAts[spend.TxHash()])
	require.Equal(t, block, update.Chain.UnsafeFromSome().BlockID())
}

// TestScanErrors ensures backend errors are returned unchanged and that
// cancellation aborts the scan.
func TestScanErrors(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("connection reset")
	backend := NewMemBackend(params)
	backend.SetError(errBoom)

	scanner := NewScanner(backend)
	_, err := scanner.FullScan(
		context.Background(), fullScanRequest(genesisTip()),
	)
	require.ErrorIs(t, err, errBoom)

	_, err = scanner.Sync(context.Background(), &SyncRequest{
		ChainTip: genesisTip(),
		Txids:    []chainhash.Hash{{0x01}},
	})
	require.ErrorIs(t, err, errBoom)

	backend.SetError(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scanner.FullScan(ctx, fullScanRequest(genesisTip()))
	require.ErrorIs(t, err, context.Canceled)

	// A local chain from another network cannot connect.
	other := checkpoint.New(checkpoint.BlockID{
		Hash: *chaincfg.MainNetParams.GenesisHash,
	})
	_, err = scanner.Sync(context.Background(), &SyncRequest{
		ChainTip: other,
	})
	require.ErrorIs(t, err, ErrNoPointOfAgreement)
}

// TestChainUpdateReorg checks that the chain update connects below a
// reorganized block and applies cleanly to the local chain.
func TestChainUpdateReorg(t *testing.T) {
	t.Parallel()

	backend := NewMemBackend(params)
	funding := PayToScript(
		fundingOutPoint("a"), spk(waddrmgr.External, 0), 5_000,
	)
	stale := backend.MineBlock(funding)
	backend.MineEmpty(1)

	local, _ := checkpoint.NewFromGenesis(*params.GenesisHash)
	_, err := local.InsertBlock(stale)
	require.NoError(t, err)

	backend.Disconnect(1)
	backend.MineEmpty(1)
	confirming := backend.MineBlock()
	newTip := backend.MineEmpty(1)
	require.NotEqual(t, stale, confirming)

	scanner := NewScanner(backend)
	scanner.StopGap = 2
	update, err := scanner.FullScan(
		context.Background(), fullScanRequest(local.Tip()),
	)
	require.NoError(t, err)
	require.Len(t, update.TxUpdate.Anchors, 1)
	require.Equal(t, confirming, update.TxUpdate.Anchors[0].Anchor.Block)

	res, err := local.PreviewUpdate(update.Chain.UnsafeFromSome())
	require.NoError(t, err)
	require.Equal(t, uint32(1), res.Invalidated.UnsafeFromSome())

	_, err = local.ApplyUpdate(update.Chain.UnsafeFromSome())
	require.NoError(t, err)
	require.Equal(t, newTip, local.Tip().BlockID())
	require.True(t, local.IsBlockInChain(confirming))
	require.False(t, local.IsBlockInChain(stale))
}
