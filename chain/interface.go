package chain

import (
	"context"
	"iter"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Backend is a source of chain data, such as a block explorer or a full
// node index. Errors returned by a Backend are handed to the caller of a
// scan unchanged.
type Backend interface {
	// Tip returns the best block known to the backend.
	Tip(ctx context.Context) (checkpoint.BlockID, error)

	// BlockHash returns the hash of the best chain block at height.
	BlockHash(ctx context.Context, height uint32) (chainhash.Hash, error)

	// ScriptTxs returns every transaction that pays to or spends from an
	// output with the given script, confirmed or not.
	ScriptTxs(ctx context.Context, pkScript []byte) ([]TxWithStatus, error)

	// TxStatus returns the confirmation status of txid, or None when the
	// backend does not know the transaction.
	TxStatus(ctx context.Context,
		txid chainhash.Hash) (fn.Option[TxStatus], error)

	// OutputSpend returns the transaction spending op, if any.
	OutputSpend(ctx context.Context,
		op wire.OutPoint) (fn.Option[TxWithStatus], error)
}

// TxStatus is the confirmation status of a transaction as reported by a
// Backend.
type TxStatus struct {
	// Confirmed is true when the transaction is in a best chain block.
	Confirmed bool

	// Block is the confirming block. It is unset for unconfirmed
	// transactions.
	Block checkpoint.BlockID

	// BlockTime is the unix timestamp of the confirming block.
	BlockTime uint64
}

// anchor returns the status as a graph anchor, if confirmed.
func (s TxStatus) anchor() fn.Option[wtxmgr.Anchor] {
	if !s.Confirmed {
		return fn.None[wtxmgr.Anchor]()
	}
	return fn.Some(wtxmgr.Anchor{
		Block:            s.Block,
		ConfirmationTime: s.BlockTime,
	})
}

// TxWithStatus is a full transaction together with its status.
type TxWithStatus struct {
	Tx     *wire.MsgTx
	Status TxStatus
}

// FullScanRequest asks for the history of every keychain, starting at index
// 0, until the stop gap is reached.
type FullScanRequest struct {
	// ChainTip is the local chain tip the resulting chain update must
	// connect to.
	ChainTip checkpoint.CheckPoint

	// StartTime is recorded as the sighting time of unconfirmed
	// transactions found by the scan. Zero records nothing.
	StartTime uint64

	// SpksByKeychain holds an unbounded, lazily derived script sequence
	// per keychain.
	SpksByKeychain map[waddrmgr.KeychainKind]iter.Seq2[uint32, []byte]
}

// SyncRequest asks for fresh data on already known scripts, transactions and
// outputs.
type SyncRequest struct {
	// ChainTip is the local chain tip the resulting chain update must
	// connect to.
	ChainTip checkpoint.CheckPoint

	// StartTime is recorded as the sighting time of unconfirmed
	// transactions found by the sync. Zero records nothing.
	StartTime uint64

	Spks      []waddrmgr.KeychainSpk
	Txids     []chainhash.Hash
	OutPoints []wire.OutPoint
}

// Update is the result of a scan, ready to be applied to a wallet.
type Update struct {
	// LastActiveIndices holds, per keychain, the highest index with
	// history found by a full scan.
	LastActiveIndices map[waddrmgr.KeychainKind]uint32

	// TxUpdate carries the transactions, anchors and sightings found.
	TxUpdate wtxmgr.TxUpdate

	// Chain is the chain update connecting the request tip to the
	// backend tip.
	Chain fn.Option[checkpoint.CheckPoint]
}
