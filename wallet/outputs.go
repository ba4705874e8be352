// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"iter"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrMissingTxOut is returned when the fee of a transaction cannot be
// computed because the graph lacks one of its previous outputs.
var ErrMissingTxOut = errors.New("previous output not known")

// LocalOutput is a canonical output paying to one of the wallet's scripts.
type LocalOutput struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut

	// Keychain and DerivationIndex locate the script of the output.
	Keychain        waddrmgr.KeychainKind
	DerivationIndex uint32

	// Position is the chain position of the creating transaction.
	Position wtxmgr.ChainPosition

	// SpentBy is the canonical transaction spending the output, if any.
	SpentBy fn.Option[chainhash.Hash]

	IsCoinbase bool
}

// IsSpent returns whether a canonical transaction spends the output.
func (o LocalOutput) IsSpent() bool {
	return o.SpentBy.IsSome()
}

// outpoints returns every graph outpoint paying to a wallet script.
func (w *Wallet) outpoints() []wire.OutPoint {
	return w.graph.Outpoints(w.IsMine)
}

// localOutput converts a canonical output into a LocalOutput. The script of
// out must belong to the wallet.
func (w *Wallet) localOutput(out wtxmgr.FullTxOut) LocalOutput {
	k, index, _ := w.index.IndexOf(out.TxOut.PkScript)

	return LocalOutput{
		OutPoint:        out.OutPoint,
		TxOut:           out.TxOut,
		Keychain:        k,
		DerivationIndex: index,
		Position:        out.Position,
		SpentBy:         out.SpentBy,
		IsCoinbase:      out.IsCoinbase,
	}
}

// ListOutput returns every canonical wallet output, spent or not. The
// sequence is recomputed from the current wallet state each time it is
// iterated.
func (w *Wallet) ListOutput() iter.Seq[LocalOutput] {
	return func(yield func(LocalOutput) bool) {
		outs := w.graph.FilterChainTxOuts(w.chain, w.outpoints())
		for out := range outs {
			if !yield(w.localOutput(out)) {
				return
			}
		}
	}
}

// ListUnspent returns the unspent canonical wallet outputs. The sequence is
// recomputed from the current wallet state each time it is iterated.
func (w *Wallet) ListUnspent() iter.Seq[LocalOutput] {
	return func(yield func(LocalOutput) bool) {
		outs := w.graph.FilterChainUnspents(w.chain, w.outpoints())
		for out := range outs {
			if !yield(w.localOutput(out)) {
				return
			}
		}
	}
}

// GetUtxo returns the unspent wallet output op, if any.
func (w *Wallet) GetUtxo(op wire.OutPoint) fn.Option[LocalOutput] {
	txOut := w.graph.GetTxOut(op)
	if txOut.IsNone() || !w.IsMine(txOut.UnsafeFromSome().PkScript) {
		return fn.None[LocalOutput]()
	}

	outs := w.graph.FilterChainUnspents(w.chain, []wire.OutPoint{op})
	for out := range outs {
		return fn.Some(w.localOutput(out))
	}

	return fn.None[LocalOutput]()
}

// Transactions returns the canonical transactions of the wallet, ancestors
// before descendants. The sequence is recomputed from the current wallet
// state each time it is iterated.
func (w *Wallet) Transactions() iter.Seq[wtxmgr.CanonicalTx] {
	return w.graph.ListCanonicalTxs(w.chain)
}

// GetTx returns txid with its chain position if it is canonical.
func (w *Wallet) GetTx(txid chainhash.Hash) fn.Option[wtxmgr.CanonicalTx] {
	return w.graph.CanonicalTx(w.chain, txid)
}

// InsertTx adds a transaction to the wallet without an anchor or sighting.
// It returns false if the transaction was already known. The transaction
// marks the addresses it pays to as used but is not part of the canonical
// history until an update anchors or sights it.
func (w *Wallet) InsertTx(tx *wire.MsgTx) bool {
	graphCS := w.graph.InsertTx(tx)
	if graphCS.IsEmpty() {
		return false
	}

	w.stage.TxGraph.Merge(graphCS)
	w.stage.Indexer.Merge(w.index.IndexTx(tx))

	return true
}

// Balance returns the balance of the unspent canonical wallet outputs.
func (w *Wallet) Balance() wtxmgr.Balance {
	trusted := func(pkScript []byte) bool {
		k, index, ok := w.index.IndexOf(pkScript)
		return ok && w.cfg.Trust(k, index)
	}

	return w.graph.Balance(
		w.chain, w.outpoints(), trusted, w.coinbaseMaturity(),
	)
}

// SentAndReceived returns the value tx spends from wallet outputs and the
// value it pays to wallet scripts.
func (w *Wallet) SentAndReceived(tx *wire.MsgTx) (btcutil.Amount,
	btcutil.Amount) {

	var sent, received btcutil.Amount
	if !blockchain.IsCoinBaseTx(tx) {
		for _, in := range tx.TxIn {
			w.graph.GetTxOut(in.PreviousOutPoint).WhenSome(
				func(out *wire.TxOut) {
					if w.IsMine(out.PkScript) {
						sent += btcutil.Amount(out.Value)
					}
				},
			)
		}
	}
	for _, out := range tx.TxOut {
		if w.IsMine(out.PkScript) {
			received += btcutil.Amount(out.Value)
		}
	}

	return sent, received
}

// CalculateFee returns the fee paid by tx. Every previous output of tx must
// be known to the wallet.
func (w *Wallet) CalculateFee(tx *wire.MsgTx) (btcutil.Amount, error) {
	if blockchain.IsCoinBaseTx(tx) {
		return 0, nil
	}

	var in, out btcutil.Amount
	for _, txIn := range tx.TxIn {
		prev := w.graph.GetTxOut(txIn.PreviousOutPoint)
		if prev.IsNone() {
			return 0, fmt.Errorf("%w: %v", ErrMissingTxOut,
				txIn.PreviousOutPoint)
		}
		in += btcutil.Amount(prev.UnsafeFromSome().Value)
	}
	for _, txOut := range tx.TxOut {
		out += btcutil.Amount(txOut.Value)
	}

	return in - out, nil
}
