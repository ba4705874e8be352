// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"
	"iter"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// now returns the current unix time of the wallet's clock.
func (w *Wallet) now() uint64 {
	return uint64(w.cfg.Clock.Now().Unix())
}

// StartFullScan builds a request for the history of every keychain from
// index zero. The scripts are derived lazily from the descriptors, so the
// request may be consumed from another goroutine while the wallet is read.
//
// Requests carry no start time; sightings are recorded when the update is
// applied, and only for transactions the wallet has not seen before.
func (w *Wallet) StartFullScan() *chain.FullScanRequest {
	spks := make(
		map[waddrmgr.KeychainKind]iter.Seq2[uint32, []byte],
		len(waddrmgr.Keychains),
	)
	for _, k := range w.index.Keychains() {
		spks[k] = w.index.UnboundedSpks(k)
	}

	return &chain.FullScanRequest{
		ChainTip:       w.chain.Tip(),
		SpksByKeychain: spks,
	}
}

// StartSyncWithRevealedSpks builds a request refreshing the revealed
// scripts, every canonical transaction and every unspent wallet output. It
// never derives new addresses.
func (w *Wallet) StartSyncWithRevealedSpks() *chain.SyncRequest {
	req := &chain.SyncRequest{
		ChainTip: w.chain.Tip(),
		Spks:     w.index.RevealedSpks(),
	}

	for tx := range w.graph.ListCanonicalTxs(w.chain) {
		req.Txids = append(req.Txids, tx.Txid)
	}
	for out := range w.graph.FilterChainUnspents(w.chain, w.outpoints()) {
		req.OutPoints = append(req.OutPoints, out.OutPoint)
	}

	log.Debugf("Built sync request: %d scripts, %d txids, %d outpoints",
		len(req.Spks), len(req.Txids), len(req.OutPoints))

	return req
}

// ApplyUpdate applies a scan result, recording the wallet clock's current
// time as the sighting time of previously unseen unconfirmed transactions.
func (w *Wallet) ApplyUpdate(u *chain.Update) error {
	return w.ApplyUpdateAt(u, w.now())
}

// ApplyUpdateAt applies a scan result, recording seenAt as the sighting time
// of previously unseen unconfirmed transactions.
//
// The update is validated in full before anything is changed. An update
// that does not fit the wallet fails with ErrInconsistentUpdate, one that
// would invalidate more blocks than the reorg horizon allows fails with
// ErrReorgBeyondHorizon. In both cases the wallet is left untouched.
func (w *Wallet) ApplyUpdateAt(u *chain.Update, seenAt uint64) error {
	if u == nil {
		return nil
	}

	// Keychains and indexes must be derivable.
	keychains := make([]waddrmgr.KeychainKind, 0, len(u.LastActiveIndices))
	for k, index := range u.LastActiveIndices {
		if _, err := w.index.Peek(k, index); err != nil {
			return fmt.Errorf("%w: last active %v/%d: %w",
				ErrInconsistentUpdate, k, index, err)
		}
		keychains = append(keychains, k)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	// The chain update must connect and stay within the horizon.
	var (
		merge  fn.Option[checkpoint.MergeResult]
		tip    = w.chain.Tip()
		oldTip = tip.Height()
	)
	if u.Chain.IsSome() {
		result, err := w.chain.PreviewUpdate(u.Chain.UnsafeFromSome())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInconsistentUpdate, err)
		}

		depth := result.ReorgDepth(oldTip)
		horizon := w.cfg.ReorgHorizon
		if horizon.IsSome() && depth > horizon.UnsafeFromSome() {
			if !w.cfg.AllowDeepReorg {
				return fmt.Errorf("%w: update invalidates %d "+
					"blocks, horizon is %d",
					ErrReorgBeyondHorizon, depth,
					horizon.UnsafeFromSome())
			}
			log.Warnf("Applying reorg of depth %d beyond horizon %d",
				depth, horizon.UnsafeFromSome())
		}

		merge = fn.Some(result)
		tip = result.Tip
	}

	// Anchors must reference known transactions and agree with the chain
	// the update results in.
	if err := w.graph.ValidateUpdate(u.TxUpdate); err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentUpdate, err)
	}
	for _, a := range u.TxUpdate.Anchors {
		cp := tip.Get(a.Anchor.Block.Height)
		if cp.IsNone() {
			continue
		}
		if cp.UnsafeFromSome().Hash() != a.Anchor.Block.Hash {
			return fmt.Errorf("%w: anchor %v of %v conflicts with "+
				"chain block %v", ErrInconsistentUpdate,
				a.Anchor, a.Txid, cp.UnsafeFromSome().BlockID())
		}
	}

	txUpdate := w.withSightings(u.TxUpdate, seenAt)

	// Commit. Reveals go first since they are the only step that derives
	// keys. Reveals that succeeded are staged even if a later one fails,
	// revealed indexes never go back.
	cs := NewChangeSet()
	for _, k := range keychains {
		_, revealed, err := w.index.RevealTo(k, u.LastActiveIndices[k])
		cs.Indexer.Merge(revealed)
		if err != nil {
			w.stage.Merge(cs)
			return err
		}
	}

	if merge.IsSome() {
		chainCS, err := w.chain.ApplyUpdate(u.Chain.UnsafeFromSome())
		if err != nil {
			// Unreachable, the same merge was previewed above.
			return fmt.Errorf("%w: %w", ErrInconsistentUpdate, err)
		}
		cs.LocalChain.Merge(chainCS)
	}

	graphCS, err := w.graph.ApplyUpdate(txUpdate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentUpdate, err)
	}
	cs.TxGraph.Merge(graphCS)

	for _, tx := range txUpdate.Txs {
		cs.Indexer.Merge(w.index.IndexTx(tx))
	}

	log.Infof("Applied update: %d txs, %d anchors, %d sightings, tip %v",
		len(cs.TxGraph.Txs), len(cs.TxGraph.Anchors),
		len(cs.TxGraph.LastSeen), w.chain.Tip().BlockID())

	w.stage.Merge(cs)

	return nil
}

// withSightings returns u with seenAt added for every transaction the graph
// has not seen before that the update carries without an anchor or
// sighting of its own.
func (w *Wallet) withSightings(u wtxmgr.TxUpdate,
	seenAt uint64) wtxmgr.TxUpdate {

	anchored := make(map[chainhash.Hash]struct{}, len(u.Anchors))
	for _, a := range u.Anchors {
		anchored[a.Txid] = struct{}{}
	}

	seenAts := make(map[chainhash.Hash]uint64, len(u.SeenAts))
	for txid, seen := range u.SeenAts {
		seenAts[txid] = seen
	}

	for _, tx := range u.Txs {
		txid := tx.TxHash()
		if w.graph.GetTx(txid).IsSome() {
			continue
		}
		if _, ok := anchored[txid]; ok {
			continue
		}
		if _, ok := seenAts[txid]; ok {
			continue
		}
		seenAts[txid] = seenAt
	}

	return wtxmgr.TxUpdate{
		Txs:     u.Txs,
		Anchors: u.Anchors,
		SeenAts: seenAts,
	}
}
