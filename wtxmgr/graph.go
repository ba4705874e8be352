// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxUpdate is a batch of graph additions, typically obtained from a chain
// data source. Anchors and sightings may only reference transactions that
// are already in the graph or that are carried by the same update.
type TxUpdate struct {
	Txs     []*wire.MsgTx
	Anchors []TxAnchor
	SeenAts map[chainhash.Hash]uint64
}

// IsEmpty returns whether the update carries nothing.
func (u TxUpdate) IsEmpty() bool {
	return len(u.Txs) == 0 && len(u.Anchors) == 0 && len(u.SeenAts) == 0
}

// TxGraph stores every transaction relevant to the wallet along with its
// confirmation anchors, its last unconfirmed sighting and the spend edges
// between transactions. Conflicting transactions may coexist in the graph;
// canonicalization against a ChainOracle decides which of them count.
//
// A TxGraph is not safe for concurrent mutation.
type TxGraph struct {
	txs      map[chainhash.Hash]*wire.MsgTx
	anchors  map[chainhash.Hash]map[Anchor]struct{}
	lastSeen map[chainhash.Hash]uint64

	// spends maps every outpoint spent by a stored transaction to the
	// set of stored transactions spending it.
	spends map[wire.OutPoint]map[chainhash.Hash]struct{}
}

// New returns an empty transaction graph.
func New() *TxGraph {
	return &TxGraph{
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
		anchors:  make(map[chainhash.Hash]map[Anchor]struct{}),
		lastSeen: make(map[chainhash.Hash]uint64),
		spends:   make(map[wire.OutPoint]map[chainhash.Hash]struct{}),
	}
}

// Len returns the number of stored transactions.
func (g *TxGraph) Len() int {
	return len(g.txs)
}

// GetTx returns the transaction with the given txid.
func (g *TxGraph) GetTx(txid chainhash.Hash) fn.Option[*wire.MsgTx] {
	tx, ok := g.txs[txid]
	if !ok {
		return fn.None[*wire.MsgTx]()
	}
	return fn.Some(tx)
}

// GetTxOut returns the output referenced by op, if its transaction is known.
func (g *TxGraph) GetTxOut(op wire.OutPoint) fn.Option[*wire.TxOut] {
	tx, ok := g.txs[op.Hash]
	if !ok || op.Index >= uint32(len(tx.TxOut)) {
		return fn.None[*wire.TxOut]()
	}
	return fn.Some(tx.TxOut[op.Index])
}

// Anchors returns the anchors recorded for txid ordered by height.
func (g *TxGraph) Anchors(txid chainhash.Hash) []Anchor {
	set := g.anchors[txid]
	anchors := make([]Anchor, 0, len(set))
	for a := range set {
		anchors = append(anchors, a)
	}
	sortAnchors(anchors)
	return anchors
}

// LastSeen returns the last unconfirmed sighting recorded for txid.
func (g *TxGraph) LastSeen(txid chainhash.Hash) fn.Option[uint64] {
	seen, ok := g.lastSeen[txid]
	if !ok {
		return fn.None[uint64]()
	}
	return fn.Some(seen)
}

// Txids returns every stored txid in byte order.
func (g *TxGraph) Txids() []chainhash.Hash {
	txids := make([]chainhash.Hash, 0, len(g.txs))
	for txid := range g.txs {
		txids = append(txids, txid)
	}
	sort.Slice(txids, func(i, j int) bool {
		return compareHash(txids[i], txids[j]) < 0
	})
	return txids
}

// SpentBy returns the stored transactions spending op, in byte order of
// their txids. More than one entry means the spenders conflict.
func (g *TxGraph) SpentBy(op wire.OutPoint) []chainhash.Hash {
	set := g.spends[op]
	txids := make([]chainhash.Hash, 0, len(set))
	for txid := range set {
		txids = append(txids, txid)
	}
	sort.Slice(txids, func(i, j int) bool {
		return compareHash(txids[i], txids[j]) < 0
	})
	return txids
}

// Outpoints returns every output of a stored transaction whose script
// matches, ordered by txid then output index.
func (g *TxGraph) Outpoints(match func(pkScript []byte) bool) []wire.OutPoint {
	var ops []wire.OutPoint
	for _, txid := range g.Txids() {
		for i, out := range g.txs[txid].TxOut {
			if match(out.PkScript) {
				ops = append(ops, wire.OutPoint{
					Hash:  txid,
					Index: uint32(i),
				})
			}
		}
	}
	return ops
}

// spentInputs returns the inputs of tx that spend a previous output. A
// coinbase input spends nothing.
func spentInputs(tx *wire.MsgTx) []*wire.TxIn {
	if blockchain.IsCoinBaseTx(tx) {
		return nil
	}
	return tx.TxIn
}

// InsertTx adds tx to the graph. Inserting a known transaction returns an
// empty change-set.
func (g *TxGraph) InsertTx(tx *wire.MsgTx) ChangeSet {
	cs := NewChangeSet()
	txid := tx.TxHash()
	if _, ok := g.txs[txid]; ok {
		return cs
	}

	g.txs[txid] = tx
	for _, in := range spentInputs(tx) {
		spenders, ok := g.spends[in.PreviousOutPoint]
		if !ok {
			spenders = make(map[chainhash.Hash]struct{})
			g.spends[in.PreviousOutPoint] = spenders
		}
		spenders[txid] = struct{}{}
	}
	cs.Txs[txid] = tx

	log.Tracef("Inserted transaction %v", txid)

	return cs
}

// InsertAnchor records that txid was confirmed in the anchor's block. The
// transaction must already be in the graph.
func (g *TxGraph) InsertAnchor(txid chainhash.Hash, a Anchor) (ChangeSet,
	error) {

	cs := NewChangeSet()
	if _, ok := g.txs[txid]; !ok {
		str := fmt.Sprintf("anchor %v references unknown transaction %v",
			a, txid)
		return cs, txGraphError(ErrOrphanAnchor, str, nil)
	}

	g.insertAnchor(txid, a, &cs)
	return cs, nil
}

func (g *TxGraph) insertAnchor(txid chainhash.Hash, a Anchor, cs *ChangeSet) {
	set, ok := g.anchors[txid]
	if !ok {
		set = make(map[Anchor]struct{})
		g.anchors[txid] = set
	}
	if _, ok := set[a]; ok {
		return
	}
	set[a] = struct{}{}
	cs.Anchors[TxAnchor{Txid: txid, Anchor: a}] = struct{}{}
}

// InsertSeenAt records an unconfirmed sighting of txid. A sighting that is
// not later than the recorded one is ignored.
func (g *TxGraph) InsertSeenAt(txid chainhash.Hash, seenAt uint64) (ChangeSet,
	error) {

	cs := NewChangeSet()
	if _, ok := g.txs[txid]; !ok {
		str := fmt.Sprintf("sighting references unknown transaction %v",
			txid)
		return cs, txGraphError(ErrOrphanSeenAt, str, nil)
	}

	g.insertSeenAt(txid, seenAt, &cs)
	return cs, nil
}

func (g *TxGraph) insertSeenAt(txid chainhash.Hash, seenAt uint64,
	cs *ChangeSet) {

	if cur, ok := g.lastSeen[txid]; ok && seenAt <= cur {
		return
	}
	g.lastSeen[txid] = seenAt
	cs.LastSeen[txid] = seenAt
}

// ValidateUpdate checks that every anchor and sighting of u references a
// transaction known to the graph or carried by u. It does not mutate the
// graph.
func (g *TxGraph) ValidateUpdate(u TxUpdate) error {
	carried := make(map[chainhash.Hash]struct{}, len(u.Txs))
	for _, tx := range u.Txs {
		carried[tx.TxHash()] = struct{}{}
	}
	known := func(txid chainhash.Hash) bool {
		if _, ok := g.txs[txid]; ok {
			return true
		}
		_, ok := carried[txid]
		return ok
	}

	for _, a := range u.Anchors {
		if !known(a.Txid) {
			str := fmt.Sprintf("anchor %v references unknown "+
				"transaction %v", a.Anchor, a.Txid)
			return txGraphError(ErrOrphanAnchor, str, nil)
		}
	}
	for txid := range u.SeenAts {
		if !known(txid) {
			str := fmt.Sprintf("sighting references unknown "+
				"transaction %v", txid)
			return txGraphError(ErrOrphanSeenAt, str, nil)
		}
	}
	return nil
}

// ApplyUpdate validates u and then inserts its transactions, anchors and
// sightings. Nothing is inserted when validation fails.
func (g *TxGraph) ApplyUpdate(u TxUpdate) (ChangeSet, error) {
	if err := g.ValidateUpdate(u); err != nil {
		return NewChangeSet(), err
	}

	cs := NewChangeSet()
	for _, tx := range u.Txs {
		cs.Merge(g.InsertTx(tx))
	}
	for _, a := range u.Anchors {
		g.insertAnchor(a.Txid, a.Anchor, &cs)
	}
	for txid, seen := range u.SeenAts {
		g.insertSeenAt(txid, seen, &cs)
	}

	log.Debugf("Applied tx update: %d new txs, %d new anchors, %d new "+
		"sightings", len(cs.Txs), len(cs.Anchors), len(cs.LastSeen))

	return cs, nil
}

// ApplyChangeSet inserts the contents of a change-set. Transactions stored
// under a txid other than their own are rejected before anything is
// inserted.
func (g *TxGraph) ApplyChangeSet(cs ChangeSet) error {
	u := TxUpdate{
		Txs:     make([]*wire.MsgTx, 0, len(cs.Txs)),
		Anchors: make([]TxAnchor, 0, len(cs.Anchors)),
		SeenAts: cs.LastSeen,
	}
	for txid, tx := range cs.Txs {
		if tx == nil || tx.TxHash() != txid {
			str := fmt.Sprintf("transaction stored under mismatched "+
				"txid %v", txid)
			return txGraphError(ErrInvalidChangeSet, str, nil)
		}
		u.Txs = append(u.Txs, tx)
	}
	for a := range cs.Anchors {
		u.Anchors = append(u.Anchors, a)
	}

	_, err := g.ApplyUpdate(u)
	return err
}

// InitialChangeSet returns a change-set that rebuilds the whole graph.
func (g *TxGraph) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for txid, tx := range g.txs {
		cs.Txs[txid] = tx
	}
	for txid, set := range g.anchors {
		for a := range set {
			cs.Anchors[TxAnchor{Txid: txid, Anchor: a}] = struct{}{}
		}
	}
	for txid, seen := range g.lastSeen {
		cs.LastSeen[txid] = seen
	}
	return cs
}
