// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"iter"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CanonicalTx is a transaction that is part of the best history together
// with its position relative to the best chain.
type CanonicalTx struct {
	Txid     chainhash.Hash
	Tx       *wire.MsgTx
	Position ChainPosition
}

// FullTxOut is a canonical transaction output with the information needed to
// decide whether it may be spent.
type FullTxOut struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	Position ChainPosition

	// SpentBy is the canonical transaction spending the output, if any.
	SpentBy fn.Option[chainhash.Hash]

	IsCoinbase bool
}

// IsMature returns whether the output may be spent with respect to coinbase
// maturity. Outputs of ordinary transactions are always mature.
func (o FullTxOut) IsMature(tip, maturity uint32) bool {
	if !o.IsCoinbase {
		return true
	}
	return o.Position.IsConfirmed() &&
		o.Position.Confirmations(tip) >= maturity
}

// IsConfirmedAndSpendable returns whether the output is confirmed, mature
// and unspent.
func (o FullTxOut) IsConfirmedAndSpendable(tip, maturity uint32) bool {
	return o.Position.IsConfirmed() && o.SpentBy.IsNone() &&
		o.IsMature(tip, maturity)
}

// canonicalView is the result of canonicalizing a graph against a chain.
type canonicalView struct {
	txs     map[chainhash.Hash]*CanonicalTx
	spentBy map[wire.OutPoint]chainhash.Hash
}

// bestAnchor returns the lowest anchor of txid whose block is in the best
// chain.
func (g *TxGraph) bestAnchor(oracle ChainOracle,
	txid chainhash.Hash) fn.Option[Anchor] {

	for _, a := range g.Anchors(txid) {
		if oracle.IsBlockInChain(a.Block) {
			return fn.Some(a)
		}
	}
	return fn.None[Anchor]()
}

type candidate struct {
	txid chainhash.Hash
	pos  ChainPosition
}

// canonicalize decides which stored transactions form the best history.
//
// Transactions anchored in the best chain are considered first, lowest
// height first. Every other transaction that was seen unconfirmed, or whose
// anchors were all invalidated, is considered next: latest sighting first,
// larger txid first on ties, never-seen last. A candidate is accepted
// together with its not yet accepted ancestors unless one of them was
// rejected or one of them double spends an output already spent by an
// accepted transaction.
func (g *TxGraph) canonicalize(oracle ChainOracle) *canonicalView {
	v := &canonicalView{
		txs:     make(map[chainhash.Hash]*CanonicalTx, len(g.txs)),
		spentBy: make(map[wire.OutPoint]chainhash.Hash),
	}

	var confirmed, unconfirmed []candidate
	for txid := range g.txs {
		if a := g.bestAnchor(oracle, txid); a.IsSome() {
			confirmed = append(confirmed, candidate{
				txid: txid,
				pos: ChainPosition{
					Anchor:   a,
					LastSeen: g.LastSeen(txid),
				},
			})
			continue
		}

		seen := g.LastSeen(txid)
		if seen.IsNone() && len(g.anchors[txid]) == 0 {
			continue
		}
		unconfirmed = append(unconfirmed, candidate{
			txid: txid,
			pos:  ChainPosition{LastSeen: seen},
		})
	}

	sort.Slice(confirmed, func(i, j int) bool {
		a, b := confirmed[i], confirmed[j]
		ha := a.pos.Anchor.UnsafeFromSome().Block.Height
		hb := b.pos.Anchor.UnsafeFromSome().Block.Height
		if ha != hb {
			return ha < hb
		}
		return compareHash(a.txid, b.txid) < 0
	})
	sort.Slice(unconfirmed, func(i, j int) bool {
		a, b := unconfirmed[i], unconfirmed[j]
		if a.pos.LastSeen.IsSome() != b.pos.LastSeen.IsSome() {
			return a.pos.LastSeen.IsSome()
		}
		sa, sb := a.pos.LastSeen.UnwrapOr(0), b.pos.LastSeen.UnwrapOr(0)
		if sa != sb {
			return sa > sb
		}
		return compareHash(a.txid, b.txid) > 0
	})

	rejected := make(map[chainhash.Hash]struct{})
	for _, c := range confirmed {
		if !v.tryAccept(g, oracle, c, rejected) {
			log.Warnf("Confirmed transaction %v conflicts with the "+
				"best chain history", c.txid)
		}
	}
	for _, c := range unconfirmed {
		if !v.tryAccept(g, oracle, c, rejected) {
			log.Tracef("Transaction %v is not canonical", c.txid)
		}
	}

	return v
}

// tryAccept adds the candidate and its missing ancestors to the view. It
// reports whether the candidate is canonical afterwards.
func (v *canonicalView) tryAccept(g *TxGraph, oracle ChainOracle,
	c candidate, rejected map[chainhash.Hash]struct{}) bool {

	if _, ok := v.txs[c.txid]; ok {
		return true
	}
	if _, ok := rejected[c.txid]; ok {
		return false
	}

	// Collect the candidate and every stored ancestor that is not part
	// of the view yet.
	var (
		set     []chainhash.Hash
		visited = make(map[chainhash.Hash]struct{})
		stack   = []chainhash.Hash{c.txid}
	)
	for len(stack) > 0 {
		txid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[txid]; ok {
			continue
		}
		visited[txid] = struct{}{}

		if _, ok := rejected[txid]; ok {
			rejected[c.txid] = struct{}{}
			return false
		}
		set = append(set, txid)

		for _, in := range spentInputs(g.txs[txid]) {
			prev := in.PreviousOutPoint.Hash
			if _, ok := g.txs[prev]; !ok {
				continue
			}
			if _, ok := v.txs[prev]; ok {
				continue
			}
			stack = append(stack, prev)
		}
	}

	// The whole set must be free of double spends, both against the
	// view and among its own members.
	pending := make(map[wire.OutPoint]chainhash.Hash)
	for _, txid := range set {
		for _, in := range spentInputs(g.txs[txid]) {
			op := in.PreviousOutPoint
			if spender, ok := v.spentBy[op]; ok && spender != txid {
				rejected[c.txid] = struct{}{}
				return false
			}
			if spender, ok := pending[op]; ok && spender != txid {
				rejected[c.txid] = struct{}{}
				return false
			}
			pending[op] = txid
		}
	}

	for _, txid := range set {
		pos := c.pos
		if txid != c.txid {
			pos = ancestorPosition(g, oracle, txid, c)
		}
		v.txs[txid] = &CanonicalTx{
			Txid:     txid,
			Tx:       g.txs[txid],
			Position: pos,
		}
	}
	for op, txid := range pending {
		v.spentBy[op] = txid
	}

	return true
}

// ancestorPosition returns the position of an ancestor accepted on behalf
// of candidate c. Ancestors of a confirmed transaction are confirmed too;
// ancestors of an unconfirmed one inherit its sighting when they have none.
func ancestorPosition(g *TxGraph, oracle ChainOracle, txid chainhash.Hash,
	c candidate) ChainPosition {

	seen := g.LastSeen(txid)
	if c.pos.IsConfirmed() {
		if own := g.bestAnchor(oracle, txid); own.IsSome() {
			return ChainPosition{Anchor: own, LastSeen: seen}
		}
		return ChainPosition{
			Anchor:         c.pos.Anchor,
			TransitivelyBy: fn.Some(c.txid),
			LastSeen:       seen,
		}
	}

	if seen.IsNone() {
		seen = c.pos.LastSeen
	}
	return ChainPosition{LastSeen: seen}
}

// sorted returns the canonical transactions ancestors first. Confirmed
// transactions precede unconfirmed ones; the former are ordered by height,
// the latter by sighting.
func (v *canonicalView) sorted() []*CanonicalTx {
	txs := make([]*CanonicalTx, 0, len(v.txs))
	for _, ctx := range v.txs {
		txs = append(txs, ctx)
	}
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i].Position, txs[j].Position
		if a.IsConfirmed() != b.IsConfirmed() {
			return a.IsConfirmed()
		}
		if a.IsConfirmed() {
			ha := a.Anchor.UnsafeFromSome().Block.Height
			hb := b.Anchor.UnsafeFromSome().Block.Height
			if ha != hb {
				return ha < hb
			}
		} else {
			sa, sb := a.LastSeen.UnwrapOr(0), b.LastSeen.UnwrapOr(0)
			if sa != sb {
				return sa < sb
			}
		}
		return compareHash(txs[i].Txid, txs[j].Txid) < 0
	})
	return dependencySort(txs)
}

// ListCanonicalTxs returns the canonical transactions with respect to
// oracle, ancestors before descendants. The sequence is recomputed from the
// current graph state every time it is iterated.
func (g *TxGraph) ListCanonicalTxs(oracle ChainOracle) iter.Seq[CanonicalTx] {
	return func(yield func(CanonicalTx) bool) {
		for _, ctx := range g.canonicalize(oracle).sorted() {
			if !yield(*ctx) {
				return
			}
		}
	}
}

// CanonicalTx returns txid with its chain position if it is canonical.
func (g *TxGraph) CanonicalTx(oracle ChainOracle,
	txid chainhash.Hash) fn.Option[CanonicalTx] {

	ctx, ok := g.canonicalize(oracle).txs[txid]
	if !ok {
		return fn.None[CanonicalTx]()
	}
	return fn.Some(*ctx)
}

// IsCanonical returns whether txid is part of the best history.
func (g *TxGraph) IsCanonical(oracle ChainOracle, txid chainhash.Hash) bool {
	return g.CanonicalTx(oracle, txid).IsSome()
}

// fullTxOut builds the FullTxOut for op within view, if op belongs to a
// canonical transaction.
func (v *canonicalView) fullTxOut(op wire.OutPoint) fn.Option[FullTxOut] {
	ctx, ok := v.txs[op.Hash]
	if !ok || op.Index >= uint32(len(ctx.Tx.TxOut)) {
		return fn.None[FullTxOut]()
	}

	out := FullTxOut{
		OutPoint:   op,
		TxOut:      ctx.Tx.TxOut[op.Index],
		Position:   ctx.Position,
		IsCoinbase: blockchain.IsCoinBaseTx(ctx.Tx),
	}
	if spender, ok := v.spentBy[op]; ok {
		out.SpentBy = fn.Some(spender)
	}
	return fn.Some(out)
}

// FilterChainTxOuts returns the outputs among outpoints that belong to
// canonical transactions, in the order given. The sequence is recomputed
// from the current graph state every time it is iterated.
func (g *TxGraph) FilterChainTxOuts(oracle ChainOracle,
	outpoints []wire.OutPoint) iter.Seq[FullTxOut] {

	return func(yield func(FullTxOut) bool) {
		v := g.canonicalize(oracle)
		for _, op := range outpoints {
			out := v.fullTxOut(op)
			if out.IsNone() {
				continue
			}
			if !yield(out.UnsafeFromSome()) {
				return
			}
		}
	}
}

// FilterChainUnspents is FilterChainTxOuts restricted to outputs that no
// canonical transaction spends.
func (g *TxGraph) FilterChainUnspents(oracle ChainOracle,
	outpoints []wire.OutPoint) iter.Seq[FullTxOut] {

	return func(yield func(FullTxOut) bool) {
		for out := range g.FilterChainTxOuts(oracle, outpoints) {
			if out.SpentBy.IsSome() {
				continue
			}
			if !yield(out) {
				return
			}
		}
	}
}
