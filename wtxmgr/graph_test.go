// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	ourScript   = []byte{0x00, 0x14, 0x01, 0x02, 0x03}
	theirScript = []byte{0x00, 0x14, 0x09, 0x09, 0x09}
)

func h(label string) chainhash.Hash {
	return chainhash.DoubleHashH([]byte(label))
}

func block(height uint32, label string) checkpoint.BlockID {
	return checkpoint.BlockID{Height: height, Hash: h(label)}
}

func anchorAt(height uint32, label string) Anchor {
	return Anchor{Block: block(height, label), ConfirmationTime: 1000}
}

func op(txid chainhash.Hash, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: txid, Index: index}
}

// spendTx spends prevs and pays ourScript once per value.
func spendTx(prevs []wire.OutPoint, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, prev := range prevs {
		tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	}
	for _, v := range values {
		tx.AddTxOut(wire.NewTxOut(v, ourScript))
	}
	return tx
}

func coinbaseTx(tag byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex)
	tx.AddTxIn(wire.NewTxIn(prev, []byte{0x01, tag}, nil))
	tx.AddTxOut(wire.NewTxOut(value, ourScript))
	return tx
}

func mustChain(t *testing.T, blocks ...checkpoint.BlockID) *checkpoint.LocalChain {
	t.Helper()

	tip, err := checkpoint.FromBlockIDs(blocks)
	require.NoError(t, err)

	chain, err := checkpoint.FromTip(tip)
	require.NoError(t, err)

	return chain
}

func canonicalTxids(g *TxGraph, oracle ChainOracle) []chainhash.Hash {
	var txids []chainhash.Hash
	for ctx := range g.ListCanonicalTxs(oracle) {
		txids = append(txids, ctx.Txid)
	}
	return txids
}

// TestInsertTx ensures inserting a transaction twice only records it once
// and that spend edges are tracked.
func TestInsertTx(t *testing.T) {
	t.Parallel()

	g := New()
	funding := op(h("external"), 0)
	tx := spendTx([]wire.OutPoint{funding}, 50_000)

	cs := g.InsertTx(tx)
	require.Len(t, cs.Txs, 1)
	require.Contains(t, cs.Txs, tx.TxHash())

	cs = g.InsertTx(tx)
	require.True(t, cs.IsEmpty())
	require.Equal(t, 1, g.Len())

	require.Equal(t, []chainhash.Hash{tx.TxHash()}, g.SpentBy(funding))
	require.True(t, g.GetTx(tx.TxHash()).IsSome())
	require.True(t, g.GetTxOut(op(tx.TxHash(), 0)).IsSome())
	require.True(t, g.GetTxOut(op(tx.TxHash(), 1)).IsNone())

	// A coinbase input does not create a spend edge.
	cb := coinbaseTx(1, 10)
	g.InsertTx(cb)
	require.Empty(t, g.SpentBy(cb.TxIn[0].PreviousOutPoint))
}

// TestInsertAnchorAndSeenAt checks orphan detection and the monotonic
// last-seen rule.
func TestInsertAnchorAndSeenAt(t *testing.T) {
	t.Parallel()

	g := New()
	tx := spendTx([]wire.OutPoint{op(h("external"), 0)}, 1_000)
	txid := tx.TxHash()

	_, err := g.InsertAnchor(txid, anchorAt(1, "A"))
	require.True(t, IsError(err, ErrOrphanAnchor), spew.Sdump(err))

	_, err = g.InsertSeenAt(txid, 10)
	require.True(t, IsError(err, ErrOrphanSeenAt))

	g.InsertTx(tx)

	cs, err := g.InsertAnchor(txid, anchorAt(1, "A"))
	require.NoError(t, err)
	require.Len(t, cs.Anchors, 1)

	cs, err = g.InsertAnchor(txid, anchorAt(1, "A"))
	require.NoError(t, err)
	require.True(t, cs.IsEmpty())

	tests := []struct {
		name    string
		seenAt  uint64
		changed bool
		want    uint64
	}{
		{name: "first sighting", seenAt: 10, changed: true, want: 10},
		{name: "earlier ignored", seenAt: 5, changed: false, want: 10},
		{name: "equal ignored", seenAt: 10, changed: false, want: 10},
		{name: "later wins", seenAt: 20, changed: true, want: 20},
	}
	for _, test := range tests {
		cs, err := g.InsertSeenAt(txid, test.seenAt)
		require.NoError(t, err, test.name)
		require.Equal(t, test.changed, !cs.IsEmpty(), test.name)
		require.Equal(t, fn.Some(test.want), g.LastSeen(txid),
			test.name)
	}
}

// TestApplyUpdateValidation ensures an invalid update leaves the graph
// untouched.
func TestApplyUpdateValidation(t *testing.T) {
	t.Parallel()

	g := New()
	tx := spendTx([]wire.OutPoint{op(h("external"), 0)}, 1_000)

	_, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{tx},
		Anchors: []TxAnchor{{
			Txid:   h("missing"),
			Anchor: anchorAt(1, "A"),
		}},
	})
	require.True(t, IsError(err, ErrOrphanAnchor))
	require.Zero(t, g.Len())

	_, err = g.ApplyUpdate(TxUpdate{
		Txs:     []*wire.MsgTx{tx},
		SeenAts: map[chainhash.Hash]uint64{h("missing"): 1},
	})
	require.True(t, IsError(err, ErrOrphanSeenAt))
	require.Zero(t, g.Len())

	cs, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{tx},
		Anchors: []TxAnchor{{
			Txid:   tx.TxHash(),
			Anchor: anchorAt(1, "A"),
		}},
		SeenAts: map[chainhash.Hash]uint64{tx.TxHash(): 7},
	})
	require.NoError(t, err)
	require.Len(t, cs.Txs, 1)
	require.Len(t, cs.Anchors, 1)
	require.Len(t, cs.LastSeen, 1)

	// Applying it again changes nothing.
	cs, err = g.ApplyUpdate(TxUpdate{Txs: []*wire.MsgTx{tx}})
	require.NoError(t, err)
	require.True(t, cs.IsEmpty())
}

// TestChangeSetRoundTrip rebuilds a graph from its initial change-set and
// merges change-sets.
func TestChangeSetRoundTrip(t *testing.T) {
	t.Parallel()

	g := New()
	parent := spendTx([]wire.OutPoint{op(h("external"), 0)}, 5_000)
	child := spendTx([]wire.OutPoint{op(parent.TxHash(), 0)}, 4_000)
	_, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{parent, child},
		Anchors: []TxAnchor{{
			Txid:   parent.TxHash(),
			Anchor: anchorAt(1, "A"),
		}},
		SeenAts: map[chainhash.Hash]uint64{child.TxHash(): 30},
	})
	require.NoError(t, err)

	rebuilt := New()
	require.NoError(t, rebuilt.ApplyChangeSet(g.InitialChangeSet()))
	require.Equal(t, g.InitialChangeSet(), rebuilt.InitialChangeSet())

	// Re-applying is a no-op.
	require.NoError(t, rebuilt.ApplyChangeSet(g.InitialChangeSet()))
	require.Equal(t, 2, rebuilt.Len())

	a := NewChangeSet()
	a.LastSeen[child.TxHash()] = 50
	b := NewChangeSet()
	b.LastSeen[child.TxHash()] = 40
	b.Txs[parent.TxHash()] = parent
	a.Merge(b)
	require.Equal(t, uint64(50), a.LastSeen[child.TxHash()])
	require.Len(t, a.Txs, 1)

	var zero ChangeSet
	require.True(t, zero.IsEmpty())
	zero.Merge(a)
	require.False(t, zero.IsEmpty())

	bad := NewChangeSet()
	bad.Txs[h("wrong")] = parent
	err = New().ApplyChangeSet(bad)
	require.True(t, IsError(err, ErrInvalidChangeSet))
}

// TestErrorCodeString ensures error codes print their names.
func TestErrorCodeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ErrOrphanAnchor", ErrOrphanAnchor.String())
	require.Equal(t, "Unknown ErrorCode (99)", ErrorCode(99).String())

	err := txGraphError(ErrTxNotFound, "missing", nil)
	require.Equal(t, "missing", err.Error())
	require.False(t, IsError(err, ErrOrphanAnchor))
}
