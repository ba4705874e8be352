// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/stretchr/testify/require"
)

// TestCanonicalConfirmedAndStale checks that only anchors in the best chain
// confirm and that a transaction whose anchors were invalidated reappears
// as unconfirmed with its sighting.
func TestCanonicalConfirmedAndStale(t *testing.T) {
	t.Parallel()

	g := New()
	tx := spendTx([]wire.OutPoint{op(h("external"), 0)}, 50_000)
	txid := tx.TxHash()
	_, err := g.ApplyUpdate(TxUpdate{
		Txs:     []*wire.MsgTx{tx},
		SeenAts: map[chainhash.Hash]uint64{txid: 100},
	})
	require.NoError(t, err)
	_, err = g.InsertAnchor(txid, anchorAt(2, "B"))
	require.NoError(t, err)

	best := mustChain(t, block(0, "G"), block(1, "A"), block(2, "B"))
	ctx := g.CanonicalTx(best, txid)
	require.True(t, ctx.IsSome())
	pos := ctx.UnsafeFromSome().Position
	require.True(t, pos.IsConfirmed())
	require.Equal(t, uint32(2), pos.Height().UnsafeFromSome())
	require.Equal(t, uint32(1), pos.Confirmations(best.TipHeight()))

	reorged := mustChain(t, block(0, "G"), block(1, "A"), block(2, "B'"),
		block(3, "C'"))
	ctx = g.CanonicalTx(reorged, txid)
	require.True(t, ctx.IsSome())
	pos = ctx.UnsafeFromSome().Position
	require.False(t, pos.IsConfirmed())
	require.Equal(t, uint64(100), pos.LastSeen.UnsafeFromSome())
	require.Zero(t, pos.Confirmations(reorged.TipHeight()))

	// A transaction never seen and never anchored is not canonical.
	loose := spendTx([]wire.OutPoint{op(h("other"), 0)}, 1)
	g.InsertTx(loose)
	require.False(t, g.IsCanonical(best, loose.TxHash()))
}

// TestCanonicalConflicts exercises double spend resolution.
func TestCanonicalConflicts(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, block(0, "G"), block(1, "A"))
	funding := op(h("external"), 0)

	early := spendTx([]wire.OutPoint{funding}, 1_000)
	late := spendTx([]wire.OutPoint{funding}, 900)
	earlyChild := spendTx([]wire.OutPoint{op(early.TxHash(), 0)}, 800)

	tests := []struct {
		name      string
		anchors   []TxAnchor
		seen      map[chainhash.Hash]uint64
		canonical []chainhash.Hash
		excluded  []chainhash.Hash
	}{{
		name: "later sighting wins",
		seen: map[chainhash.Hash]uint64{
			early.TxHash(): 10,
			late.TxHash():  20,
		},
		canonical: []chainhash.Hash{late.TxHash()},
		excluded: []chainhash.Hash{
			early.TxHash(), earlyChild.TxHash(),
		},
	}, {
		name: "confirmed beats later sighting",
		anchors: []TxAnchor{{
			Txid:   early.TxHash(),
			Anchor: anchorAt(1, "A"),
		}},
		seen: map[chainhash.Hash]uint64{
			early.TxHash(): 10,
			late.TxHash():  20,
		},
		canonical: []chainhash.Hash{early.TxHash()},
		excluded:  []chainhash.Hash{late.TxHash()},
	}, {
		name: "descendant sighting carries its ancestor",
		seen: map[chainhash.Hash]uint64{
			early.TxHash():      10,
			late.TxHash():       20,
			earlyChild.TxHash(): 30,
		},
		canonical: []chainhash.Hash{
			early.TxHash(), earlyChild.TxHash(),
		},
		excluded: []chainhash.Hash{late.TxHash()},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			g := New()
			_, err := g.ApplyUpdate(TxUpdate{
				Txs: []*wire.MsgTx{
					early, late, earlyChild,
				},
				Anchors: test.anchors,
				SeenAts: test.seen,
			})
			require.NoError(t, err)

			got := canonicalTxids(g, chain)
			require.ElementsMatch(t, test.canonical, got)
			for _, txid := range test.excluded {
				require.False(t, g.IsCanonical(chain, txid))
			}
		})
	}
}

// TestCanonicalTransitive ensures ancestors of a confirmed transaction are
// confirmed through it and listed first.
func TestCanonicalTransitive(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, block(0, "G"), block(5, "E"))
	parent := spendTx([]wire.OutPoint{op(h("external"), 0)}, 2_000)
	child := spendTx([]wire.OutPoint{op(parent.TxHash(), 0)}, 1_500)

	g := New()
	_, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{child, parent},
		Anchors: []TxAnchor{{
			Txid:   child.TxHash(),
			Anchor: anchorAt(5, "E"),
		}},
	})
	require.NoError(t, err)

	got := canonicalTxids(g, chain)
	require.Equal(t, []chainhash.Hash{parent.TxHash(), child.TxHash()}, got)

	// The sequence is restartable.
	require.Equal(t, got, canonicalTxids(g, chain))

	pos := g.CanonicalTx(chain, parent.TxHash()).UnsafeFromSome().Position
	require.True(t, pos.IsConfirmed())
	require.Equal(t, child.TxHash(), pos.TransitivelyBy.UnsafeFromSome())

	outs := []wire.OutPoint{op(parent.TxHash(), 0), op(child.TxHash(), 0)}
	var spent, unspent int
	for out := range g.FilterChainTxOuts(chain, outs) {
		if out.SpentBy.IsSome() {
			require.Equal(t, child.TxHash(),
				out.SpentBy.UnsafeFromSome())
			spent++
		}
	}
	for out := range g.FilterChainUnspents(chain, outs) {
		require.Equal(t, op(child.TxHash(), 0), out.OutPoint)
		unspent++
	}
	require.Equal(t, 1, spent)
	require.Equal(t, 1, unspent)
}

// TestBalance checks every balance partition.
func TestBalance(t *testing.T) {
	t.Parallel()

	g := New()
	chain := mustChain(t, block(0, "G"), block(1, "A"))
	match := func(script []byte) bool { return true }

	// An empty graph has a zero balance.
	bal := g.Balance(chain, g.Outpoints(match), nil, 100)
	require.Equal(t, Balance{}, bal)

	confirmed := spendTx([]wire.OutPoint{op(h("external"), 0)}, 50_000)
	_, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{confirmed},
		Anchors: []TxAnchor{{
			Txid:   confirmed.TxHash(),
			Anchor: anchorAt(1, "A"),
		}},
	})
	require.NoError(t, err)

	bal = g.Balance(chain, g.Outpoints(match), nil, 100)
	require.Equal(t, btcutil.Amount(50_000), bal.Confirmed)
	require.Equal(t, btcutil.Amount(50_000), bal.Total())

	// Spend it to ourselves, 1,000 trusted change and 2,000 to a script
	// we do not trust.
	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: confirmed.TxHash(),
	}, nil, nil))
	spend.AddTxOut(wire.NewTxOut(1_000, ourScript))
	spend.AddTxOut(wire.NewTxOut(2_000, theirScript))
	_, err = g.ApplyUpdate(TxUpdate{
		Txs:     []*wire.MsgTx{spend},
		SeenAts: map[chainhash.Hash]uint64{spend.TxHash(): 5},
	})
	require.NoError(t, err)

	trusted := func(script []byte) bool {
		return string(script) == string(ourScript)
	}
	bal = g.Balance(chain, g.Outpoints(match), trusted, 100)
	require.Equal(t, Balance{
		TrustedPending:   1_000,
		UntrustedPending: 2_000,
	}, bal)
	require.Equal(t, btcutil.Amount(1_000), bal.TrustedSpendable())
}

// TestBalanceCoinbaseMaturity ensures coinbase outputs stay immature until
// they have enough confirmations.
func TestBalanceCoinbaseMaturity(t *testing.T) {
	t.Parallel()

	cb := coinbaseTx(7, 625_000_000)
	g := New()
	_, err := g.ApplyUpdate(TxUpdate{
		Txs: []*wire.MsgTx{cb},
		Anchors: []TxAnchor{{
			Txid:   cb.TxHash(),
			Anchor: anchorAt(1, "A"),
		}},
	})
	require.NoError(t, err)
	outs := []wire.OutPoint{op(cb.TxHash(), 0)}

	tests := []struct {
		name     string
		tip      uint32
		maturity uint32
		want     Balance
	}{
		{
			name:     "one confirmation",
			tip:      1,
			maturity: 100,
			want:     Balance{Immature: 625_000_000},
		},
		{
			name:     "one short",
			tip:      99,
			maturity: 100,
			want:     Balance{Immature: 625_000_000},
		},
		{
			name:     "mature",
			tip:      100,
			maturity: 100,
			want:     Balance{Confirmed: 625_000_000},
		},
		{
			name:     "custom maturity",
			tip:      5,
			maturity: 5,
			want:     Balance{Confirmed: 625_000_000},
		},
	}

	for _, test := range tests {
		blocks := []checkpoint.BlockID{block(0, "G"), block(1, "A")}
		if test.tip > 1 {
			blocks = append(blocks, block(test.tip, "T"))
		}
		chain := mustChain(t, blocks...)

		bal := g.Balance(chain, outs, nil, test.maturity)
		require.Equal(t, test.want, bal, test.name)

		out := g.CanonicalTx(chain, cb.TxHash())
		require.True(t, out.IsSome(), test.name)
	}
}
