// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Anchor ties a transaction to the block that confirmed it. A transaction
// may carry several anchors (one per fork it was mined in); only the ones
// whose block is part of the best chain count.
type Anchor struct {
	// Block is the confirming block.
	Block checkpoint.BlockID

	// ConfirmationTime is the unix timestamp of the confirming block, or
	// zero when unknown.
	ConfirmationTime uint64
}

// String returns a human readable form of the anchor.
func (a Anchor) String() string {
	return fmt.Sprintf("%v@%d", a.Block, a.ConfirmationTime)
}

// TxAnchor is an anchor keyed by the transaction it anchors. It is used as
// a set key in change-sets and updates.
type TxAnchor struct {
	Txid   chainhash.Hash
	Anchor Anchor
}

// ChainOracle answers whether a block is part of the best chain. The local
// checkpoint chain implements it.
type ChainOracle interface {
	// IsBlockInChain returns whether the block with the given height and
	// hash is part of the best chain.
	IsBlockInChain(id checkpoint.BlockID) bool

	// TipHeight returns the height of the best chain tip.
	TipHeight() uint32
}

// ChainPosition describes where a canonical transaction sits relative to the
// best chain.
type ChainPosition struct {
	// Anchor is set when the transaction is confirmed. For a transaction
	// that is only confirmed because a descendant is, it is the
	// descendant's anchor.
	Anchor fn.Option[Anchor]

	// TransitivelyBy is the txid of the confirmed descendant from which
	// the confirmation was inferred.
	TransitivelyBy fn.Option[chainhash.Hash]

	// LastSeen is the last time the transaction was seen unconfirmed.
	LastSeen fn.Option[uint64]
}

// IsConfirmed returns whether the position is in a block of the best chain.
func (p ChainPosition) IsConfirmed() bool {
	return p.Anchor.IsSome()
}

// Height returns the confirmation height, if confirmed.
func (p ChainPosition) Height() fn.Option[uint32] {
	if p.Anchor.IsNone() {
		return fn.None[uint32]()
	}
	return fn.Some(p.Anchor.UnsafeFromSome().Block.Height)
}

// Confirmations returns the number of confirmations the position has with
// the given best chain tip.
func (p ChainPosition) Confirmations(tip uint32) uint32 {
	if p.Anchor.IsNone() {
		return 0
	}
	return confirms(p.Anchor.UnsafeFromSome().Block.Height, tip)
}

// String returns a human readable form of the position.
func (p ChainPosition) String() string {
	if p.Anchor.IsSome() {
		return fmt.Sprintf("confirmed(%v)", p.Anchor.UnsafeFromSome())
	}
	return fmt.Sprintf("unconfirmed(last_seen=%d)", p.LastSeen.UnwrapOr(0))
}

// confirms returns the number of confirmations for a transaction in a block
// at height txHeight given the chain height curHeight. A block above the tip
// has none.
func confirms(txHeight, curHeight uint32) uint32 {
	if txHeight > curHeight {
		return 0
	}
	return curHeight - txHeight + 1
}

// compareHash orders hashes by their byte representation.
func compareHash(a, b chainhash.Hash) int {
	return bytes.Compare(a[:], b[:])
}

// sortAnchors orders anchors by ascending height, then hash, then time.
func sortAnchors(anchors []Anchor) {
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if a.Block.Height != b.Block.Height {
			return a.Block.Height < b.Block.Height
		}
		if c := compareHash(a.Block.Hash, b.Block.Hash); c != 0 {
			return c < 0
		}
		return a.ConfirmationTime < b.ConfirmationTime
	})
}
