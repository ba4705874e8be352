// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChangeSet records the additions made to a TxGraph. Every field is keyed by
// a stable identifier so applying the same change-set twice is a no-op.
type ChangeSet struct {
	// Txs holds full transactions keyed by txid.
	Txs map[chainhash.Hash]*wire.MsgTx

	// Anchors holds confirmation anchors.
	Anchors map[TxAnchor]struct{}

	// LastSeen holds the latest unconfirmed sighting per txid.
	LastSeen map[chainhash.Hash]uint64
}

// NewChangeSet returns an empty change-set.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Txs:      make(map[chainhash.Hash]*wire.MsgTx),
		Anchors:  make(map[TxAnchor]struct{}),
		LastSeen: make(map[chainhash.Hash]uint64),
	}
}

// IsEmpty returns whether the change-set records no additions.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Txs) == 0 && len(c.Anchors) == 0 && len(c.LastSeen) == 0
}

// Merge folds other into c. Transactions and anchors are unioned; for
// last-seen timestamps the later one wins.
func (c *ChangeSet) Merge(other ChangeSet) {
	if c.Txs == nil {
		c.Txs = make(map[chainhash.Hash]*wire.MsgTx, len(other.Txs))
	}
	if c.Anchors == nil {
		c.Anchors = make(map[TxAnchor]struct{}, len(other.Anchors))
	}
	if c.LastSeen == nil {
		c.LastSeen = make(map[chainhash.Hash]uint64, len(other.LastSeen))
	}

	for txid, tx := range other.Txs {
		c.Txs[txid] = tx
	}
	for a := range other.Anchors {
		c.Anchors[a] = struct{}{}
	}
	for txid, seen := range other.LastSeen {
		if cur, ok := c.LastSeen[txid]; !ok || seen > cur {
			c.LastSeen[txid] = seen
		}
	}
}
