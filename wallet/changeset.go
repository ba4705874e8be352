// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeSet is the set of wallet mutations since it was last taken. It is
// the unit of persistence: merging the change-sets of a wallet in order and
// loading the result restores the wallet.
type ChangeSet struct {
	// Descriptor is the external keychain descriptor. It is only set by
	// the change-set that creates the wallet.
	Descriptor fn.Option[*descriptor.Descriptor]

	// ChangeDescriptor is the internal keychain descriptor.
	ChangeDescriptor fn.Option[*descriptor.Descriptor]

	// Network is the network the wallet was created for.
	Network fn.Option[netparams.Network]

	LocalChain checkpoint.ChangeSet
	TxGraph    wtxmgr.ChangeSet
	Indexer    waddrmgr.ChangeSet
}

// NewChangeSet returns an empty change-set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		LocalChain: checkpoint.NewChangeSet(),
		TxGraph:    wtxmgr.NewChangeSet(),
		Indexer:    waddrmgr.NewChangeSet(),
	}
}

// IsEmpty returns whether the change-set records no mutation.
func (c *ChangeSet) IsEmpty() bool {
	return c.Descriptor.IsNone() && c.ChangeDescriptor.IsNone() &&
		c.Network.IsNone() && c.LocalChain.IsEmpty() &&
		c.TxGraph.IsEmpty() && c.Indexer.IsEmpty()
}

// Merge folds other into c. Descriptors and network are taken from other
// when it sets them; the component change-sets merge by their own rules.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}

	if other.Descriptor.IsSome() {
		c.Descriptor = other.Descriptor
	}
	if other.ChangeDescriptor.IsSome() {
		c.ChangeDescriptor = other.ChangeDescriptor
	}
	if other.Network.IsSome() {
		c.Network = other.Network
	}

	c.LocalChain.Merge(other.LocalChain)
	c.TxGraph.Merge(other.TxGraph)
	c.Indexer.Merge(other.Indexer)
}
