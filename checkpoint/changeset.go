// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package checkpoint

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeSet records changes to a LocalChain keyed by height.  A Some entry
// sets the block hash at a height, a None entry removes the checkpoint at
// that height.
type ChangeSet struct {
	Blocks map[uint32]fn.Option[chainhash.Hash]
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{Blocks: make(map[uint32]fn.Option[chainhash.Hash])}
}

// IsEmpty returns true if the ChangeSet records nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Blocks) == 0
}

// Merge adds the entries of other to c.  Entries of other replace those of c
// at the same height.
func (c *ChangeSet) Merge(other ChangeSet) {
	if len(other.Blocks) == 0 {
		return
	}
	if c.Blocks == nil {
		c.Blocks = make(map[uint32]fn.Option[chainhash.Hash])
	}

	for height, hash := range other.Blocks {
		c.Blocks[height] = hash
	}
}

// Heights returns the heights recorded in c in ascending order.
func (c ChangeSet) Heights() []uint32 {
	heights := make([]uint32, 0, len(c.Blocks))
	for h := range c.Blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	return heights
}
