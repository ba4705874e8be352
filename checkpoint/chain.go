// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package checkpoint

import (
	"errors"
	"fmt"
	"iter"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrCannotConnect is returned when an update chain has no
	// unambiguous point of agreement with the local chain.
	ErrCannotConnect = errors.New("update does not connect to local chain")

	// ErrMissingGenesis is returned when a ChangeSet used to construct a
	// LocalChain has no block at height zero.
	ErrMissingGenesis = errors.New("chain has no genesis block")

	// ErrAlterGenesis is returned when an operation would replace or
	// remove the genesis block.
	ErrAlterGenesis = errors.New("cannot alter genesis block")
)

// LocalChain is the wallet's sparse view of the best chain.  It always
// contains the genesis block.
//
// LocalChain is not safe for concurrent mutation, but the CheckPoint returned
// by Tip may be used from any goroutine.
type LocalChain struct {
	tip CheckPoint
}

// NewFromGenesis creates a chain holding only the genesis block and returns
// the ChangeSet that recreates it.
func NewFromGenesis(hash chainhash.Hash) (*LocalChain, ChangeSet) {
	chain := &LocalChain{tip: New(BlockID{Height: 0, Hash: hash})}

	return chain, chain.InitialChangeSet()
}

// FromTip creates a chain from an existing checkpoint chain, which must be
// based at the genesis block.
func FromTip(tip CheckPoint) (*LocalChain, error) {
	if tip.IsZero() || tip.Base().Height() != 0 {
		return nil, ErrMissingGenesis
	}

	return &LocalChain{tip: tip}, nil
}

// FromChangeSet creates a chain from the Some entries of cs.
func FromChangeSet(cs ChangeSet) (*LocalChain, error) {
	genesis, ok := cs.Blocks[0]
	if !ok || genesis.IsNone() {
		return nil, ErrMissingGenesis
	}

	tip := New(BlockID{Height: 0, Hash: genesis.UnsafeFromSome()})
	for _, height := range cs.Heights() {
		if height == 0 {
			continue
		}

		hash := cs.Blocks[height]
		if hash.IsNone() {
			continue
		}

		var err error
		tip, err = tip.Push(BlockID{
			Height: height,
			Hash:   hash.UnsafeFromSome(),
		})
		if err != nil {
			return nil, err
		}
	}

	return &LocalChain{tip: tip}, nil
}

// Tip returns the highest checkpoint of the chain.
func (c *LocalChain) Tip() CheckPoint {
	return c.tip
}

// GenesisHash returns the hash of the genesis block.
func (c *LocalChain) GenesisHash() chainhash.Hash {
	return c.tip.Base().Hash()
}

// Get returns the checkpoint at height.
func (c *LocalChain) Get(height uint32) fn.Option[CheckPoint] {
	return c.tip.Get(height)
}

// IsBlockInChain returns true if the block is part of the chain.
func (c *LocalChain) IsBlockInChain(id BlockID) bool {
	return c.tip.Contains(id)
}

// TipHeight returns the height of the chain tip.
func (c *LocalChain) TipHeight() uint32 {
	return c.tip.Height()
}

// InitialChangeSet returns a ChangeSet that recreates the whole chain.
func (c *LocalChain) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for cp := range c.tip.Iter() {
		cs.Blocks[cp.Height()] = fn.Some(cp.Hash())
	}

	return cs
}

// InsertBlock inserts a single block.  A different block already present at
// the same height is replaced and every checkpoint above it is removed.
func (c *LocalChain) InsertBlock(id BlockID) (ChangeSet, error) {
	cs := NewChangeSet()

	existing := c.tip.Get(id.Height)
	if existing.IsSome() {
		if existing.UnsafeFromSome().Hash() == id.Hash {
			return cs, nil
		}
		if id.Height == 0 {
			return ChangeSet{}, ErrAlterGenesis
		}

		for cp := range c.tip.Iter() {
			if cp.Height() <= id.Height {
				break
			}
			cs.Blocks[cp.Height()] = fn.None[chainhash.Hash]()
		}
	}

	c.tip = c.tip.Insert(id)
	cs.Blocks[id.Height] = fn.Some(id.Hash)

	log.Debugf("Inserted block %v, tip now %v", id, c.tip.BlockID())

	return cs, nil
}

// MergeResult describes the outcome of merging an update chain.
type MergeResult struct {
	// ChangeSet holds the changes the merge makes to the local chain.
	ChangeSet ChangeSet

	// Tip is the tip of the merged chain.
	Tip CheckPoint

	// Invalidated is the lowest height whose local block the merge
	// replaces or removes, if any.
	Invalidated fn.Option[uint32]
}

// ReorgDepth returns the number of local blocks from the invalidated height
// up to and including the tip before the merge.  It is zero if the merge
// does not invalidate anything.
func (r MergeResult) ReorgDepth(oldTip uint32) uint32 {
	if r.Invalidated.IsNone() {
		return 0
	}

	lowest := r.Invalidated.UnsafeFromSome()
	if lowest > oldTip {
		return 0
	}

	return oldTip - lowest + 1
}

// PreviewUpdate computes the result of merging update into the chain without
// modifying it.
func (c *LocalChain) PreviewUpdate(update CheckPoint) (MergeResult, error) {
	cs, err := mergeChains(c.tip, update)
	if err != nil {
		return MergeResult{}, err
	}

	if hash, ok := cs.Blocks[0]; ok &&
		(hash.IsNone() || hash.UnsafeFromSome() != c.GenesisHash()) {

		return MergeResult{}, fmt.Errorf("%w: %w", ErrCannotConnect,
			ErrAlterGenesis)
	}

	result := MergeResult{
		ChangeSet:   cs,
		Tip:         applyChangeSet(c.tip, cs),
		Invalidated: fn.None[uint32](),
	}
	for _, height := range cs.Heights() {
		cur := c.tip.Get(height)
		if cur.IsNone() {
			continue
		}

		hash := cs.Blocks[height]
		if hash.IsNone() || hash.UnsafeFromSome() !=
			cur.UnsafeFromSome().Hash() {

			result.Invalidated = fn.Some(height)
			break
		}
	}

	return result, nil
}

// ApplyUpdate merges an update chain into the chain.  The update must agree
// with the local chain at some height, and any local block above that height
// it does not include must lie below a block it replaces.
func (c *LocalChain) ApplyUpdate(update CheckPoint) (ChangeSet, error) {
	result, err := c.PreviewUpdate(update)
	if err != nil {
		return ChangeSet{}, err
	}
	c.tip = result.Tip

	result.Invalidated.WhenSome(func(h uint32) {
		log.Infof("Chain reorganized from height %d, new tip %v", h,
			c.tip.BlockID())
	})

	return result.ChangeSet, nil
}

// ApplyChangeSet applies a ChangeSet to the chain.
func (c *LocalChain) ApplyChangeSet(cs ChangeSet) error {
	if hash, ok := cs.Blocks[0]; ok &&
		(hash.IsNone() || hash.UnsafeFromSome() != c.GenesisHash()) {

		return ErrAlterGenesis
	}

	c.tip = applyChangeSet(c.tip, cs)

	return nil
}

// applyChangeSet returns the chain that results from applying cs to tip,
// sharing every checkpoint below the lowest change.  cs must not remove the
// base of tip.
func applyChangeSet(tip CheckPoint, cs ChangeSet) CheckPoint {
	heights := cs.Heights()
	if len(heights) == 0 {
		return tip
	}
	lowest := heights[0]

	// Collect the blocks at and above the lowest change, then rebuild them
	// on top of the untouched base.
	blocks := make(map[uint32]chainhash.Hash)
	base := fn.None[CheckPoint]()
	for cp := range tip.Iter() {
		if cp.Height() < lowest {
			base = fn.Some(cp)
			break
		}
		blocks[cp.Height()] = cp.Hash()
	}
	for height, hash := range cs.Blocks {
		if hash.IsNone() {
			delete(blocks, height)
			continue
		}
		blocks[height] = hash.UnsafeFromSome()
	}

	rebuilt := ChangeSet{Blocks: make(
		map[uint32]fn.Option[chainhash.Hash], len(blocks),
	)}
	for height, hash := range blocks {
		rebuilt.Blocks[height] = fn.Some(hash)
	}

	var newTip CheckPoint
	for i, height := range rebuilt.Heights() {
		id := BlockID{Height: height, Hash: blocks[height]}
		if i == 0 && base.IsNone() {
			newTip = New(id)
			continue
		}
		if i == 0 {
			newTip = base.UnsafeFromSome()
		}
		newTip, _ = newTip.Push(id)
	}
	if newTip.IsZero() {
		return base.UnsafeFromSome()
	}

	return newTip
}

// mergeChains walks both chains from their tips downwards and computes the
// changes that connect update to original.
func mergeChains(original, update CheckPoint) (ChangeSet, error) {
	cs := NewChangeSet()

	nextOrig, stopOrig := iter.Pull(original.Iter())
	defer stopOrig()
	nextUpdate, stopUpdate := iter.Pull(update.Iter())
	defer stopUpdate()

	var (
		curOrig, curUpdate   fn.Option[CheckPoint]
		prevOrig, prevUpdate fn.Option[CheckPoint]

		agreementFound         bool
		prevOrigWasInvalidated bool
		potentiallyInvalidated []uint32
	)

	pull := func(next func() (CheckPoint, bool)) fn.Option[CheckPoint] {
		cp, ok := next()
		if !ok {
			return fn.None[CheckPoint]()
		}
		return fn.Some(cp)
	}

	for {
		if curOrig.IsNone() {
			curOrig = pull(nextOrig)
		}
		if curUpdate.IsNone() {
			curUpdate = pull(nextUpdate)
		}
		if curUpdate.IsNone() {
			break
		}
		u := curUpdate.UnsafeFromSome()

		if curOrig.IsNone() {
			cs.Blocks[u.Height()] = fn.Some(u.Hash())
			prevUpdate, curUpdate = curUpdate, fn.None[CheckPoint]()
			continue
		}
		o := curOrig.UnsafeFromSome()

		switch {
		case u.Height() > o.Height():
			cs.Blocks[u.Height()] = fn.Some(u.Hash())
			prevUpdate, curUpdate = curUpdate, fn.None[CheckPoint]()

		case o.Height() > u.Height():
			potentiallyInvalidated = append(
				potentiallyInvalidated, o.Height(),
			)
			prevOrigWasInvalidated = false
			prevOrig, curOrig = curOrig, fn.None[CheckPoint]()

		case o.Hash() == u.Hash():
			// The point of agreement must be unambiguous: the
			// original block above it, if any, has to be replaced
			// by the update.
			if !prevOrigWasInvalidated && !agreementFound &&
				prevOrig.IsSome() && prevUpdate.IsSome() {

				return ChangeSet{}, fmt.Errorf("%w: try "+
					"including height %d", ErrCannotConnect,
					prevOrig.UnsafeFromSome().Height())
			}
			agreementFound = true
			prevOrigWasInvalidated = false

			// Identical nodes share everything below.
			if o.Same(u) {
				return cs, nil
			}

			prevUpdate, curUpdate = curUpdate, fn.None[CheckPoint]()
			prevOrig, curOrig = curOrig, fn.None[CheckPoint]()

		default:
			cs.Blocks[u.Height()] = fn.Some(u.Hash())
			for _, h := range potentiallyInvalidated {
				cs.Blocks[h] = fn.None[chainhash.Hash]()
			}
			potentiallyInvalidated = potentiallyInvalidated[:0]
			prevOrigWasInvalidated = true

			prevUpdate, curUpdate = curUpdate, fn.None[CheckPoint]()
			prevOrig, curOrig = curOrig, fn.None[CheckPoint]()
		}
	}

	// Without a point of agreement the whole original chain has to be
	// invalidated.
	if !prevOrigWasInvalidated && !agreementFound && prevOrig.IsSome() {
		return ChangeSet{}, fmt.Errorf("%w: try including height %d",
			ErrCannotConnect, prevOrig.UnsafeFromSome().Height())
	}
	if !agreementFound && !prevOrigWasInvalidated && curOrig.IsSome() {
		return ChangeSet{}, fmt.Errorf("%w: update shares no block "+
			"with local chain", ErrCannotConnect)
	}

	return cs, nil
}
