// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package checkpoint implements the wallet's view of the best chain as a
// sparse list of block checkpoints.
//
// Checkpoints are nodes of an append-only arena.  A CheckPoint value is a
// handle to one node and, through the parent links, to every checkpoint
// below it.  Nodes are never modified once written, so a CheckPoint held by
// another goroutine keeps describing the same chain while new nodes are
// appended for later chain states.
package checkpoint

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNotAscending is returned when a checkpoint is pushed at a height that is
// not above the current one.
var ErrNotAscending = errors.New("checkpoint heights must strictly increase")

// noParent marks the base node of a chain.
const noParent = -1

// BlockID identifies a block by its height and hash.
type BlockID struct {
	Height uint32
	Hash   chainhash.Hash
}

// String returns the block ID in the form height:hash.
func (b BlockID) String() string {
	return fmt.Sprintf("%d:%v", b.Height, b.Hash)
}

type node struct {
	id     BlockID
	parent int
}

// arena stores checkpoint nodes.  Nodes are only ever appended.
type arena struct {
	mu    sync.RWMutex
	nodes []node
}

func (a *arena) get(i int) node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.nodes[i]
}

func (a *arena) push(id BlockID, parent int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nodes = append(a.nodes, node{id: id, parent: parent})

	return len(a.nodes) - 1
}

// CheckPoint is an immutable handle to a block checkpoint and the chain of
// checkpoints below it.  The zero value is not a valid checkpoint.
type CheckPoint struct {
	a   *arena
	idx int
}

// New returns a chain consisting of a single checkpoint.
func New(id BlockID) CheckPoint {
	a := &arena{}
	return CheckPoint{a: a, idx: a.push(id, noParent)}
}

// FromBlockIDs builds a chain from block IDs given in ascending height
// order.
func FromBlockIDs(ids []BlockID) (CheckPoint, error) {
	if len(ids) == 0 {
		return CheckPoint{}, fmt.Errorf("no block IDs")
	}

	return New(ids[0]).Extend(ids[1:]...)
}

// IsZero returns true for the zero value.
func (c CheckPoint) IsZero() bool {
	return c.a == nil
}

func (c CheckPoint) node() node {
	return c.a.get(c.idx)
}

// BlockID returns the block the checkpoint refers to.
func (c CheckPoint) BlockID() BlockID {
	return c.node().id
}

// Height returns the height of the checkpoint.
func (c CheckPoint) Height() uint32 {
	return c.node().id.Height
}

// Hash returns the block hash of the checkpoint.
func (c CheckPoint) Hash() chainhash.Hash {
	return c.node().id.Hash
}

// Prev returns the checkpoint directly below c.
func (c CheckPoint) Prev() fn.Option[CheckPoint] {
	parent := c.node().parent
	if parent == noParent {
		return fn.None[CheckPoint]()
	}

	return fn.Some(CheckPoint{a: c.a, idx: parent})
}

// Same returns true if both checkpoints are the same arena node.  Equal
// nodes share their entire history.
func (c CheckPoint) Same(other CheckPoint) bool {
	return c.a == other.a && c.idx == other.idx
}

// Iter yields c and every checkpoint below it in descending height order.
func (c CheckPoint) Iter() iter.Seq[CheckPoint] {
	return func(yield func(CheckPoint) bool) {
		if c.IsZero() {
			return
		}

		cur := c
		for {
			if !yield(cur) {
				return
			}

			n := cur.node()
			if n.parent == noParent {
				return
			}
			cur = CheckPoint{a: c.a, idx: n.parent}
		}
	}
}

// Range yields the checkpoints with lo <= height <= hi in descending height
// order.
func (c CheckPoint) Range(lo, hi uint32) iter.Seq[CheckPoint] {
	return func(yield func(CheckPoint) bool) {
		for cp := range c.Iter() {
			h := cp.Height()
			if h > hi {
				continue
			}
			if h < lo || !yield(cp) {
				return
			}
		}
	}
}

// Base returns the lowest checkpoint of the chain.
func (c CheckPoint) Base() CheckPoint {
	base := c
	for cp := range c.Iter() {
		base = cp
	}

	return base
}

// Get returns the checkpoint at height, if the chain has one.
func (c CheckPoint) Get(height uint32) fn.Option[CheckPoint] {
	for cp := range c.Iter() {
		h := cp.Height()
		if h == height {
			return fn.Some(cp)
		}
		if h < height {
			break
		}
	}

	return fn.None[CheckPoint]()
}

// Floor returns the highest checkpoint at or below height.
func (c CheckPoint) Floor(height uint32) fn.Option[CheckPoint] {
	for cp := range c.Iter() {
		if cp.Height() <= height {
			return fn.Some(cp)
		}
	}

	return fn.None[CheckPoint]()
}

// Contains returns true if the chain has a checkpoint matching id.
func (c CheckPoint) Contains(id BlockID) bool {
	cp := c.Get(id.Height)
	return cp.IsSome() && cp.UnsafeFromSome().Hash() == id.Hash
}

// BlockIDs returns the block IDs of the chain in ascending height order.
func (c CheckPoint) BlockIDs() []BlockID {
	var ids []BlockID
	for cp := range c.Iter() {
		ids = append(ids, cp.BlockID())
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	return ids
}

// Push returns a new checkpoint for id on top of c.  The height of id must be
// greater than the height of c.
func (c CheckPoint) Push(id BlockID) (CheckPoint, error) {
	if id.Height <= c.Height() {
		return CheckPoint{}, fmt.Errorf("%w: push %d onto %d",
			ErrNotAscending, id.Height, c.Height())
	}

	return CheckPoint{a: c.a, idx: c.a.push(id, c.idx)}, nil
}

// Extend pushes the block IDs, given in ascending height order, on top of c.
func (c CheckPoint) Extend(ids ...BlockID) (CheckPoint, error) {
	tip := c
	for _, id := range ids {
		var err error
		tip, err = tip.Push(id)
		if err != nil {
			return CheckPoint{}, err
		}
	}

	return tip, nil
}

// Insert returns a chain with id inserted.  If the chain already holds a
// different block at the same height, that block and every checkpoint above
// it are dropped.  Checkpoints above a newly inserted height are kept.  The
// returned chain shares all checkpoints below id with c.
func (c CheckPoint) Insert(id BlockID) CheckPoint {
	var above []BlockID
	for cp := range c.Iter() {
		cur := cp.BlockID()
		switch {
		case cur.Height > id.Height:
			above = append(above, cur)
			continue

		case cur.Height == id.Height && cur.Hash == id.Hash:
			return c

		case cur.Height == id.Height:
			// Conflict: drop everything at and above the height.
			above = nil
			prev := cp.Prev()
			if prev.IsNone() {
				return New(id)
			}
			cp = prev.UnsafeFromSome()
		}

		tip, _ := cp.Push(id)
		for i := len(above) - 1; i >= 0; i-- {
			tip, _ = tip.Push(above[i])
		}

		return tip
	}

	// id is below the base of the chain.
	tip := New(id)
	for i := len(above) - 1; i >= 0; i-- {
		tip, _ = tip.Push(above[i])
	}

	return tip
}
