// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"
	"iter"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultLookahead is the number of scripts past the last revealed index of
// each keychain that are derived ahead of time, so that outputs paying to
// them are recognized before they are revealed.
const DefaultLookahead = 25

// maxIndex is the highest unhardened derivation index.
const maxIndex = hdkeychain.HardenedKeyStart - 1

// revealPrealloc bounds the capacity RevealTo allocates up front. Targets
// come from chain updates and may be far ahead of the revealed index.
const revealPrealloc = 256

// spkRef locates a derived script.
type spkRef struct {
	keychain KeychainKind
	index    uint32
}

// keychainState is the derivation state of a single keychain.
type keychainState struct {
	desc *descriptor.Descriptor

	// spks caches the derived scripts from index zero onwards.
	spks [][]byte

	// lastRevealed is the highest revealed index, if any.
	lastRevealed fn.Option[uint32]
}

// Index tracks which scripts of each keychain have been revealed and which
// of them have been used by a transaction output.
//
// Index is not safe for concurrent mutation.  All methods that do not name
// themselves as mutating may be called concurrently with each other.
type Index struct {
	keychains map[KeychainKind]*keychainState
	lookahead uint32

	// spkIndex maps a script to the position it was derived at.
	spkIndex map[string]spkRef

	// used is the set of revealed or lookahead scripts that appear in an
	// output of an indexed transaction.
	used map[spkRef]struct{}
}

// NewIndex creates an Index over the given keychain descriptors.  A lookahead
// of zero selects DefaultLookahead.
func NewIndex(descs map[KeychainKind]*descriptor.Descriptor,
	lookahead uint32) (*Index, error) {

	if lookahead == 0 {
		lookahead = DefaultLookahead
	}

	idx := &Index{
		keychains: make(map[KeychainKind]*keychainState, len(descs)),
		lookahead: lookahead,
		spkIndex:  make(map[string]spkRef),
		used:      make(map[spkRef]struct{}),
	}
	for k, desc := range descs {
		idx.keychains[k] = &keychainState{desc: desc}
		if err := idx.fillLookahead(k); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// Descriptor returns the descriptor of keychain k.
func (idx *Index) Descriptor(k KeychainKind) (*descriptor.Descriptor, error) {
	state, err := idx.state(k)
	if err != nil {
		return nil, err
	}

	return state.desc, nil
}

// Keychains returns the keychains known to the index in ascending order.
func (idx *Index) Keychains() []KeychainKind {
	ks := make([]KeychainKind, 0, len(idx.keychains))
	for k := range idx.keychains {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })

	return ks
}

// Lookahead returns the configured lookahead.
func (idx *Index) Lookahead() uint32 {
	return idx.lookahead
}

func (idx *Index) state(k KeychainKind) (*keychainState, error) {
	state, ok := idx.keychains[k]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKeychain, k)
	}

	return state, nil
}

// LastRevealed returns the highest revealed index of keychain k.
func (idx *Index) LastRevealed(k KeychainKind) fn.Option[uint32] {
	state, ok := idx.keychains[k]
	if !ok {
		return fn.None[uint32]()
	}

	return state.lastRevealed
}

// nextIndex returns the index RevealNext would reveal.  Non-ranged
// descriptors only ever have index zero.
func (s *keychainState) nextIndex() uint32 {
	if !s.desc.IsRange() {
		return 0
	}

	if s.lastRevealed.IsNone() {
		return 0
	}

	return s.lastRevealed.UnsafeFromSome() + 1
}

// target is the highest index that should be derived and cached.
func (idx *Index) target(s *keychainState) uint32 {
	if !s.desc.IsRange() {
		return 0
	}

	next := uint64(s.nextIndex()) + uint64(idx.lookahead) - 1
	if next > maxIndex {
		return maxIndex
	}

	return uint32(next)
}

// fillLookahead derives and caches scripts of keychain k up to the lookahead
// past its last revealed index.
func (idx *Index) fillLookahead(k KeychainKind) error {
	state := idx.keychains[k]
	target := idx.target(state)

	for i := uint32(len(state.spks)); i <= target; i++ {
		script, err := state.desc.Derive(i)
		if err != nil {
			return fmt.Errorf("derive %v/%d: %w", k, i, err)
		}
		state.spks = append(state.spks, script)

		// The first keychain to claim a script owns it.  This only
		// matters for wallets whose keychains overlap.
		if _, ok := idx.spkIndex[string(script)]; !ok {
			idx.spkIndex[string(script)] = spkRef{k, i}
		}
	}

	return nil
}

// script returns the script at index of keychain k, deriving it if it is not
// cached.  It never mutates the index.
func (idx *Index) script(k KeychainKind, index uint32) ([]byte, error) {
	state, err := idx.state(k)
	if err != nil {
		return nil, err
	}
	if index > maxIndex {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if !state.desc.IsRange() {
		index = 0
	}

	if index < uint32(len(state.spks)) {
		return state.spks[index], nil
	}

	return state.desc.Derive(index)
}

func (idx *Index) addressInfo(k KeychainKind, index uint32) (AddressInfo,
	error) {

	script, err := idx.script(k, index)
	if err != nil {
		return AddressInfo{}, err
	}

	state := idx.keychains[k]
	addr, err := descriptor.AddressFromScript(script, state.desc.Params())
	if err != nil {
		return AddressInfo{}, err
	}

	if !state.desc.IsRange() {
		index = 0
	}

	return AddressInfo{
		Keychain: k,
		Index:    index,
		Script:   script,
		Address:  addr,
	}, nil
}

// Peek returns the address at index of keychain k without revealing it.
func (idx *Index) Peek(k KeychainKind, index uint32) (AddressInfo, error) {
	return idx.addressInfo(k, index)
}

// RevealNext reveals the next index of keychain k.  Once a non-ranged
// descriptor's only script is revealed it is returned again with an empty
// ChangeSet.
//
// NOTE: This method mutates the index.
func (idx *Index) RevealNext(k KeychainKind) (AddressInfo, ChangeSet, error) {
	state, err := idx.state(k)
	if err != nil {
		return AddressInfo{}, ChangeSet{}, err
	}

	next := state.nextIndex()
	if state.lastRevealed.IsSome() && next == 0 {
		info, err := idx.addressInfo(k, 0)
		return info, ChangeSet{}, err
	}
	if next > maxIndex {
		return AddressInfo{}, ChangeSet{}, fmt.Errorf("%w: keychain "+
			"%v exhausted", ErrIndexOutOfRange, k)
	}

	infos, cs, err := idx.RevealTo(k, next)
	if err != nil {
		return AddressInfo{}, ChangeSet{}, err
	}

	return infos[len(infos)-1], cs, nil
}

// RevealTo reveals every index of keychain k up to and including target.
// The newly revealed addresses are returned in ascending order; nothing is
// returned if target is already revealed.
//
// NOTE: This method mutates the index.
func (idx *Index) RevealTo(k KeychainKind, target uint32) ([]AddressInfo,
	ChangeSet, error) {

	state, err := idx.state(k)
	if err != nil {
		return nil, ChangeSet{}, err
	}
	if target > maxIndex {
		return nil, ChangeSet{}, fmt.Errorf("%w: %d",
			ErrIndexOutOfRange, target)
	}
	if !state.desc.IsRange() {
		target = 0
	}

	start := state.nextIndex()
	if state.lastRevealed.IsSome() && (start == 0 || target < start) {
		return nil, ChangeSet{}, nil
	}

	// Derive first so that a failure leaves the index untouched.
	infos := make([]AddressInfo, 0, min(target-start+1, revealPrealloc))
	for i := start; i <= target; i++ {
		info, err := idx.addressInfo(k, i)
		if err != nil {
			return nil, ChangeSet{}, err
		}
		infos = append(infos, info)
	}

	state.lastRevealed = fn.Some(target)
	if err := idx.fillLookahead(k); err != nil {
		return nil, ChangeSet{}, err
	}

	log.Debugf("Revealed %v addresses %d..%d", k, start, target)

	cs := NewChangeSet()
	cs.LastRevealed[k] = target

	return infos, cs, nil
}

// NextUnused returns the lowest revealed index of keychain k that has not
// been used, revealing a new one if all revealed indexes are used.
//
// NOTE: This method mutates the index.
func (idx *Index) NextUnused(k KeychainKind) (AddressInfo, ChangeSet, error) {
	if _, err := idx.state(k); err != nil {
		return AddressInfo{}, ChangeSet{}, err
	}

	for info := range idx.Unused(k) {
		return info, ChangeSet{}, nil
	}

	return idx.RevealNext(k)
}

// Unused yields the revealed but unused addresses of keychain k in ascending
// index order.
func (idx *Index) Unused(k KeychainKind) iter.Seq[AddressInfo] {
	return func(yield func(AddressInfo) bool) {
		state, ok := idx.keychains[k]
		if !ok {
			return
		}

		if state.lastRevealed.IsNone() {
			return
		}

		end := state.lastRevealed.UnsafeFromSome()
		for i := uint32(0); i <= end; i++ {
			if idx.IsUsed(k, i) {
				continue
			}

			info, err := idx.addressInfo(k, i)
			if err != nil {
				log.Errorf("Unable to derive %v/%d: %v", k, i,
					err)
				return
			}
			if !yield(info) {
				return
			}
		}
	}
}

// ListUnused returns the revealed but unused addresses of keychain k.
func (idx *Index) ListUnused(k KeychainKind) []AddressInfo {
	var infos []AddressInfo
	for info := range idx.Unused(k) {
		infos = append(infos, info)
	}

	return infos
}

// IsUsed returns true if the script at index of keychain k has been seen in
// a transaction output or was marked used.
func (idx *Index) IsUsed(k KeychainKind, index uint32) bool {
	_, ok := idx.used[spkRef{k, index}]
	return ok
}

// MarkUsed marks the script at index of keychain k as used.  It returns false
// if it was already marked.
//
// NOTE: This method mutates the index.
func (idx *Index) MarkUsed(k KeychainKind, index uint32) bool {
	ref := spkRef{k, index}
	if _, ok := idx.used[ref]; ok {
		return false
	}
	idx.used[ref] = struct{}{}

	return true
}

// IndexOf returns the keychain position of a revealed or lookahead script.
func (idx *Index) IndexOf(script []byte) (KeychainKind, uint32, bool) {
	ref, ok := idx.spkIndex[string(script)]
	return ref.keychain, ref.index, ok
}

// IndexTx scans the outputs of tx for wallet scripts.  Matching scripts are
// marked used and, if they lie in the lookahead, revealed together with every
// lower index of their keychain.
//
// NOTE: This method mutates the index.
func (idx *Index) IndexTx(tx *wire.MsgTx) ChangeSet {
	cs := NewChangeSet()
	for _, txOut := range tx.TxOut {
		k, index, ok := idx.IndexOf(txOut.PkScript)
		if !ok {
			continue
		}
		idx.MarkUsed(k, index)

		last := idx.keychains[k].lastRevealed
		if last.IsSome() && last.UnsafeFromSome() >= index {
			continue
		}

		_, revealed, err := idx.RevealTo(k, index)
		if err != nil {
			// Indexes in the lookahead have already been derived
			// so this cannot fail.
			log.Errorf("Unable to reveal %v/%d: %v", k, index, err)
			continue
		}
		cs.Merge(revealed)
	}

	return cs
}

// RevealedSpks returns every revealed script of every keychain.
func (idx *Index) RevealedSpks() []KeychainSpk {
	var spks []KeychainSpk
	for _, k := range idx.Keychains() {
		state := idx.keychains[k]
		if state.lastRevealed.IsNone() {
			continue
		}

		end := state.lastRevealed.UnsafeFromSome()
		for i := uint32(0); i <= end; i++ {
			spks = append(spks, KeychainSpk{
				Keychain: k,
				Index:    i,
				Script:   state.spks[i],
			})
		}
	}

	return spks
}

// UnboundedSpks returns a lazy sequence of every script of keychain k
// starting at index zero.  The sequence only depends on the immutable
// descriptor and is safe to consume from another goroutine.
func (idx *Index) UnboundedSpks(k KeychainKind) iter.Seq2[uint32, []byte] {
	state, ok := idx.keychains[k]
	if !ok {
		return func(func(uint32, []byte) bool) {}
	}

	return SpkIterator(state.desc)
}

// SpkIterator returns a lazy sequence of the scripts of desc starting at index
// zero.  Non-ranged descriptors yield a single script.
func SpkIterator(desc *descriptor.Descriptor) iter.Seq2[uint32, []byte] {
	return func(yield func(uint32, []byte) bool) {
		end := uint32(maxIndex)
		if !desc.IsRange() {
			end = 0
		}

		for i := uint32(0); ; i++ {
			script, err := desc.Derive(i)
			if err != nil {
				log.Errorf("Unable to derive script %d: %v", i,
					err)
				return
			}
			if !yield(i, script) || i == end {
				return
			}
		}
	}
}

// InitialChangeSet returns a ChangeSet that recreates the revealed state of
// the index.
func (idx *Index) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for k, state := range idx.keychains {
		state.lastRevealed.WhenSome(func(i uint32) {
			cs.LastRevealed[k] = i
		})
	}

	return cs
}

// ApplyChangeSet reveals the indexes recorded in cs.  Keychains unknown to
// the index are rejected before anything is revealed.
//
// NOTE: This method mutates the index.
func (idx *Index) ApplyChangeSet(cs ChangeSet) error {
	for k, target := range cs.LastRevealed {
		if _, err := idx.state(k); err != nil {
			return err
		}
		if target > maxIndex {
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, target)
		}
	}

	for _, k := range idx.Keychains() {
		target, ok := cs.LastRevealed[k]
		if !ok {
			continue
		}
		if _, _, err := idx.RevealTo(k, target); err != nil {
			return err
		}
	}

	return nil
}
