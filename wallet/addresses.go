// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/waddrmgr"
)

// PeekAddress returns the address at index of keychain k without revealing
// it. The same index always yields the same address.
func (w *Wallet) PeekAddress(k waddrmgr.KeychainKind,
	index uint32) (waddrmgr.AddressInfo, error) {

	return w.index.Peek(k, index)
}

// RevealNextAddress reveals the address following the highest revealed one
// of keychain k.
func (w *Wallet) RevealNextAddress(
	k waddrmgr.KeychainKind) (waddrmgr.AddressInfo, error) {

	info, cs, err := w.index.RevealNext(k)
	if err != nil {
		return waddrmgr.AddressInfo{}, err
	}
	w.stage.Indexer.Merge(cs)

	return info, nil
}

// RevealAddressesTo reveals every address of keychain k up to and including
// index, returning the ones that were not revealed before.
func (w *Wallet) RevealAddressesTo(k waddrmgr.KeychainKind,
	index uint32) ([]waddrmgr.AddressInfo, error) {

	infos, cs, err := w.index.RevealTo(k, index)
	if err != nil {
		return nil, err
	}
	w.stage.Indexer.Merge(cs)

	return infos, nil
}

// NextUnusedAddress returns the lowest revealed address of keychain k that
// no transaction pays to, revealing a new one when every revealed address
// is used.
func (w *Wallet) NextUnusedAddress(
	k waddrmgr.KeychainKind) (waddrmgr.AddressInfo, error) {

	info, cs, err := w.index.NextUnused(k)
	if err != nil {
		return waddrmgr.AddressInfo{}, err
	}
	w.stage.Indexer.Merge(cs)

	return info, nil
}

// ListUnusedAddresses returns the revealed but unused addresses of keychain
// k in ascending index order.
func (w *Wallet) ListUnusedAddresses(
	k waddrmgr.KeychainKind) []waddrmgr.AddressInfo {

	return w.index.ListUnused(k)
}

// DerivationIndex returns the highest revealed index of keychain k.
func (w *Wallet) DerivationIndex(k waddrmgr.KeychainKind) (uint32, bool) {
	last := w.index.LastRevealed(k)
	return last.UnwrapOr(0), last.IsSome()
}

// IsMine returns whether pkScript belongs to a revealed or lookahead
// address of the wallet.
func (w *Wallet) IsMine(pkScript []byte) bool {
	_, _, ok := w.index.IndexOf(pkScript)
	return ok
}
