// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/descriptor"
)

var (
	// ErrUnknownKeychain is returned when an operation names a keychain
	// that has no descriptor.
	ErrUnknownKeychain = errors.New("unknown keychain")

	// ErrIndexOutOfRange is returned when a derivation index is at or
	// above the hardened boundary.
	ErrIndexOutOfRange = errors.New("derivation index out of range")
)

// KeychainKind identifies one of the two derivation sequences of a wallet.
type KeychainKind uint8

const (
	// External is the keychain used for receive addresses handed out to
	// other parties.
	External KeychainKind = 0

	// Internal is the keychain used for change outputs created by the
	// wallet itself.
	Internal KeychainKind = 1
)

// String returns a human readable name of the keychain.
func (k KeychainKind) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("keychain(%d)", uint8(k))
	}
}

// Keychains lists the keychains of a wallet in ascending order.
var Keychains = []KeychainKind{External, Internal}

// AddressInfo describes a derived script of a keychain.
type AddressInfo struct {
	// Keychain is the keychain the script belongs to.
	Keychain KeychainKind

	// Index is the derivation index of the script within the keychain.
	Index uint32

	// Script is the output script.
	Script []byte

	// Address is the address encoding of Script.
	Address btcutil.Address
}

// AddressType returns the type of the address' output script.
func (a AddressInfo) AddressType() descriptor.AddressType {
	return descriptor.ClassifyScript(a.Script)
}

// String returns the encoded address.
func (a AddressInfo) String() string {
	return a.Address.EncodeAddress()
}

// KeychainSpk is a script together with its keychain position.
type KeychainSpk struct {
	Keychain KeychainKind
	Index    uint32
	Script   []byte
}
