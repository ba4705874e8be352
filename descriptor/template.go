// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned when a mnemonic fails the BIP-39 word list
// or checksum validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// DescriptorPair holds the descriptors of the external (receive) and
// internal (change) keychain of a wallet.
type DescriptorPair struct {
	External string
	Internal string
}

// template describes the BIP-44 style purpose and script wrapper of an
// address type.
type template struct {
	purpose uint32
	wrap    string
}

var templates = map[AddressType]template{
	P2PKH:  {purpose: 44, wrap: "pkh(%s)"},
	P2SH:   {purpose: 49, wrap: "sh(wpkh(%s))"},
	P2WPKH: {purpose: 84, wrap: "wpkh(%s)"},
	P2TR:   {purpose: 86, wrap: "tr(%s)"},
}

func lookupTemplate(addrType AddressType) (template, error) {
	t, ok := templates[addrType]
	if !ok {
		return template{}, fmt.Errorf("%w: no descriptor template for "+
			"%v", ErrUnsupportedScriptType, addrType)
	}

	return t, nil
}

// accountPath returns the hardened purpose'/coin'/0' account path.
func (t template) accountPath(params *chaincfg.Params) string {
	return fmt.Sprintf("%d'/%d'/0'", t.purpose, params.HDCoinType)
}

// pair renders the external and internal descriptor for the given key
// expression, which is followed by the keychain branch and a wildcard.
func (t template) pair(key string, params *chaincfg.Params) (DescriptorPair,
	error) {

	var descs [2]string
	for branch := range descs {
		body := fmt.Sprintf(t.wrap, fmt.Sprintf("%s/%d/*", key, branch))

		d, err := Parse(body, params)
		if err != nil {
			return DescriptorPair{}, err
		}
		descs[branch] = d.String()
	}

	return DescriptorPair{External: descs[0], Internal: descs[1]}, nil
}

// MnemonicToSeed validates a BIP-39 mnemonic and returns the seed for the
// given passphrase.
func MnemonicToSeed(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	return bip39.NewSeed(mnemonic, passphrase), nil
}

// SeedToXpriv returns the BIP-32 master key of seed for the network.
func SeedToXpriv(seed []byte,
	params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	return hdkeychain.NewMaster(seed, params)
}

// SeedToDescriptor returns the descriptor pair of the first account of the
// standard derivation for addrType, using the master private key of seed.
func SeedToDescriptor(seed []byte, params *chaincfg.Params,
	addrType AddressType) (DescriptorPair, error) {

	t, err := lookupTemplate(addrType)
	if err != nil {
		return DescriptorPair{}, err
	}

	master, err := SeedToXpriv(seed, params)
	if err != nil {
		return DescriptorPair{}, err
	}

	return t.pair(master.String()+"/"+t.accountPath(params), params)
}

// XprivToDescriptor returns the descriptor pair for an account level
// extended private key.  fingerprint is the hex encoded master key
// fingerprint recorded in the key origin.
func XprivToDescriptor(xprv, fingerprint string, params *chaincfg.Params,
	addrType AddressType) (DescriptorPair, error) {

	return accountToDescriptor(xprv, fingerprint, true, params, addrType)
}

// XpubToDescriptor returns the watch-only descriptor pair for an account
// level extended public key.
func XpubToDescriptor(xpub, fingerprint string, params *chaincfg.Params,
	addrType AddressType) (DescriptorPair, error) {

	return accountToDescriptor(xpub, fingerprint, false, params, addrType)
}

func accountToDescriptor(xkey, fingerprint string, private bool,
	params *chaincfg.Params, addrType AddressType) (DescriptorPair, error) {

	t, err := lookupTemplate(addrType)
	if err != nil {
		return DescriptorPair{}, err
	}

	key, err := hdkeychain.NewKeyFromString(xkey)
	if err != nil {
		return DescriptorPair{}, invalidf("extended key: %v", err)
	}
	if key.IsPrivate() != private {
		return DescriptorPair{}, invalidf("expected private=%v "+
			"extended key", private)
	}

	fp, err := hex.DecodeString(fingerprint)
	if err != nil || len(fp) != 4 {
		return DescriptorPair{}, invalidf("fingerprint %q must be 4 "+
			"hex encoded bytes", fingerprint)
	}

	origin := fmt.Sprintf("[%s/%s]%s", fingerprint, t.accountPath(params),
		xkey)

	return t.pair(origin, params)
}
