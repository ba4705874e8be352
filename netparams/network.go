// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ErrUnknownNetwork is returned when a network name or value cannot be mapped
// to a known set of chain parameters.
var ErrUnknownNetwork = errors.New("unknown network")

// Network identifies one of the bitcoin networks a wallet can operate on.
type Network uint8

const (
	// Bitcoin is the main network.
	Bitcoin Network = iota

	// Testnet is the test network (version 3).
	Testnet

	// Testnet4 is the test network (version 4, BIP94).
	Testnet4

	// Signet is the default signet.
	Signet

	// Regtest is the regression test network.
	Regtest
)

// networkNames maps each Network to its canonical lowercase name.
var networkNames = map[Network]string{
	Bitcoin:  "bitcoin",
	Testnet:  "testnet",
	Testnet4: "testnet4",
	Signet:   "signet",
	Regtest:  "regtest",
}

// String returns the canonical name of the network.
func (n Network) String() string {
	if s, ok := networkNames[n]; ok {
		return s
	}

	return fmt.Sprintf("unknown network (%d)", uint8(n))
}

// IsValid returns true if n is one of the known networks.
func (n Network) IsValid() bool {
	_, ok := networkNames[n]
	return ok
}

// Params returns the chain parameters of the network.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Bitcoin:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Testnet4:
		return &TestNet4ChainParams, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, uint8(n))
	}
}

// MustParams is like Params but panics on an unknown network.  It is intended
// for package level variables and tests.
func (n Network) MustParams() *chaincfg.Params {
	params, err := n.Params()
	if err != nil {
		panic(err)
	}

	return params
}

// ParseNetwork maps a network name to a Network.  Besides the canonical names
// the aliases used by btcd ("mainnet", "testnet3", "regression") are accepted.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bitcoin", "mainnet", "main":
		return Bitcoin, nil
	case "testnet", "testnet3":
		return Testnet, nil
	case "testnet4":
		return Testnet4, nil
	case "signet":
		return Signet, nil
	case "regtest", "regression":
		return Regtest, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (n Network) MarshalFlag() (string, error) {
	if !n.IsValid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownNetwork, uint8(n))
	}

	return n.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (n *Network) UnmarshalFlag(value string) error {
	net, err := ParseNetwork(value)
	if err != nil {
		return err
	}
	*n = net

	return nil
}
