// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Balance partitions the value of unspent canonical outputs.
type Balance struct {
	// Immature is the value of coinbase outputs that have not reached
	// maturity yet.
	Immature btcutil.Amount

	// TrustedPending is the value of unconfirmed outputs paying to
	// trusted scripts, such as the wallet's own change.
	TrustedPending btcutil.Amount

	// UntrustedPending is the value of other unconfirmed outputs.
	UntrustedPending btcutil.Amount

	// Confirmed is the value of confirmed, mature outputs.
	Confirmed btcutil.Amount
}

// TrustedSpendable returns the value that can be spent without trusting a
// third party.
func (b Balance) TrustedSpendable() btcutil.Amount {
	return b.Confirmed + b.TrustedPending
}

// Total returns the sum of all partitions.
func (b Balance) Total() btcutil.Amount {
	return b.Immature + b.TrustedPending + b.UntrustedPending + b.Confirmed
}

// String returns a human readable form of the balance.
func (b Balance) String() string {
	return fmt.Sprintf("confirmed=%v trusted_pending=%v "+
		"untrusted_pending=%v immature=%v", b.Confirmed,
		b.TrustedPending, b.UntrustedPending, b.Immature)
}

// Balance computes the balance of the unspent canonical outputs among
// outpoints. An unconfirmed output counts as trusted pending when trusted
// returns true for its script. Coinbase outputs need maturity confirmations
// before they count as confirmed.
func (g *TxGraph) Balance(oracle ChainOracle, outpoints []wire.OutPoint,
	trusted func(pkScript []byte) bool, maturity uint32) Balance {

	var (
		bal Balance
		tip = oracle.TipHeight()
	)
	for out := range g.FilterChainUnspents(oracle, outpoints) {
		value := btcutil.Amount(out.TxOut.Value)
		switch {
		case !out.IsMature(tip, maturity):
			bal.Immature += value
		case out.Position.IsConfirmed():
			bal.Confirmed += value
		case trusted != nil && trusted(out.TxOut.PkScript):
			bal.TrustedPending += value
		default:
			bal.UntrustedPending += value
		}
	}
	return bal
}
