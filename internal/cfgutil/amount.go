// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field. Values
// are a decimal number optionally followed by a denomination, such as
// "0.001 BTC" or "5000 sat". A bare number is read as BTC.
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return btcunit.FormatAmount(a.Amount, btcunit.Bitcoin)
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)

	unit := btcunit.Bitcoin
	if i := strings.LastIndexByte(value, ' '); i >= 0 {
		d, err := btcunit.ParseDenomination(value[i+1:])
		if err != nil {
			return err
		}
		unit, value = d, value[:i]
	}

	amount, err := btcunit.ParseAmount(value, unit)
	if err != nil {
		return err
	}
	a.Amount = amount
	return nil
}

// DenominationFlag embeds a btcunit.Denomination so it can be used as a
// config struct field.
type DenominationFlag struct {
	btcunit.Denomination
}

// NewDenominationFlag creates a DenominationFlag with a default unit.
func NewDenominationFlag(d btcunit.Denomination) *DenominationFlag {
	return &DenominationFlag{d}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (d *DenominationFlag) MarshalFlag() (string, error) {
	return d.Denomination.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (d *DenominationFlag) UnmarshalFlag(value string) error {
	unit, err := btcunit.ParseDenomination(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	d.Denomination = unit
	return nil
}
