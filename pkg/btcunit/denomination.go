// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides conversions between satoshi amounts and the
// common bitcoin denominations.
package btcunit

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownDenomination is returned when a denomination name is not
	// recognized.
	ErrUnknownDenomination = errors.New("unknown denomination")

	// ErrSubSatoshi is returned when a value expressed in some
	// denomination does not map to a whole number of satoshis.
	ErrSubSatoshi = errors.New("amount has sub-satoshi precision")

	// ErrAmountOutOfRange is returned when a value does not fit into an
	// int64 satoshi amount.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// Denomination is a unit an amount of bitcoin can be expressed in.
type Denomination uint8

const (
	// Bitcoin is 100,000,000 satoshis.
	Bitcoin Denomination = iota

	// CentiBitcoin is 1,000,000 satoshis.
	CentiBitcoin

	// MilliBitcoin is 100,000 satoshis.
	MilliBitcoin

	// MicroBitcoin is 100 satoshis.
	MicroBitcoin

	// NanoBitcoin is 0.1 satoshis.
	NanoBitcoin

	// PicoBitcoin is 0.0001 satoshis.
	PicoBitcoin

	// Bit is an alias for MicroBitcoin.
	Bit

	// Satoshi is the base unit.
	Satoshi

	// MilliSatoshi is 0.001 satoshis.
	MilliSatoshi
)

// denominationInfo holds the display name and the power of ten that converts
// one unit of the denomination into satoshis.
type denominationInfo struct {
	name     string
	exponent int32
}

var denominations = map[Denomination]denominationInfo{
	Bitcoin:      {"BTC", 8},
	CentiBitcoin: {"cBTC", 6},
	MilliBitcoin: {"mBTC", 5},
	MicroBitcoin: {"uBTC", 2},
	NanoBitcoin:  {"nBTC", -1},
	PicoBitcoin:  {"pBTC", -4},
	Bit:          {"bits", 2},
	Satoshi:      {"satoshi", 0},
	MilliSatoshi: {"msat", -3},
}

// String returns the short display name of the denomination.
func (d Denomination) String() string {
	if info, ok := denominations[d]; ok {
		return info.name
	}

	return fmt.Sprintf("unknown denomination (%d)", uint8(d))
}

// ParseDenomination maps a display name to a Denomination.  Matching is case
// sensitive for the SI prefixed names since "mBTC" and "MBTC" differ.
func ParseDenomination(s string) (Denomination, error) {
	switch s {
	case "BTC", "btc":
		return Bitcoin, nil
	case "cBTC", "cbtc":
		return CentiBitcoin, nil
	case "mBTC", "mbtc":
		return MilliBitcoin, nil
	case "uBTC", "ubtc":
		return MicroBitcoin, nil
	case "nBTC", "nbtc":
		return NanoBitcoin, nil
	case "pBTC", "pbtc":
		return PicoBitcoin, nil
	}

	switch strings.ToLower(s) {
	case "bit", "bits":
		return Bit, nil
	case "sat", "sats", "satoshi", "satoshis":
		return Satoshi, nil
	case "msat", "msats":
		return MilliSatoshi, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownDenomination, s)
}

// exponent returns the power of ten of satoshis in one unit of d.
func (d Denomination) exponent() (int32, error) {
	info, ok := denominations[d]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDenomination,
			uint8(d))
	}

	return info.exponent, nil
}

// ToDecimal returns amt expressed in the denomination d without loss of
// precision.
func ToDecimal(amt btcutil.Amount, d Denomination) (decimal.Decimal, error) {
	exp, err := d.exponent()
	if err != nil {
		return decimal.Decimal{}, err
	}

	return decimal.NewFromInt(int64(amt)).Shift(-exp), nil
}

// ToFloat returns amt expressed in the denomination d as a float64.  The
// result may be inexact for large amounts.
func ToFloat(amt btcutil.Amount, d Denomination) (float64, error) {
	v, err := ToDecimal(amt, d)
	if err != nil {
		return 0, err
	}

	f, _ := v.Float64()

	return f, nil
}

// FromDecimal converts a value expressed in the denomination d into a
// satoshi amount.  Values that would need sub-satoshi precision are rejected.
func FromDecimal(v decimal.Decimal, d Denomination) (btcutil.Amount, error) {
	exp, err := d.exponent()
	if err != nil {
		return 0, err
	}

	sats := v.Shift(exp)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, fmt.Errorf("%w: %v %v", ErrSubSatoshi, v, d)
	}

	if sats.GreaterThan(decimal.NewFromInt(math.MaxInt64)) ||
		sats.LessThan(decimal.NewFromInt(math.MinInt64)) {

		return 0, fmt.Errorf("%w: %v %v", ErrAmountOutOfRange, v, d)
	}

	return btcutil.Amount(sats.IntPart()), nil
}

// ParseAmount parses a decimal string expressed in the denomination d.
func ParseAmount(s string, d Denomination) (btcutil.Amount, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	return FromDecimal(v, d)
}

// FormatAmount formats amt in the denomination d followed by the
// denomination's name, e.g. "0.0005 BTC".
func FormatAmount(amt btcutil.Amount, d Denomination) (string, error) {
	v, err := ToDecimal(amt, d)
	if err != nil {
		return "", err
	}

	return v.String() + " " + d.String(), nil
}
