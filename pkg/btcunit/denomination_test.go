package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// TestDenominationConversions checks the conversion of a fixed amount into
// every denomination and back.
func TestDenominationConversions(t *testing.T) {
	t.Parallel()

	const amt = btcutil.Amount(123_456_789)

	testCases := []struct {
		denom    Denomination
		expected string
	}{
		{Bitcoin, "1.23456789"},
		{CentiBitcoin, "123.456789"},
		{MilliBitcoin, "1234.56789"},
		{MicroBitcoin, "1234567.89"},
		{NanoBitcoin, "1234567890"},
		{PicoBitcoin, "1234567890000"},
		{Bit, "1234567.89"},
		{Satoshi, "123456789"},
		{MilliSatoshi, "123456789000"},
	}

	for _, tc := range testCases {
		t.Run(tc.denom.String(), func(t *testing.T) {
			t.Parallel()

			v, err := ToDecimal(amt, tc.denom)
			require.NoError(t, err)
			require.Equal(t, tc.expected, v.String())

			back, err := ParseAmount(tc.expected, tc.denom)
			require.NoError(t, err)
			require.Equal(t, amt, back)

			parsed, err := ParseDenomination(tc.denom.String())
			require.NoError(t, err)

			// Bit and MicroBitcoin share a value but not a name.
			require.Equal(t, tc.denom, parsed)
		})
	}
}

// TestToFloat checks the float helper against btcutil's own conversion.
func TestToFloat(t *testing.T) {
	t.Parallel()

	f, err := ToFloat(50_000, Bitcoin)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000).ToBTC(), f)

	f, err = ToFloat(50_000, Satoshi)
	require.NoError(t, err)
	require.Equal(t, 50_000.0, f)
}

// TestFromDecimalErrors ensures amounts that cannot be represented in
// satoshis are rejected.
func TestFromDecimalErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseAmount("0.000000001", Bitcoin)
	require.ErrorIs(t, err, ErrSubSatoshi)

	_, err = ParseAmount("1", MilliSatoshi)
	require.ErrorIs(t, err, ErrSubSatoshi)

	_, err = FromDecimal(decimal.RequireFromString("1e20"), Bitcoin)
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = ParseAmount("abc", Bitcoin)
	require.Error(t, err)

	_, err = ParseDenomination("doge")
	require.ErrorIs(t, err, ErrUnknownDenomination)

	_, err = ToDecimal(1, Denomination(99))
	require.ErrorIs(t, err, ErrUnknownDenomination)
}

// TestFormatAmount checks the display format.
func TestFormatAmount(t *testing.T) {
	t.Parallel()

	s, err := FormatAmount(50_000, Bitcoin)
	require.NoError(t, err)
	require.Equal(t, "0.0005 BTC", s)
}
