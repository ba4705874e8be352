package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AddressType classifies an output script by its address encoding.
type AddressType uint8

const (
	// Unknown is any script without a standard address encoding,
	// including witness programs of versions this package does not know.
	Unknown AddressType = iota

	// P2PKH is a pay-to-pubkey-hash script.
	P2PKH

	// P2SH is a pay-to-script-hash script.
	P2SH

	// P2WPKH is a version 0 pay-to-witness-pubkey-hash script.
	P2WPKH

	// P2WSH is a version 0 pay-to-witness-script-hash script.
	P2WSH

	// P2TR is a version 1 pay-to-taproot script.
	P2TR
)

// String returns the conventional lowercase name of the address type.
func (t AddressType) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh"
	case P2WPKH:
		return "p2wpkh"
	case P2WSH:
		return "p2wsh"
	case P2TR:
		return "p2tr"
	default:
		return "unknown"
	}
}

// ParseAddressType maps a name as returned by String back to an AddressType.
func ParseAddressType(s string) (AddressType, error) {
	for _, t := range []AddressType{P2PKH, P2SH, P2WPKH, P2WSH, P2TR} {
		if t.String() == s {
			return t, nil
		}
	}

	return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedScriptType, s)
}

// ClassifyScript returns the address type of an output script.
func ClassifyScript(script []byte) AddressType {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return P2PKH
	case txscript.ScriptHashTy:
		return P2SH
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKH
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH
	case txscript.WitnessV1TaprootTy:
		return P2TR
	default:
		return Unknown
	}
}

// AddressFromScript returns the address encoding of an output script.
// Scripts classified as Unknown fail with ErrUnsupportedScriptType.
func AddressFromScript(script []byte,
	params *chaincfg.Params) (btcutil.Address, error) {

	if ClassifyScript(script) == Unknown {
		return nil, fmt.Errorf("%w: %x", ErrUnsupportedScriptType,
			script)
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, fmt.Errorf("%w: %x", ErrUnsupportedScriptType,
			script)
	}

	return addrs[0], nil
}
