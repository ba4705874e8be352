// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor implements parsing and derivation of output script
// descriptors (BIP-380 and the script expressions of BIP-381 to BIP-386 that
// a single-key or multisig wallet needs).
//
// A Descriptor is immutable once parsed.  Deriving the script at an index is
// a pure function of the descriptor and the index, so callers are free to
// cache the results.
package descriptor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrInvalidDescriptor is returned when a descriptor string cannot be
	// parsed, its checksum does not match or it uses an unsupported
	// construct.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrNetworkMismatch is returned when a key in a descriptor belongs to
	// a different network than the one requested.  It is always wrapped
	// together with ErrInvalidDescriptor.
	ErrNetworkMismatch = errors.New("key network mismatch")

	// ErrUnsupportedScriptType is returned when an address is requested
	// for a script that has no address encoding.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrIndexOutOfRange is returned when a child index cannot be derived
	// from a ranged descriptor.
	ErrIndexOutOfRange = errors.New("derivation index out of range")
)

// invalidf returns a formatted error wrapping ErrInvalidDescriptor.
func invalidf(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor,
		fmt.Sprintf(format, a...))
}

const (
	// maxMultisigKeys is the maximum number of keys in a wsh(multi()).
	maxMultisigKeys = 20

	// maxP2SHMultisigKeys is the maximum number of compressed keys that
	// fit a multisig redeem script in the 520 byte push limit.
	maxP2SHMultisigKeys = 15
)

// scriptKind enumerates the supported descriptor shapes.
type scriptKind uint8

const (
	kindPkh scriptKind = iota
	kindWpkh
	kindShWpkh
	kindTr
	kindShMulti
	kindWshMulti
	kindShWshMulti
)

// Descriptor is a parsed output script descriptor bound to a network.
type Descriptor struct {
	kind      scriptKind
	keys      []*keyExpr
	threshold int
	sorted    bool

	// body is the descriptor without checksum exactly as it was parsed.
	body string

	// publicBody is body with every private key replaced by its public
	// key.
	publicBody string

	params *chaincfg.Params
}

// Parse parses a descriptor string for the given network.  A trailing
// "#checksum" is verified when present.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	d := &Descriptor{body: body, params: params}
	if err := d.parseTop(body); err != nil {
		return nil, err
	}

	d.publicBody = body
	if d.HasPrivateKeys() {
		d.publicBody = d.render(func(k *keyExpr) string {
			return k.public
		})
	}

	return d, nil
}

// MustParse is like Parse but panics on error.  It simplifies tests and
// package level variables.
func MustParse(s string, params *chaincfg.Params) *Descriptor {
	d, err := Parse(s, params)
	if err != nil {
		panic(err)
	}

	return d
}

// splitCall splits "name(args)" into its name and arguments.
func splitCall(s string) (string, string, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", invalidf("malformed expression %q", s)
	}

	return s[:open], s[open+1 : len(s)-1], nil
}

func (d *Descriptor) parseTop(s string) error {
	name, args, err := splitCall(s)
	if err != nil {
		return err
	}

	switch name {
	case "pkh":
		d.kind = kindPkh
		return d.parseSingleKey(args, false)

	case "wpkh":
		d.kind = kindWpkh
		return d.parseSingleKey(args, false)

	case "tr":
		if strings.ContainsRune(args, ',') {
			return invalidf("taproot script trees are not supported")
		}
		d.kind = kindTr
		return d.parseSingleKey(args, true)

	case "wsh":
		d.kind = kindWshMulti
		return d.parseMulti(args, maxMultisigKeys)

	case "sh":
		inner, innerArgs, err := splitCall(args)
		if err != nil {
			return err
		}

		switch inner {
		case "wpkh":
			d.kind = kindShWpkh
			return d.parseSingleKey(innerArgs, false)

		case "wsh":
			d.kind = kindShWshMulti
			return d.parseMulti(innerArgs, maxMultisigKeys)

		case "multi", "sortedmulti":
			d.kind = kindShMulti
			return d.parseMulti(args, maxP2SHMultisigKeys)
		}

		return invalidf("unsupported expression %s inside sh()", inner)
	}

	return invalidf("unsupported script expression %q", name)
}

func (d *Descriptor) parseSingleKey(s string, xOnly bool) error {
	key, err := parseKeyExpr(s, d.params, xOnly)
	if err != nil {
		return err
	}
	if key.uncompressed && d.kind != kindPkh {
		return invalidf("uncompressed key %q in segwit context", s)
	}
	d.keys = []*keyExpr{key}

	return nil
}

func (d *Descriptor) parseMulti(s string, maxKeys int) error {
	name, args, err := splitCall(s)
	if err != nil {
		return err
	}

	switch name {
	case "multi":
	case "sortedmulti":
		d.sorted = true
	default:
		return invalidf("unsupported expression %q, expected multi "+
			"or sortedmulti", name)
	}

	parts := strings.Split(args, ",")
	if len(parts) < 2 {
		return invalidf("multisig requires a threshold and keys")
	}

	d.threshold, err = strconv.Atoi(parts[0])
	if err != nil {
		return invalidf("invalid multisig threshold %q", parts[0])
	}

	keys := parts[1:]
	if len(keys) > maxKeys {
		return invalidf("multisig with %d keys exceeds limit of %d",
			len(keys), maxKeys)
	}
	if d.threshold < 1 || d.threshold > len(keys) {
		return invalidf("multisig threshold %d out of range for %d "+
			"keys", d.threshold, len(keys))
	}

	for _, keyStr := range keys {
		key, err := parseKeyExpr(keyStr, d.params, false)
		if err != nil {
			return err
		}
		if key.uncompressed && d.kind != kindShMulti {
			return invalidf("uncompressed key %q in segwit "+
				"context", keyStr)
		}
		d.keys = append(d.keys, key)
	}

	return nil
}

// render rebuilds the descriptor body using keyStr for every key.
func (d *Descriptor) render(keyStr func(*keyExpr) string) string {
	switch d.kind {
	case kindPkh:
		return "pkh(" + keyStr(d.keys[0]) + ")"
	case kindWpkh:
		return "wpkh(" + keyStr(d.keys[0]) + ")"
	case kindShWpkh:
		return "sh(wpkh(" + keyStr(d.keys[0]) + "))"
	case kindTr:
		return "tr(" + keyStr(d.keys[0]) + ")"
	}

	name := "multi"
	if d.sorted {
		name = "sortedmulti"
	}
	keys := make([]string, len(d.keys))
	for i, k := range d.keys {
		keys[i] = keyStr(k)
	}
	multi := fmt.Sprintf("%s(%d,%s)", name, d.threshold,
		strings.Join(keys, ","))

	switch d.kind {
	case kindShMulti:
		return "sh(" + multi + ")"
	case kindWshMulti:
		return "wsh(" + multi + ")"
	default:
		return "sh(wsh(" + multi + "))"
	}
}

// String returns the descriptor with its checksum appended.
func (d *Descriptor) String() string {
	return withChecksum(d.body)
}

func withChecksum(body string) string {
	sum, _ := Checksum(body)
	return body + "#" + sum
}

// Params returns the network the descriptor was parsed for.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// IsRange returns true if the descriptor contains a wildcard and therefore
// describes a sequence of scripts rather than a single one.
func (d *Descriptor) IsRange() bool {
	for _, k := range d.keys {
		if k.isRange() {
			return true
		}
	}

	return false
}

// HasPrivateKeys returns true if any key of the descriptor is private.
func (d *Descriptor) HasPrivateKeys() bool {
	for _, k := range d.keys {
		if k.private {
			return true
		}
	}

	return false
}

// PublicDescriptor returns the descriptor with every private key replaced by
// the corresponding public key.  Descriptors without private keys are
// returned unchanged.
func (d *Descriptor) PublicDescriptor() *Descriptor {
	if !d.HasPrivateKeys() {
		return d
	}

	// Parsing the rendered public form cannot fail since every key was
	// produced from a successfully parsed one.
	return MustParse(d.publicBody, d.params)
}

// PublicString returns the public form of the descriptor with checksum.
func (d *Descriptor) PublicString() string {
	return withChecksum(d.publicBody)
}

// ID is a stable identifier of a descriptor: the sha256 of its public form.
type ID [sha256.Size]byte

// String returns the hex encoding of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ID returns the identifier of the descriptor.  A private descriptor and its
// public form share the same ID.
func (d *Descriptor) ID() ID {
	return sha256.Sum256([]byte(d.PublicString()))
}

// AddressType returns the type of the scripts produced by the descriptor.
func (d *Descriptor) AddressType() AddressType {
	switch d.kind {
	case kindPkh:
		return P2PKH
	case kindWpkh:
		return P2WPKH
	case kindShWpkh, kindShMulti, kindShWshMulti:
		return P2SH
	case kindTr:
		return P2TR
	case kindWshMulti:
		return P2WSH
	}

	return Unknown
}

// Derive returns the output script at the given index.  Non-ranged
// descriptors ignore the index.
func (d *Descriptor) Derive(index uint32) ([]byte, error) {
	switch d.kind {
	case kindPkh, kindWpkh, kindShWpkh, kindTr:
		pub, err := d.keys[0].serialize(index)
		if err != nil {
			return nil, err
		}
		return d.singleKeyScript(pub)
	}

	return d.multiScript(index)
}

func (d *Descriptor) singleKeyScript(pub []byte) ([]byte, error) {
	var (
		addr btcutil.Address
		err  error
	)
	switch d.kind {
	case kindPkh:
		addr, err = btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pub), d.params,
		)

	case kindWpkh:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pub), d.params,
		)

	case kindShWpkh:
		var witnessAddr btcutil.Address
		witnessAddr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pub), d.params,
		)
		if err != nil {
			return nil, err
		}

		var redeem []byte
		redeem, err = txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}
		addr, err = btcutil.NewAddressScriptHash(redeem, d.params)

	case kindTr:
		var key *btcec.PublicKey
		key, err = schnorr.ParsePubKey(xOnlyBytes(pub))
		if err != nil {
			return nil, err
		}

		outputKey := txscript.ComputeTaprootKeyNoScript(key)
		addr, err = btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), d.params,
		)
	}
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// xOnlyBytes strips the parity byte of a compressed key.
func xOnlyBytes(pub []byte) []byte {
	if len(pub) == schnorr.PubKeyBytesLen {
		return pub
	}

	return pub[1:]
}

// multiScript builds the multisig witness or redeem script at index and
// wraps it according to the descriptor kind.
func (d *Descriptor) multiScript(index uint32) ([]byte, error) {
	pubs := make([][]byte, len(d.keys))
	for i, k := range d.keys {
		pub, err := k.serialize(index)
		if err != nil {
			return nil, err
		}
		pubs[i] = pub
	}

	if d.sorted {
		sort.Slice(pubs, func(i, j int) bool {
			return bytes.Compare(pubs[i], pubs[j]) < 0
		})
	}

	builder := txscript.NewScriptBuilder().AddInt64(int64(d.threshold))
	for _, pub := range pubs {
		builder.AddData(pub)
	}
	builder.AddInt64(int64(len(pubs))).AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	switch d.kind {
	case kindShMulti:
		return scriptHash(script, d.params)

	case kindWshMulti:
		return witnessScriptHash(script, d.params)

	default:
		wsh, err := witnessScriptHash(script, d.params)
		if err != nil {
			return nil, err
		}
		return scriptHash(wsh, d.params)
	}
}

func scriptHash(script []byte, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

func witnessScriptHash(script []byte,
	params *chaincfg.Params) ([]byte, error) {

	h := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(h[:], params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// Address returns the address of the script at index.
func (d *Descriptor) Address(index uint32) (btcutil.Address, error) {
	script, err := d.Derive(index)
	if err != nil {
		return nil, err
	}

	return AddressFromScript(script, d.params)
}
