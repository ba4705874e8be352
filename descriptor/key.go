package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// keyOrigin is the optional "[fingerprint/path]" prefix of a key expression.
type keyOrigin struct {
	fingerprint [4]byte
	path        []uint32
	raw         string
}

// keyExpr is a parsed key expression.  Exactly one of pubKey and base is set.
type keyExpr struct {
	// raw is the key expression as written, including the origin.
	raw string

	// public is the key expression with every private key replaced by
	// its public counterpart.
	public string

	origin *keyOrigin

	// pubKey is set for fixed keys given as hex or WIF.
	pubKey       *btcec.PublicKey
	xOnly        bool
	uncompressed bool
	private      bool

	// base is the neutered extended key at the end of the fixed (non
	// wildcard) part of the path.
	base     *hdkeychain.ExtendedKey
	wildcard bool
}

// isRange returns true if the key has a trailing wildcard.
func (k *keyExpr) isRange() bool {
	return k.wildcard
}

// derive returns the public key of k at the given child index.  The index is
// ignored for keys without a wildcard.
func (k *keyExpr) derive(index uint32) (*btcec.PublicKey, error) {
	if k.pubKey != nil {
		return k.pubKey, nil
	}

	key := k.base
	if k.wildcard {
		if index >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: index %d is hardened",
				ErrIndexOutOfRange, index)
		}

		var err error
		key, err = key.Derive(index)
		if err != nil {
			return nil, err
		}
	}

	return key.ECPubKey()
}

// parseKeyExpr parses a key expression.  xOnly permits 32-byte x-only hex
// keys, as allowed inside tr().
func parseKeyExpr(s string, params *chaincfg.Params,
	xOnly bool) (*keyExpr, error) {

	k := &keyExpr{raw: s}

	rest := s
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, invalidf("unterminated key origin in %q", s)
		}

		origin, err := parseOrigin(rest[1:end])
		if err != nil {
			return nil, err
		}
		k.origin = origin
		rest = rest[end+1:]
	}

	if rest == "" {
		return nil, invalidf("missing key in %q", s)
	}

	keyStr, pathStr, hasPath := strings.Cut(rest, "/")

	switch {
	case strings.HasPrefix(keyStr, "xpub"),
		strings.HasPrefix(keyStr, "xprv"),
		strings.HasPrefix(keyStr, "tpub"),
		strings.HasPrefix(keyStr, "tprv"):

		var path string
		if hasPath {
			path = pathStr
		}
		if err := k.parseExtended(keyStr, path, hasPath,
			params); err != nil {

			return nil, err
		}

	default:
		if hasPath {
			return nil, invalidf("derivation path on non-extended "+
				"key %q", s)
		}
		if err := k.parseSingle(keyStr, params, xOnly); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// parseOrigin parses the contents of a "[fingerprint/path]" key origin.
func parseOrigin(s string) (*keyOrigin, error) {
	fpStr, pathStr, hasPath := strings.Cut(s, "/")
	if len(fpStr) != 8 {
		return nil, invalidf("key origin fingerprint %q must be 8 "+
			"hex characters", fpStr)
	}

	fp, err := hex.DecodeString(fpStr)
	if err != nil {
		return nil, invalidf("key origin fingerprint %q: %v", fpStr,
			err)
	}

	origin := &keyOrigin{raw: s}
	copy(origin.fingerprint[:], fp)

	if hasPath {
		origin.path, err = parsePath(strings.Split(pathStr, "/"))
		if err != nil {
			return nil, err
		}
	}

	return origin, nil
}

// parsePath parses a list of derivation steps.  The hardened markers ' and h
// are both accepted.
func parsePath(steps []string) ([]uint32, error) {
	path := make([]uint32, 0, len(steps))
	for _, step := range steps {
		hardened := false
		switch {
		case strings.HasSuffix(step, "'"),
			strings.HasSuffix(step, "h"),
			strings.HasSuffix(step, "H"):

			hardened = true
			step = step[:len(step)-1]
		}

		n, err := strconv.ParseUint(step, 10, 32)
		if err != nil || step == "" || step[0] == '+' {
			return nil, invalidf("invalid derivation step %q", step)
		}
		if n >= hdkeychain.HardenedKeyStart {
			return nil, invalidf("derivation step %d out of range", n)
		}

		index := uint32(n)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		path = append(path, index)
	}

	return path, nil
}

// parseExtended parses an extended key followed by an optional derivation
// path, which may end in an unhardened wildcard.
func (k *keyExpr) parseExtended(keyStr, pathStr string, hasPath bool,
	params *chaincfg.Params) error {

	xkey, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return invalidf("extended key %q: %v", keyStr, err)
	}
	if !xkey.IsForNet(params) {
		return fmt.Errorf("%w: %w: extended key is not for %s",
			ErrInvalidDescriptor, ErrNetworkMismatch, params.Name)
	}
	k.private = xkey.IsPrivate()

	var steps []string
	if hasPath {
		steps = strings.Split(pathStr, "/")
		last := steps[len(steps)-1]
		switch last {
		case "*":
			k.wildcard = true
			steps = steps[:len(steps)-1]

		case "*'", "*h", "*H":
			return invalidf("hardened wildcard in %q is not "+
				"supported", k.raw)
		}
	}

	path, err := parsePath(steps)
	if err != nil {
		return err
	}

	// Everything up to and including the last hardened step has to be
	// derived from the private key.  Those steps move into the origin of
	// the public form of the key.
	hardenedLen := 0
	for i, step := range path {
		if step >= hdkeychain.HardenedKeyStart {
			hardenedLen = i + 1
		}
	}
	if hardenedLen > 0 && !k.private {
		return invalidf("hardened derivation from public key %q",
			k.raw)
	}

	hardenedKey := xkey
	for _, step := range path[:hardenedLen] {
		hardenedKey, err = hardenedKey.Derive(step)
		if err != nil {
			return invalidf("derive %q: %v", k.raw, err)
		}
	}
	xpub, err := hardenedKey.Neuter()
	if err != nil {
		return err
	}

	k.base = xpub
	for _, step := range path[hardenedLen:] {
		k.base, err = k.base.Derive(step)
		if err != nil {
			return invalidf("derive %q: %v", k.raw, err)
		}
	}

	if !k.private {
		k.public = k.raw
		return nil
	}

	// Build the public form of the key: the origin gains the hardened
	// steps and the remaining unhardened path is kept as written. A key
	// without origin and hardened steps stays without origin.
	var origin string
	switch {
	case k.origin == nil && hardenedLen == 0:

	case k.origin != nil && hardenedLen == 0:
		origin = k.origin.raw

	case k.origin != nil:
		origin = k.origin.raw + "/" + formatPath(path[:hardenedLen])

	default:
		pub, err := xkey.ECPubKey()
		if err != nil {
			return err
		}
		fp := btcutil.Hash160(pub.SerializeCompressed())[:4]
		origin = hex.EncodeToString(fp) + "/" +
			formatPath(path[:hardenedLen])
	}

	public := xpub.String()
	if origin != "" {
		public = "[" + origin + "]" + public
	}
	if rem := steps[hardenedLen:]; len(rem) > 0 {
		public += "/" + strings.Join(rem, "/")
	}
	if k.wildcard {
		public += "/*"
	}
	k.public = public

	return nil
}

// parseSingle parses a fixed public key given as hex, or a private key given
// in wallet import format.
func (k *keyExpr) parseSingle(keyStr string, params *chaincfg.Params,
	xOnly bool) error {

	if wif, err := btcutil.DecodeWIF(keyStr); err == nil {
		if !wif.IsForNet(params) {
			return fmt.Errorf("%w: %w: private key is not for %s",
				ErrInvalidDescriptor, ErrNetworkMismatch,
				params.Name)
		}

		k.private = true
		k.pubKey = wif.PrivKey.PubKey()

		var pub []byte
		switch {
		case xOnly:
			pub = schnorr.SerializePubKey(k.pubKey)
			k.xOnly = true
		case wif.CompressPubKey:
			pub = k.pubKey.SerializeCompressed()
		default:
			pub = k.pubKey.SerializeUncompressed()
			k.uncompressed = true
		}
		k.public = k.prefix() + hex.EncodeToString(pub)

		return nil
	}

	raw, err := hex.DecodeString(keyStr)
	if err != nil {
		return invalidf("invalid key %q", keyStr)
	}

	switch {
	case len(raw) == schnorr.PubKeyBytesLen && xOnly:
		k.pubKey, err = schnorr.ParsePubKey(raw)
		k.xOnly = true

	case len(raw) == btcec.PubKeyBytesLenCompressed,
		len(raw) == secp256k1.PubKeyBytesLenUncompressed:

		k.pubKey, err = btcec.ParsePubKey(raw)
		k.uncompressed = len(raw) == secp256k1.PubKeyBytesLenUncompressed

	default:
		return invalidf("public key %q has invalid length %d", keyStr,
			len(raw))
	}
	if err != nil {
		return invalidf("public key %q: %v", keyStr, err)
	}
	k.public = k.raw

	return nil
}

// prefix returns the origin part of the key expression as written.
func (k *keyExpr) prefix() string {
	if k.origin == nil {
		return ""
	}

	return "[" + k.origin.raw + "]"
}

// serialize returns the key at index in the encoding it was written in.
func (k *keyExpr) serialize(index uint32) ([]byte, error) {
	pub, err := k.derive(index)
	if err != nil {
		return nil, err
	}

	switch {
	case k.xOnly:
		return schnorr.SerializePubKey(pub), nil
	case k.uncompressed:
		return pub.SerializeUncompressed(), nil
	default:
		return pub.SerializeCompressed(), nil
	}
}

// formatPath renders a derivation path using the ' hardened marker.
func formatPath(path []uint32) string {
	steps := make([]string, len(path))
	for i, step := range path {
		if step >= hdkeychain.HardenedKeyStart {
			steps[i] = strconv.FormatUint(
				uint64(step-hdkeychain.HardenedKeyStart), 10,
			) + "'"
			continue
		}
		steps[i] = strconv.FormatUint(uint64(step), 10)
	}

	return strings.Join(steps, "/")
}
