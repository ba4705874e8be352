package descriptor

import "strings"

const (
	// checksumLength is the number of characters of a descriptor
	// checksum.
	checksumLength = 8

	// inputCharset is the set of characters a descriptor may contain.
	// The position of a character determines the symbol it contributes to
	// the checksum.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set used to render the
	// checksum.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polyMod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i := 0; i < 5; i++ {
		if (c0>>uint(i))&1 != 0 {
			c ^= generator[i]
		}
	}

	return c
}

// Checksum computes the BIP-380 checksum of a descriptor string that does not
// include the '#' separator.  It returns false if s contains characters
// outside of the descriptor character set.
func Checksum(s string) (string, bool) {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)
	for _, ch := range s {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", false
		}

		c = polyMod(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polyMod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	sb.Grow(checksumLength)
	for j := 0; j < checksumLength; j++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-uint(j))))&31])
	}

	return sb.String(), true
}

// splitChecksum separates a descriptor from its optional checksum and
// verifies the checksum if present.
func splitChecksum(s string) (string, error) {
	body, sum, found := strings.Cut(s, "#")
	expected, ok := Checksum(body)
	if !ok {
		return "", invalidf("invalid character in descriptor")
	}
	if !found {
		return body, nil
	}

	if len(sum) != checksumLength {
		return "", invalidf("checksum %q has invalid length", sum)
	}
	if sum != expected {
		return "", invalidf("checksum mismatch: got %s, expected %s",
			sum, expected)
	}

	return body, nil
}
