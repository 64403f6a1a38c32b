package descriptor

import (
	"fmt"
	"strings"
)

// Descriptor strings carry an 8 character checksum tag after a '#'
// separator. The tag is a BCH code over the descriptor body, designed so
// that any single character error and most transpositions are detected.

const (
	// inputCharset is the set of characters allowed in a descriptor
	// body, ordered so that frequent characters map to short symbols.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ" +
		"&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set used for the tag
	// itself.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// checksumLen is the length of the checksum tag.
	checksumLen = 8
)

var checksumGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i := uint(0); i < 5; i++ {
		if c0>>i&1 == 1 {
			c ^= checksumGenerator[i]
		}
	}
	return c
}

// Checksum computes the checksum tag of a descriptor body (the part before
// the '#' separator). It fails if the body contains a character outside the
// descriptor character set.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls := uint64(0)
	clsCount := 0
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("invalid character %q in "+
				"descriptor", ch)
		}
		c = polymod(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos)>>5
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLen; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	checksum := make([]byte, checksumLen)
	for i := 0; i < checksumLen; i++ {
		checksum[i] = checksumCharset[c>>uint(5*(checksumLen-1-i))&31]
	}
	return string(checksum), nil
}

// VerifyChecksum splits a descriptor string into body and checksum tag,
// verifies the tag and returns the body. The string must contain exactly one
// '#' separator.
func VerifyChecksum(s string) (string, error) {
	if strings.Count(s, "#") != 1 {
		return "", fmt.Errorf("%w: expected exactly one '#' "+
			"separator", ErrBadChecksum)
	}
	sep := strings.IndexByte(s, '#')
	body, tag := s[:sep], s[sep+1:]
	if len(tag) != checksumLen {
		return "", fmt.Errorf("%w: tag must be %d characters, got %d",
			ErrBadChecksum, checksumLen, len(tag))
	}
	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if tag != expected {
		return "", fmt.Errorf("%w: expected %s, got %s",
			ErrBadChecksum, expected, tag)
	}
	return body, nil
}

// appendChecksum serializes a descriptor body with its checksum tag
// appended. Bodies produced by this package always checksum cleanly; a
// failure here means the body itself is corrupt.
func appendChecksum(desc string) string {
	checksum, err := Checksum(desc)
	if err != nil {
		panic(fmt.Sprintf("descriptor body %q not checksummable: %v",
			desc, err))
	}
	return desc + "#" + checksum
}
