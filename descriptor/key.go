package descriptor

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	compressedKeyLen   = 33
	uncompressedKeyLen = 65
)

// parsePubKey decodes and validates a hex encoded secp256k1 public key
// argument of a descriptor expression.
func parsePubKey(s string) ([]byte, error) {
	keyBytes, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return checkPubKey(keyBytes)
}

// checkPubKey validates that keyBytes encode a point on the secp256k1 curve
// in compressed or uncompressed form.
func checkPubKey(keyBytes []byte) ([]byte, error) {
	if len(keyBytes) != compressedKeyLen &&
		len(keyBytes) != uncompressedKeyLen {

		return nil, fmt.Errorf("public key must be %d or %d bytes, "+
			"got %d", compressedKeyLen, uncompressedKeyLen,
			len(keyBytes))
	}
	if _, err := btcec.ParsePubKey(keyBytes); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return keyBytes, nil
}

// checkCompressedPubKey is like checkPubKey but rejects uncompressed keys.
// Segwit outputs require compressed keys by standardness.
func checkCompressedPubKey(keyBytes []byte) ([]byte, error) {
	if len(keyBytes) != compressedKeyLen {
		return nil, fmt.Errorf("public key must be %d bytes "+
			"compressed, got %d", compressedKeyLen, len(keyBytes))
	}
	if _, err := btcec.ParsePubKey(keyBytes); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return keyBytes, nil
}
