// Package idgen produces item identifiers: opaque base36 hash ids for
// top-level items and dotted hierarchical ids for children.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DefaultPrefix is used when no id prefix is configured.
const DefaultPrefix = "fg"

// DefaultLength is the number of base36 characters in a generated hash id.
const DefaultLength = 6

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of exactly length
// characters, zero padded on the left or truncated to the least significant digits.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for len(chars) < length {
		chars = append(chars, '0')
	}
	chars = chars[:length]

	var sb strings.Builder
	sb.Grow(length)
	for i := len(chars) - 1; i >= 0; i-- {
		sb.WriteByte(chars[i])
	}
	return sb.String()
}

// GenerateHashID derives an opaque id such as "fg-3k9x2a" from the item's
// identifying content. The nonce is bumped by callers on collision.
// Lengths outside 3..8 fall back to DefaultLength.
func GenerateHashID(prefix, project, title string, timestamp time.Time, length, nonce int) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if length < 3 || length > 8 {
		length = DefaultLength
	}
	content := fmt.Sprintf("%s|%s|%d|%d", project, title, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	// ceil(length * log2(36) / 8) bytes carry enough entropy for length chars.
	numBytes := (length*52/10 + 7) / 8
	return prefix + "-" + EncodeBase36(hash[:numBytes], length)
}
