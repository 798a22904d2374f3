// Package util provides utility functions for the lead qualifier application.
package util

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"strings"
)

// GenerateNumericCode generates a random numeric code of the specified length
// using crypto/rand. Leading zeros are allowed, so the result must be treated
// as a string, never parsed as an integer.
func GenerateNumericCode(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			panic(err) // crypto/rand failure means no safe fallback
		}
		b[i] = digits[n.Int64()]
	}
	return string(b)
}

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; suitable for identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[mrand.Intn(16)])
	}

	return builder.String()
}
