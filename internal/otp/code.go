package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// DefaultCodeLength is the number of digits in a one-time code.
	DefaultCodeLength = 6
	minCodeLength     = 4
	maxCodeLength     = 10
)

// CodeGenerator produces a numeric code of the given length.
type CodeGenerator func(length int) (string, error)

// GenerateCode returns a numeric code of length digits read from crypto/rand.
// Bytes at or above 250 are discarded so every digit is uniformly distributed.
func GenerateCode(length int) (string, error) {
	return generateCode(rand.Reader, length)
}

func generateCode(r io.Reader, length int) (string, error) {
	if length < minCodeLength || length > maxCodeLength {
		return "", fmt.Errorf("otp: code length %d out of range [%d,%d]", length, minCodeLength, maxCodeLength)
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length+4)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(provided, storedHash string) bool {
	providedHash := HashCode(provided)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
