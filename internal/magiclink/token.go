package magiclink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes is the entropy of a generated token.
const TokenBytes = 32

// GenerateToken returns 256 bits from crypto/rand, hex encoded.
func GenerateToken() (string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Plausible rejects presented strings that cannot be an issued token
// before they reach the durable store as a substring query.
func Plausible(token string) bool {
	if len(token) < 32 || len(token) > 256 {
		return false
	}
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
