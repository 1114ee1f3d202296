// File: internal/infra/security/token.go
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenBytes is the entropy of session tokens: 256 bits.
const TokenBytes = 32

// NewToken returns a hex-encoded random token read from the OS CSPRNG.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
