package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"filevault/internal/config"
)

// TokenSource produces share tokens
type TokenSource func() (string, error)

// RandomToken returns 256 bits from crypto/rand, base64url without padding
func RandomToken() (string, error) {
	b := make([]byte, config.ShareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
