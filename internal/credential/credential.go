// Package credential mints and checks activation tokens: a hex HMAC-SHA256
// over "identifier|plan" keyed by a single server secret.
package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrEmptySecret is returned when a signer is built without a secret.
var ErrEmptySecret = errors.New("activation secret is empty")

// Signer holds the process-wide signing secret.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{key: []byte(secret)}, nil
}

// GenerateSecret returns 32 random bytes, hex encoded, suitable as an activation secret.
func GenerateSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate activation secret: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Sign returns the token for identifier and plan. It is deterministic.
func (s *Signer) Sign(identifier, plan string) string {
	return hex.EncodeToString(s.mac(identifier, plan))
}

// Verify reports whether token was issued for exactly identifier and plan.
// Malformed tokens fail closed.
func (s *Signer) Verify(identifier, plan, token string) bool {
	if s == nil || len(s.key) == 0 {
		return false
	}
	if len(token) != hex.EncodedLen(sha256.Size) {
		return false
	}
	presented, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(presented, s.mac(identifier, plan))
}

func (s *Signer) mac(identifier, plan string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(identifier + "|" + plan))
	return mac.Sum(nil)
}
