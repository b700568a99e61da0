// Package signing provides the HMAC primitives shared by key hashing,
// rotation event signing, and webhook verification.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and verifies HMAC-SHA256 signatures over payload bytes.
// Signatures are hex encoded. The same signer key must be shared with any
// party expected to verify.
type Signer struct {
	key []byte
}

// NewSigner creates a signer from the configured ledger signing key.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign returns the hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HMAC of payload. Comparison
// is constant time.
func (s *Signer) Verify(payload []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// KeyedHash returns the hex HMAC-SHA256 of token under pepper. Stored in
// place of raw secrets so a database leak alone cannot be replayed against
// the API.
func KeyedHash(pepper, token string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
