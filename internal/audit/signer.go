package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const signaturePrefix = "hmac-sha256:"

// Signer produces and verifies tamper-evident signatures over audit record
// payloads.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from the configured signing key.
func NewSigner(key string) (*Signer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("signing key must be at least 16 bytes")
	}
	return &Signer{key: []byte(key)}, nil
}

// Sign returns the signature for a canonical payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a payload against its recorded signature.
func (s *Signer) Verify(payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(s.Sign(payload)), []byte(signature))
}
