package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// TokenHasher produces the fingerprint stored in the claim ledger in place
// of the raw token value. Keyed with a deployment pepper so a leaked ledger
// cannot be brute-forced against short token values.
type TokenHasher struct {
	pepper []byte
}

func NewTokenHasher(pepper string) *TokenHasher {
	return &TokenHasher{pepper: []byte(pepper)}
}

func (h *TokenHasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares a raw value against a stored fingerprint in constant time.
func (h *TokenHasher) Equal(value, fingerprint string) bool {
	return hmac.Equal([]byte(h.Hash(value)), []byte(fingerprint))
}
