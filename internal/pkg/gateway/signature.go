package gateway

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"
)

// verifyBodyHMAC checks a hex-encoded HMAC digest header against the raw
// request body. Comparison is constant-time. The body must be the exact
// bytes received on the wire; re-serialized JSON breaks the signature.
func verifyBodyHMAC(payload []byte, signatureHeader, secret string, hashFunc func() hash.Hash) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}
