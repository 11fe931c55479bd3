// Package signing implements the HMAC scheme receivers use to verify that
// a delivery really came from us: HMAC-SHA256 over "{timestamp}.{body}"
// keyed with the webhook's secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign computes the signature header value for a payload. The timestamp is
// supplied by the caller (unix seconds at send time) so real deliveries and
// test sends sign identically. Deterministic: same inputs, same output.
func Sign(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the signature and compares in constant time. This is
// what a receiving endpoint does with the X-SS-Timestamp header and the raw
// request body.
func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := Sign(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
