package carton

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashReader consumes r fully and returns the hex-lower SHA-256 digest of its
// bytes along with the byte count. The copy uses a bounded buffer, so memory
// stays constant regardless of object size.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash reader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the hex-lower SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MatchesChecksum reports whether actual satisfies expected. An empty
// expectation is treated as no constraint.
func MatchesChecksum(actual, expected string) bool {
	return expected == "" || actual == expected
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature of payload and compares it to
// signature in constant time. Constant-time comparison is required here:
// a byte-wise early exit would leak how much of a forged signature matched.
func VerifySignature(payload []byte, signature string, secret []byte) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
