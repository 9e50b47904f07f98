package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// SHA256Prefix is the scheme marker used in outbound signature headers
const SHA256Prefix = "sha256="

// SignSHA256Hex returns the hex HMAC-SHA256 of body
func SignSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA512Hex returns the hex HMAC-SHA512 of body, the scheme WAHA uses
func SignSHA512Hex(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats a body signature as "sha256=<hex>"
func SignatureHeader(secret string, body []byte) string {
	return SHA256Prefix + SignSHA256Hex(secret, body)
}

// EqualHex compares two hex signatures in constant time, ignoring case
func EqualHex(expected, actual string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(actual)))
}

// VerifySHA512 checks a bare hex HMAC-SHA512 signature
func VerifySHA512(secret string, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	if !EqualHex(SignSHA512Hex(secret, body), signature) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// VerifySHA256Header checks a "sha256=<hex>" signature header
func VerifySHA256Header(secret string, body []byte, header string) error {
	scheme, sig, ok := strings.Cut(header, "=")
	if !ok || strings.ToLower(scheme) != "sha256" {
		return fmt.Errorf("invalid signature format")
	}
	if !EqualHex(SignSHA256Hex(secret, body), sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
