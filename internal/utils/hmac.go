package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignHMAC creates a hex-encoded HMAC-SHA256 signature for a message
// using the provided secret. Matches the digest format the billing
// gateway sends in its webhook signature header.
func SignHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC verifies an HMAC signature against a message using the provided secret
// Uses constant-time comparison to prevent timing attacks
func VerifyHMAC(message, signature, secret string) bool {
	expectedMAC := SignHMAC(message, secret)

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expectedMAC)) == 1
}
