package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HmacSHA256Hex computes an HMAC-SHA256 over data and returns the hex digest.
func HmacSHA256Hex(secret, data string) string {
	return hmacHex(sha256.New, secret, data)
}

// HmacSHA512Hex computes an HMAC-SHA512 over data and returns the hex digest.
func HmacSHA512Hex(secret, data string) string {
	return hmacHex(sha512.New, secret, data)
}

// HmacEqual compares two MACs in constant time.
func HmacEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func hmacHex(h func() hash.Hash, secret, data string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
