package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashWithDomain hashes the parts under a domain tag. Parts are separated by
// a NUL byte so ("ab","c") and ("a","bc") differ.
func HashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
