package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"
)

// Extract runs HKDF-Extract with SHA-256.
func Extract(secret, salt []byte) []byte {
	return hkdf.Extract(sha256.New, secret, salt)
}

// Expand runs HKDF-Expand with SHA-256 producing n bytes.
func Expand(prk, info []byte, n int) []byte {
	out := make([]byte, n)
	r := hkdf.Expand(sha256.New, prk, info)
	if _, err := r.Read(out); err != nil {
		// n exceeds the HKDF output limit; callers keep n small.
		panic(err)
	}
	return out
}

// DeriveKey is the one-shot extract-then-expand used for subkeys.
func DeriveKey(ikm, info []byte, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, ikm, nil, info)
	if _, err := r.Read(out); err != nil {
		panic(err)
	}
	return out
}
