// Package crypto holds the symmetric primitives of the engine: the two data
// encapsulation mechanisms (AES-256-GCM and an HMAC-keyed stream hybrid),
// HKDF helpers and constant-time comparison. Neither DEM hides length.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 32
)

var ErrAuthenticationFailed = errors.New("crypto: authentication failed")

// AESGCMEncrypt encrypts plaintext under a 32-byte key with a fresh nonce.
// aad may be nil.
func AESGCMEncrypt(key, plaintext, aad []byte) (nonce, blob []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// AESGCMDecrypt reverses AESGCMEncrypt. Any tampering with nonce, blob or
// aad yields ErrAuthenticationFailed.
func AESGCMDecrypt(key, nonce, blob, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrAuthenticationFailed
	}
	pt, err := aead.Open(nil, nonce, blob, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.New("crypto: bad key size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// hmacSubkeys splits a DEM key into independent mac and stream keys.
func hmacSubkeys(key []byte) (macKey, streamKey []byte) {
	macKey = DeriveKey(key, []byte("seal-hmac-mac-v0"), KeySize)
	streamKey = DeriveKey(key, []byte("seal-hmac-stream-v0"), KeySize)
	return macKey, streamKey
}

// HMACEncrypt XORs plaintext with an HMAC-SHA-256 counter keystream and
// appends a 32-byte tag over header || blob || aad.
func HMACEncrypt(key, plaintext, header, aad []byte) (blob, tag []byte) {
	macKey, streamKey := hmacSubkeys(key)
	blob = xorKeystream(streamKey, plaintext)
	tag = hmacTag(macKey, header, blob, aad)
	return blob, tag
}

// HMACDecrypt recomputes the tag in constant time before decrypting.
func HMACDecrypt(key, blob, tag, header, aad []byte) ([]byte, error) {
	macKey, streamKey := hmacSubkeys(key)
	want := hmacTag(macKey, header, blob, aad)
	if !hmac.Equal(tag, want) {
		return nil, ErrAuthenticationFailed
	}
	return xorKeystream(streamKey, blob), nil
}

func hmacTag(macKey, header, blob, aad []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(header)
	mac.Write(blob)
	mac.Write(aad)
	return mac.Sum(nil)
}

func xorKeystream(streamKey, in []byte) []byte {
	out := make([]byte, len(in))
	mac := hmac.New(sha256.New, streamKey)
	var ctr [8]byte
	for off := 0; off < len(in); off += sha256.Size {
		binary.BigEndian.PutUint64(ctr[:], uint64(off/sha256.Size))
		mac.Reset()
		mac.Write(ctr[:])
		block := mac.Sum(nil)
		for i := 0; i < sha256.Size && off+i < len(in); i++ {
			out[off+i] = in[off+i] ^ block[i]
		}
	}
	return out
}

// ConstantTimeEqual reports whether a and b are equal without leaking a
// timing signal on the contents.
func ConstantTimeEqual(a, b []byte) bool { return hmac.Equal(a, b) }
