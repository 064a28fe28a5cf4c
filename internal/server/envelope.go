package server

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sealkms/seal/internal/crypto"
)

// The response body is sealed with XChaCha20-Poly1305 keyed from the
// session's enc_key, so captured transport logs do not expose issued keys.
// The nonce is session_pk[:16] || counter, never reused for one session key
// within a process lifetime.
const envelopeInfo = "seal-response-key-v0"

var envelopeCounter atomic.Uint64

var errEnvelope = errors.New("server: envelope failure")

// sealedEnvelope is the encrypted response wrapper.
type sealedEnvelope struct {
	Nonce  []byte `json:"nonce"`
	Sealed []byte `json:"sealed"`
}

func envelopeAEAD(encKey []byte) ([]byte, error) {
	key := crypto.DeriveKey(encKey, []byte(envelopeInfo), chacha20poly1305.KeySize)
	return key, nil
}

// sealResponse encrypts plaintext for the session key.
func sealResponse(encKey, plaintext []byte) (*sealedEnvelope, error) {
	key, err := envelopeAEAD(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errEnvelope
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, encKey[:16])
	binary.BigEndian.PutUint64(nonce[16:], envelopeCounter.Add(1))
	return &sealedEnvelope{
		Nonce:  nonce,
		Sealed: aead.Seal(nil, nonce, plaintext, encKey),
	}, nil
}

// OpenResponse decrypts a sealed envelope; the SDK and tests use it.
func OpenResponse(encKey []byte, env *sealedEnvelope) ([]byte, error) {
	key, err := envelopeAEAD(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errEnvelope
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errEnvelope
	}
	pt, err := aead.Open(nil, env.Nonce, env.Sealed, encKey)
	if err != nil {
		return nil, errEnvelope
	}
	return pt, nil
}
