package server

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/sealkms/seal/internal/crypto"
)

// Wallet signatures travel serialized as flag(0x00) || sig(64) || pubkey(32);
// addresses are blake2b-256(flag || pubkey). Personal messages are wrapped in
// the 3-byte personal-message intent before hashing.
const (
	ed25519Flag        = 0x00
	walletSignatureLen = 1 + ed25519.SignatureSize + ed25519.PublicKeySize

	// Certificates must not be created further in the future than this.
	maxCreatedAtSkew = 5 * time.Minute
)

var personalMessageIntent = []byte{3, 0, 0}

// Certificate is the wallet-signed delegation authorizing a session key to
// request decryption shares.
type Certificate struct {
	Address         []byte `json:"address"`
	PackageID       []byte `json:"package_id"`
	SessionPK       []byte `json:"session_pk"`
	TTLMinutes      uint16 `json:"ttl_minutes"`
	CreatedAt       int64  `json:"created_at"` // unix milliseconds
	MVRName         string `json:"mvr_name,omitempty"`
	WalletSignature []byte `json:"wallet_signature"`
}

// PersonalMessage renders the canonical human-readable string the wallet
// signs. The template is part of the SDK compatibility surface.
func (c *Certificate) PersonalMessage() []byte {
	target := c.MVRName
	if target == "" {
		target = "0x" + hex.EncodeToString(c.PackageID)
	}
	msg := fmt.Sprintf("Seal access for %s, session key %s, valid %d minutes from %d",
		target, hex.EncodeToString(c.SessionPK), c.TTLMinutes, c.CreatedAt)
	return []byte(msg)
}

// signingDigest wraps a personal message in the intent prefix and hashes it.
func signingDigest(msg []byte) [32]byte {
	var ln [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(ln[:], uint64(len(msg)))
	buf := make([]byte, 0, len(personalMessageIntent)+n+len(msg))
	buf = append(buf, personalMessageIntent...)
	buf = append(buf, ln[:n]...)
	buf = append(buf, msg...)
	return blake2b.Sum256(buf)
}

// WalletAddress derives the 32-byte address for an Ed25519 wallet key.
func WalletAddress(pub ed25519.PublicKey) []byte {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, ed25519Flag)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// Verify checks the certificate's structure, wallet signature and validity
// window against the server clock.
func (c *Certificate) Verify(now time.Time) *apiError {
	if len(c.Address) != 32 || len(c.PackageID) != 32 {
		return errMalformed("bad certificate address or package")
	}
	if len(c.SessionPK) != ed25519.PublicKeySize {
		return errMalformed("bad session key")
	}
	if len(c.WalletSignature) != walletSignatureLen || c.WalletSignature[0] != ed25519Flag {
		return errInvalidSignature("unsupported wallet signature")
	}
	sig := c.WalletSignature[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(c.WalletSignature[1+ed25519.SignatureSize:])
	if !crypto.ConstantTimeEqual(WalletAddress(pub), c.Address) {
		return errInvalidSignature("wallet key does not match address")
	}
	digest := signingDigest(c.PersonalMessage())
	if !ed25519.Verify(pub, digest[:], sig) {
		return errInvalidSignature("wallet signature invalid")
	}

	created := time.UnixMilli(c.CreatedAt)
	if created.After(now.Add(maxCreatedAtSkew)) {
		return errExpiredSession("certificate not yet valid")
	}
	if now.After(created.Add(time.Duration(c.TTLMinutes) * time.Minute)) {
		return errExpiredSession("certificate expired")
	}
	return nil
}

// Digest is the canonical certificate digest covered by the request
// signature. The wallet signature is excluded so clients can compute it
// before and after signing.
func (c *Certificate) Digest() []byte {
	h := sha256.New()
	h.Write(c.Address)
	h.Write(c.PackageID)
	h.Write(c.SessionPK)
	var ttl [2]byte
	binary.BigEndian.PutUint16(ttl[:], c.TTLMinutes)
	h.Write(ttl[:])
	var created [8]byte
	binary.BigEndian.PutUint64(created[:], uint64(c.CreatedAt))
	h.Write(created[:])
	h.Write([]byte(c.MVRName))
	return h.Sum(nil)
}

// requestSigningBytes is what the session key signs: ptb || enc_key || digest.
func requestSigningBytes(ptb, encKey []byte, cert *Certificate) []byte {
	out := make([]byte, 0, len(ptb)+len(encKey)+32)
	out = append(out, ptb...)
	out = append(out, encKey...)
	out = append(out, cert.Digest()...)
	return out
}

// verifyRequestSignature checks the session key's signature over the request.
func verifyRequestSignature(ptb, encKey, sig []byte, cert *Certificate) *apiError {
	if len(encKey) != ed25519.PublicKeySize {
		return errMalformed("bad enc_key")
	}
	if !crypto.ConstantTimeEqual(encKey, cert.SessionPK) {
		return errInvalidSignature("enc_key does not match certificate")
	}
	if len(sig) != ed25519.SignatureSize {
		return errInvalidSignature("bad request signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(encKey), requestSigningBytes(ptb, encKey, cert), sig) {
		return errInvalidSignature("request signature invalid")
	}
	return nil
}

// SignCertificate fills in the wallet signature; used by the SDK and tests.
func SignCertificate(cert *Certificate, walletPriv ed25519.PrivateKey) {
	pub := walletPriv.Public().(ed25519.PublicKey)
	cert.Address = WalletAddress(pub)
	digest := signingDigest(cert.PersonalMessage())
	sig := ed25519.Sign(walletPriv, digest[:])
	out := make([]byte, 0, walletSignatureLen)
	out = append(out, ed25519Flag)
	out = append(out, sig...)
	out = append(out, pub...)
	cert.WalletSignature = out
}

// SignRequest produces the session-key signature over (ptb, enc_key, cert).
func SignRequest(sessionPriv ed25519.PrivateKey, ptb []byte, cert *Certificate) []byte {
	pub := sessionPriv.Public().(ed25519.PublicKey)
	return ed25519.Sign(sessionPriv, requestSigningBytes(ptb, pub, cert))
}
