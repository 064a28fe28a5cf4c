// Package ibe implements Boneh-Franklin identity-based encryption over
// BLS12-381, with master keys in G2 and identity points in G1, plus the
// weighted Shamir threshold layer used for committee encryption.
//
// The full identity hashed to the curve is packageID || innerID. Hash and
// key-derivation steps are domain separated with the SEAL-BF-*-v0 tags.
package ibe

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/sealkms/seal/internal/crypto"
	"github.com/sealkms/seal/internal/crypto/bls381"
)

const (
	dstH1  = "SEAL-BF-G1-v0"
	infoH2 = "SEAL-BF-H2-v0"
	infoH3 = "SEAL-BF-H3-v0"

	// MaxIdentityLen bounds the inner id accepted for hashing.
	MaxIdentityLen = 1024

	UserKeySize       = bls381.G1Size
	EncapsulationSize = bls381.G2Size
	KeyMaterialSize   = 32
)

var (
	ErrInvalidPoint    = bls381.ErrInvalidPoint
	ErrInvalidScalar   = bls381.ErrInvalidScalar
	ErrInvalidIdentity = errors.New("ibe: invalid identity")
)

// FullID concatenates the package address and the inner identity.
func FullID(packageID [32]byte, innerID []byte) []byte {
	out := make([]byte, 0, len(packageID)+len(innerID))
	out = append(out, packageID[:]...)
	out = append(out, innerID...)
	return out
}

func checkIdentity(fullID []byte) error {
	if len(fullID) <= 32 || len(fullID) > 32+MaxIdentityLen {
		return ErrInvalidIdentity
	}
	return nil
}

// h1 maps the full identity into G1.
func h1(fullID []byte) *blst.P1 {
	return bls381.HashToG1(fullID, []byte(dstH1))
}

// h2 derives 32 bytes of key material from a serialized GT element. The
// share index is bound into the derivation so that two committee slots held
// by the same server never reuse a pad.
func h2(gt []byte, index uint8) []byte {
	return crypto.DeriveKey(gt, append([]byte(infoH2), index), KeyMaterialSize)
}

// h3 hashes the full identity and the encapsulation into Fr; its serialized
// form is the DEM key.
func h3(fullID, encapsulation []byte) *blst.Scalar {
	ikm := make([]byte, 0, len(fullID)+len(encapsulation))
	ikm = append(ikm, fullID...)
	ikm = append(ikm, encapsulation...)
	return blst.KeyGen(crypto.DeriveKey(ikm, []byte(infoH3), 32))
}

// KeyGen samples a fresh master secret and returns it with the compressed
// G2 master public key.
func KeyGen() (*blst.Scalar, []byte, error) {
	sk, err := bls381.RandomScalar()
	if err != nil {
		return nil, nil, err
	}
	return sk, MasterPublic(sk), nil
}

// MasterPublic returns the compressed public key sk*G2.
func MasterPublic(sk *blst.Scalar) []byte {
	return bls381.G2ScalarBase(sk).ToAffine().Compress()
}

// Extract derives the user secret key sk*H1(fullID), compressed G1.
func Extract(sk *blst.Scalar, fullID []byte) ([]byte, error) {
	if err := checkIdentity(fullID); err != nil {
		return nil, err
	}
	p := h1(fullID)
	p.MultAssign(sk)
	return p.ToAffine().Compress(), nil
}

// VerifyUserKey checks e(usk, G2) == e(H1(id), pk), i.e. that usk was
// extracted under the master key behind pk.
func VerifyUserKey(usk, fullID, masterPub []byte) bool {
	uskAff, err := bls381.G1FromCompressed(usk)
	if err != nil {
		return false
	}
	pkAff, err := bls381.G2FromCompressed(masterPub)
	if err != nil {
		return false
	}
	if checkIdentity(fullID) != nil {
		return false
	}
	lhs := bls381.Pair(uskAff, blst.P2Generator().ToAffine())
	rhs := bls381.Pair(h1(fullID).ToAffine(), pkAff)
	return crypto.ConstantTimeEqual(lhs, rhs)
}

// Encapsulate runs the base (non-threshold) KEM: it samples r, returns
// r*G2 and the key material H2(e(H1(id), pk)^r).
func Encapsulate(masterPub, fullID []byte) (encapsulation, keyMaterial []byte, err error) {
	if err := checkIdentity(fullID); err != nil {
		return nil, nil, err
	}
	pkAff, err := bls381.G2FromCompressed(masterPub)
	if err != nil {
		return nil, nil, err
	}
	r, err := bls381.RandomScalar()
	if err != nil {
		return nil, nil, err
	}
	encapsulation = bls381.G2ScalarBase(r).ToAffine().Compress()
	rq := h1(fullID)
	rq.MultAssign(r)
	gt := bls381.Pair(rq.ToAffine(), pkAff)
	keyMaterial = h2(gt, 0)
	bls381.ZeroScalar(r)
	return encapsulation, keyMaterial, nil
}

// Decapsulate recomputes the key material from a user secret key and an
// encapsulation: H2(e(usk, encapsulation)).
func Decapsulate(usk, encapsulation []byte) ([]byte, error) {
	return decapsulateIndexed(usk, encapsulation, 0)
}

func decapsulateIndexed(usk, encapsulation []byte, index uint8) ([]byte, error) {
	uskAff, err := bls381.G1FromCompressed(usk)
	if err != nil {
		return nil, err
	}
	encAff, err := bls381.G2FromCompressed(encapsulation)
	if err != nil {
		return nil, err
	}
	return h2(bls381.Pair(uskAff, encAff), index), nil
}

// DeriveDEMKey computes the symmetric key bound to the identity and the
// threshold secret's public image s*G2.
func DeriveDEMKey(fullID, encapsulation []byte) []byte {
	s := h3(fullID, encapsulation)
	out := bls381.ScalarBytes(s)
	return out
}
