package ibe

import (
	"errors"
	"sort"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/sealkms/seal/internal/crypto/bls381"
)

var (
	ErrInsufficientShares   = errors.New("ibe: insufficient shares")
	ErrDuplicateShareIndex  = errors.New("ibe: duplicate share index")
	ErrInterpolationFailure = errors.New("ibe: interpolation failure")
)

// Slot is one committee position: a server's master public key and the
// Shamir evaluation point assigned to it. A server holding weight w occupies
// w slots with distinct indices.
type Slot struct {
	PublicKey []byte // compressed G2
	Index     uint8  // nonzero
}

// Encapsulation is the output of SplitEncrypt: the public image s*G2 of the
// threshold secret, one pad-encrypted 32-byte share per slot (in slot
// order), and the DEM key.
type Encapsulation struct {
	Encapsulation []byte
	Shares        [][]byte
	DEMKey        []byte
}

// SplitEncrypt samples a degree t-1 polynomial with secret s = P(0), emits
// s*G2 as the encapsulation, and one-time-pad encrypts each share P(x_i)
// under the slot's IBE key material.
func SplitEncrypt(slots []Slot, threshold uint8, fullID []byte) (*Encapsulation, error) {
	if err := checkIdentity(fullID); err != nil {
		return nil, err
	}
	if threshold == 0 || int(threshold) > len(slots) {
		return nil, ErrInsufficientShares
	}
	seen := map[uint8]struct{}{}
	for _, sl := range slots {
		if sl.Index == 0 {
			return nil, ErrInterpolationFailure
		}
		if _, ok := seen[sl.Index]; ok {
			return nil, ErrDuplicateShareIndex
		}
		seen[sl.Index] = struct{}{}
	}

	coeffs := make([]*blst.Scalar, threshold)
	for i := range coeffs {
		s, err := bls381.RandomScalar()
		if err != nil {
			return nil, err
		}
		coeffs[i] = s
	}
	secret := coeffs[0]
	defer func() {
		for _, c := range coeffs {
			bls381.ZeroScalar(c)
		}
	}()

	encap := bls381.G2ScalarBase(secret).ToAffine().Compress()

	// s*H1(id) once; one pairing per slot afterwards.
	sq := h1(fullID)
	sq.MultAssign(secret)
	sqAff := sq.ToAffine()

	shares := make([][]byte, len(slots))
	for i, sl := range slots {
		pkAff, err := bls381.G2FromCompressed(sl.PublicKey)
		if err != nil {
			return nil, err
		}
		eval, err := evalPoly(coeffs, sl.Index)
		if err != nil {
			return nil, err
		}
		pad := h2(bls381.Pair(sqAff, pkAff), sl.Index)
		share := bls381.ScalarBytes(eval)
		for j := range share {
			share[j] ^= pad[j]
		}
		shares[i] = share
	}

	return &Encapsulation{
		Encapsulation: encap,
		Shares:        shares,
		DEMKey:        DeriveDEMKey(fullID, encap),
	}, nil
}

// UserShare pairs a pad-encrypted share with the user secret key obtained
// from the server holding that slot.
type UserShare struct {
	Index     uint8
	Encrypted []byte // 32-byte pad-encrypted share
	UserKey   []byte // compressed G1 extraction for the full identity
}

// CombineShares strips the pads with per-slot decapsulations, interpolates
// P(0) from the smallest `threshold` indices, and re-derives the DEM key.
// The recovered secret is checked against the encapsulation.
func CombineShares(shares []UserShare, threshold uint8, fullID, encapsulation []byte) ([]byte, error) {
	if err := checkIdentity(fullID); err != nil {
		return nil, err
	}
	if threshold == 0 || len(shares) < int(threshold) {
		return nil, ErrInsufficientShares
	}
	sorted := make([]UserShare, len(shares))
	copy(sorted, shares)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	sorted = sorted[:threshold]

	indices := make([]uint8, 0, len(sorted))
	seen := map[uint8]struct{}{}
	for _, sh := range sorted {
		if sh.Index == 0 || len(sh.Encrypted) != 32 {
			return nil, ErrInterpolationFailure
		}
		if _, ok := seen[sh.Index]; ok {
			return nil, ErrDuplicateShareIndex
		}
		seen[sh.Index] = struct{}{}
		indices = append(indices, sh.Index)
	}

	points := make([]*blst.Scalar, len(sorted))
	for i, sh := range sorted {
		pad, err := decapsulateIndexed(sh.UserKey, encapsulation, sh.Index)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, 32)
		for j := range raw {
			raw[j] = sh.Encrypted[j] ^ pad[j]
		}
		s, err := bls381.ScalarFromBytes(raw)
		bls381.Zero(raw)
		if err != nil {
			return nil, ErrInterpolationFailure
		}
		points[i] = s
	}

	secret, err := interpolateAtZero(indices, points)
	if err != nil {
		return nil, err
	}
	defer bls381.ZeroScalar(secret)

	// The recovered secret must reproduce the encapsulation; anything else
	// means a share or user key was wrong.
	got := bls381.G2ScalarBase(secret).ToAffine().Compress()
	if !bytesEq(got, encapsulation) {
		return nil, ErrInterpolationFailure
	}
	return DeriveDEMKey(fullID, encapsulation), nil
}

func evalPoly(coeffs []*blst.Scalar, x uint8) (*blst.Scalar, error) {
	if len(coeffs) == 0 {
		return nil, ErrInterpolationFailure
	}
	xs := bls381.ScalarFromUint64(uint64(x))
	res := *coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		if _, ok := (&res).MulAssign(xs); !ok {
			return nil, ErrInterpolationFailure
		}
		if _, ok := (&res).AddAssign(coeffs[i]); !ok {
			return nil, ErrInterpolationFailure
		}
	}
	return &res, nil
}

func interpolateAtZero(indices []uint8, values []*blst.Scalar) (*blst.Scalar, error) {
	acc := bls381.ScalarFromUint64(0)
	for i, xi := range indices {
		coeff, err := lagrangeAtZero(xi, indices)
		if err != nil {
			return nil, err
		}
		term, err := bls381.ScalarMul(values[i], coeff)
		if err != nil {
			return nil, ErrInterpolationFailure
		}
		if _, ok := acc.AddAssign(term); !ok {
			return nil, ErrInterpolationFailure
		}
	}
	return acc, nil
}

func lagrangeAtZero(i uint8, indices []uint8) (*blst.Scalar, error) {
	xi := bls381.ScalarFromUint64(uint64(i))
	num := bls381.ScalarFromUint64(1)
	den := bls381.ScalarFromUint64(1)
	zero := bls381.ScalarFromUint64(0)
	for _, j := range indices {
		if j == i {
			continue
		}
		xj := bls381.ScalarFromUint64(uint64(j))
		neg, err := bls381.ScalarSub(zero, xj)
		if err != nil {
			return nil, ErrInterpolationFailure
		}
		if num, err = bls381.ScalarMul(num, neg); err != nil {
			return nil, ErrInterpolationFailure
		}
		diff, err := bls381.ScalarSub(xi, xj)
		if err != nil {
			return nil, ErrInterpolationFailure
		}
		if den, err = bls381.ScalarMul(den, diff); err != nil {
			return nil, ErrInterpolationFailure
		}
	}
	return bls381.ScalarMul(num, bls381.ScalarInverse(den))
}

func bytesEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := range a {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
