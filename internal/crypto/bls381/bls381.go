// Package bls381 wraps the blst bindings with the checks the rest of the
// engine relies on: canonical scalar parsing, subgroup- and identity-checked
// point deserialization, hash-to-curve and the pairing.
//
// Conventions: scalars are 32 bytes big-endian, canonically reduced. G1 is
// compressed to 48 bytes, G2 to 96. The pairing maps (G1, G2) into GT and is
// returned final-exponentiated as its big-endian serialization.
package bls381

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	ScalarSize = 32
	G1Size     = 48
	G2Size     = 96
)

var (
	ErrInvalidScalar = errors.New("bls381: invalid scalar")
	ErrInvalidPoint  = errors.New("bls381: invalid point")
)

// Compressed encodings of the identity elements.
var (
	g1Infinity = append([]byte{0xc0}, make([]byte, G1Size-1)...)
	g2Infinity = append([]byte{0xc0}, make([]byte, G2Size-1)...)
)

// RandomScalar samples a uniform nonzero scalar from the system RNG.
func RandomScalar() (*blst.Scalar, error) {
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, ikm); err != nil {
		return nil, err
	}
	s := blst.KeyGen(ikm)
	Zero(ikm)
	if s == nil {
		return nil, errors.New("bls381: bad randomness")
	}
	return s, nil
}

// ScalarFromBytes parses a canonical 32-byte big-endian scalar. Values not
// reduced modulo the group order are rejected.
func ScalarFromBytes(b []byte) (*blst.Scalar, error) {
	if len(b) != ScalarSize {
		return nil, ErrInvalidScalar
	}
	var s blst.Scalar
	if s.Deserialize(b) == nil {
		return nil, ErrInvalidScalar
	}
	return &s, nil
}

// ScalarBytes serializes a scalar to its canonical 32-byte form.
func ScalarBytes(s *blst.Scalar) []byte { return s.Serialize() }

// ScalarFromUint64 embeds a small integer into the scalar field.
func ScalarFromUint64(v uint64) *blst.Scalar {
	var buf [blst.BLST_SCALAR_BYTES]byte
	binary.BigEndian.PutUint64(buf[len(buf)-8:], v)
	var s blst.Scalar
	_ = s.FromBEndian(buf[:])
	return &s
}

// ScalarMul returns a*b.
func ScalarMul(a, b *blst.Scalar) (*blst.Scalar, error) {
	out, ok := a.Mul(b)
	if !ok {
		return nil, ErrInvalidScalar
	}
	return out, nil
}

// ScalarSub returns a-b.
func ScalarSub(a, b *blst.Scalar) (*blst.Scalar, error) {
	out, ok := a.Sub(b)
	if !ok {
		return nil, ErrInvalidScalar
	}
	return out, nil
}

// ScalarInverse returns 1/a.
func ScalarInverse(a *blst.Scalar) *blst.Scalar { return a.Inverse() }

// G1FromCompressed parses a compressed G1 point, rejecting the identity and
// points outside the prime-order subgroup.
func G1FromCompressed(b []byte) (*blst.P1Affine, error) {
	if len(b) != G1Size || bytesEqual(b, g1Infinity) {
		return nil, ErrInvalidPoint
	}
	var aff blst.P1Affine
	if aff.Uncompress(b) == nil || !aff.InG1() {
		return nil, ErrInvalidPoint
	}
	return &aff, nil
}

// G2FromCompressed parses a compressed G2 point, rejecting the identity and
// points outside the prime-order subgroup.
func G2FromCompressed(b []byte) (*blst.P2Affine, error) {
	if len(b) != G2Size || bytesEqual(b, g2Infinity) {
		return nil, ErrInvalidPoint
	}
	var aff blst.P2Affine
	if aff.Uncompress(b) == nil || !aff.InG2() {
		return nil, ErrInvalidPoint
	}
	return &aff, nil
}

// HashToG1 maps msg into G1 under the given domain separation tag.
func HashToG1(msg, dst []byte) *blst.P1 {
	return blst.HashToG1(msg, dst, nil)
}

// G1Mult returns s*p.
func G1Mult(p *blst.P1Affine, s *blst.Scalar) *blst.P1 {
	var jac blst.P1
	jac.FromAffine(p)
	return jac.Mult(s)
}

// G2Mult returns s*p.
func G2Mult(p *blst.P2Affine, s *blst.Scalar) *blst.P2 {
	var jac blst.P2
	jac.FromAffine(p)
	return jac.Mult(s)
}

// G2ScalarBase returns s*G2 for the group generator.
func G2ScalarBase(s *blst.Scalar) *blst.P2 { return blst.P2Generator().Mult(s) }

// Pair computes e(p, q), final-exponentiated, serialized big-endian.
func Pair(p *blst.P1Affine, q *blst.P2Affine) []byte {
	gt := blst.Fp12MillerLoop(q, p)
	gt.FinalExp()
	return gt.ToBendian()
}

// ZeroScalar overwrites a scalar in place, best-effort.
func ZeroScalar(s *blst.Scalar) {
	var zero [ScalarSize]byte
	_ = s.FromBEndian(zero[:])
}

// Zero overwrites b with zeroes, best-effort.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := range a {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}
