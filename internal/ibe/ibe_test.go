package ibe

import (
	"bytes"
	"testing"

	"github.com/sealkms/seal/internal/crypto/bls381"
)

func testFullID(inner string) []byte {
	var pkg [32]byte
	pkg[31] = 1
	return FullID(pkg, []byte(inner))
}

func TestKEMRoundTrip(t *testing.T) {
	sk, pk, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	id := testFullID("document-1")

	encap, km, err := Encapsulate(pk, id)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	if len(encap) != EncapsulationSize || len(km) != KeyMaterialSize {
		t.Fatalf("bad sizes %d %d", len(encap), len(km))
	}

	usk, err := Extract(sk, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got, err := Decapsulate(usk, encap)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if !bytes.Equal(got, km) {
		t.Fatalf("key material mismatch")
	}
}

func TestDecapsulateWrongIdentity(t *testing.T) {
	sk, pk, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	encap, km, err := Encapsulate(pk, testFullID("alpha"))
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	usk, err := Extract(sk, testFullID("beta"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got, err := Decapsulate(usk, encap)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if bytes.Equal(got, km) {
		t.Fatalf("wrong identity recovered the key material")
	}
}

func TestExtractDeterministic(t *testing.T) {
	sk, _, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	id := testFullID("doc")
	a, err := Extract(sk, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	b, err := Extract(sk, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("extraction not deterministic")
	}
}

func TestVerifyUserKey(t *testing.T) {
	sk, pk, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	id := testFullID("doc")
	usk, err := Extract(sk, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !VerifyUserKey(usk, id, pk) {
		t.Fatalf("valid key rejected")
	}
	if VerifyUserKey(usk, testFullID("other"), pk) {
		t.Fatalf("key accepted for the wrong identity")
	}

	sk2, _, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	usk2, err := Extract(sk2, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if VerifyUserKey(usk2, id, pk) {
		t.Fatalf("foreign key accepted")
	}
}

func TestIdentityBounds(t *testing.T) {
	sk, _, err := KeyGen()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var pkg [32]byte
	if _, err := Extract(sk, pkg[:]); err != ErrInvalidIdentity {
		t.Fatalf("empty inner id: got %v", err)
	}
	long := FullID(pkg, make([]byte, MaxIdentityLen+1))
	if _, err := Extract(sk, long); err != ErrInvalidIdentity {
		t.Fatalf("oversized inner id: got %v", err)
	}
	exact := FullID(pkg, make([]byte, MaxIdentityLen))
	if _, err := Extract(sk, exact); err != nil {
		t.Fatalf("max-size inner id rejected: %v", err)
	}
}

func TestPadBindsShareIndex(t *testing.T) {
	gt := make([]byte, 576)
	gt[0] = 9
	if bytes.Equal(h2(gt, 1), h2(gt, 2)) {
		t.Fatalf("pads for distinct slots collide")
	}
}

func TestRejectNonCanonicalPoints(t *testing.T) {
	if _, err := bls381.G2FromCompressed(make([]byte, bls381.G2Size)); err == nil {
		t.Fatalf("zero bytes accepted as G2")
	}
	inf := make([]byte, bls381.G2Size)
	inf[0] = 0xc0
	if _, err := bls381.G2FromCompressed(inf); err != bls381.ErrInvalidPoint {
		t.Fatalf("infinity accepted as G2")
	}
}
