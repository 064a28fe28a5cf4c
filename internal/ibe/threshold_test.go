package ibe

import (
	"bytes"
	"testing"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/sealkms/seal/internal/crypto/bls381"
)

type testServer struct {
	sk *blst.Scalar
	pk []byte
}

func newTestServers(t *testing.T, n int) []testServer {
	t.Helper()
	out := make([]testServer, n)
	for i := range out {
		sk, pk, err := KeyGen()
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		out[i] = testServer{sk: sk, pk: pk}
	}
	return out
}

func userShareFor(t *testing.T, srv testServer, enc *Encapsulation, slots []Slot, slot int, fullID []byte) UserShare {
	t.Helper()
	usk, err := Extract(srv.sk, fullID)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return UserShare{
		Index:     slots[slot].Index,
		Encrypted: enc.Shares[slot],
		UserKey:   usk,
	}
}

func TestSplitCombineRoundTrip(t *testing.T) {
	servers := newTestServers(t, 3)
	id := testFullID("round-trip")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 2},
		{PublicKey: servers[2].pk, Index: 3},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(enc.Shares) != 3 {
		t.Fatalf("share count %d", len(enc.Shares))
	}

	shares := []UserShare{
		userShareFor(t, servers[0], enc, slots, 0, id),
		userShareFor(t, servers[2], enc, slots, 2, id),
	}
	demKey, err := CombineShares(shares, 2, id, enc.Encapsulation)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !bytes.Equal(demKey, enc.DEMKey) {
		t.Fatalf("dem key mismatch")
	}
}

func TestCombineInsufficientShares(t *testing.T) {
	servers := newTestServers(t, 3)
	id := testFullID("insufficient")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 2},
		{PublicKey: servers[2].pk, Index: 3},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	shares := []UserShare{userShareFor(t, servers[1], enc, slots, 1, id)}
	if _, err := CombineShares(shares, 2, id, enc.Encapsulation); err != ErrInsufficientShares {
		t.Fatalf("got %v, want ErrInsufficientShares", err)
	}
}

func TestWeightedCommittee(t *testing.T) {
	// Server A holds two slots, server B holds one; threshold 2 means A
	// alone decrypts and B alone does not.
	servers := newTestServers(t, 2)
	id := testFullID("weighted")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[0].pk, Index: 2},
		{PublicKey: servers[1].pk, Index: 3},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	aOnly := []UserShare{
		userShareFor(t, servers[0], enc, slots, 0, id),
		userShareFor(t, servers[0], enc, slots, 1, id),
	}
	demKey, err := CombineShares(aOnly, 2, id, enc.Encapsulation)
	if err != nil {
		t.Fatalf("weight-2 holder failed: %v", err)
	}
	if !bytes.Equal(demKey, enc.DEMKey) {
		t.Fatalf("dem key mismatch")
	}

	bOnly := []UserShare{userShareFor(t, servers[1], enc, slots, 2, id)}
	if _, err := CombineShares(bOnly, 2, id, enc.Encapsulation); err != ErrInsufficientShares {
		t.Fatalf("weight-1 holder: got %v, want ErrInsufficientShares", err)
	}
}

func TestBelowThresholdSharesRevealNothing(t *testing.T) {
	// With threshold 2, one recovered share point lies on a line through
	// (0, s) for every candidate s: completing the set with the point the
	// candidate implies at x=2 interpolates back to that candidate. The
	// single share is consistent with any secret and so carries no
	// information about the DEM key.
	servers := newTestServers(t, 2)
	id := testFullID("hiding")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 2},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	usk, err := Extract(servers[0].sk, id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	pad, err := decapsulateIndexed(usk, enc.Encapsulation, 1)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = enc.Shares[0][i] ^ pad[i]
	}
	y1, err := bls381.ScalarFromBytes(raw)
	if err != nil {
		t.Fatalf("share point: %v", err)
	}

	for _, c := range []uint64{7, 104729} {
		cand := bls381.ScalarFromUint64(c)
		slope, err := bls381.ScalarSub(y1, cand)
		if err != nil {
			t.Fatalf("slope: %v", err)
		}
		rise, err := bls381.ScalarMul(slope, bls381.ScalarFromUint64(2))
		if err != nil {
			t.Fatalf("rise: %v", err)
		}
		y2 := *cand
		if _, ok := (&y2).AddAssign(rise); !ok {
			t.Fatalf("forged point")
		}
		got, err := interpolateAtZero([]uint8{1, 2}, []*blst.Scalar{y1, &y2})
		if err != nil {
			t.Fatalf("interpolate: %v", err)
		}
		if !bytes.Equal(bls381.ScalarBytes(got), bls381.ScalarBytes(cand)) {
			t.Fatalf("candidate %d not recovered from the completed share set", c)
		}
	}
}

func TestSplitRejectsDuplicateIndex(t *testing.T) {
	servers := newTestServers(t, 2)
	id := testFullID("dup")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 1},
	}
	if _, err := SplitEncrypt(slots, 2, id); err != ErrDuplicateShareIndex {
		t.Fatalf("got %v, want ErrDuplicateShareIndex", err)
	}
}

func TestCombineRejectsWrongUserKey(t *testing.T) {
	servers := newTestServers(t, 3)
	id := testFullID("wrong-key")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 2},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	shares := []UserShare{
		userShareFor(t, servers[0], enc, slots, 0, id),
		// Extraction under an unrelated master key.
		userShareFor(t, servers[2], enc, slots, 1, id),
	}
	if _, err := CombineShares(shares, 2, id, enc.Encapsulation); err != ErrInterpolationFailure {
		t.Fatalf("got %v, want ErrInterpolationFailure", err)
	}
}

func TestCombineUsesSmallestIndices(t *testing.T) {
	servers := newTestServers(t, 3)
	id := testFullID("smallest")
	slots := []Slot{
		{PublicKey: servers[0].pk, Index: 1},
		{PublicKey: servers[1].pk, Index: 2},
		{PublicKey: servers[2].pk, Index: 3},
	}
	enc, err := SplitEncrypt(slots, 2, id)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// A corrupted share at the largest index must not matter when enough
	// smaller indices are present.
	bad := userShareFor(t, servers[2], enc, slots, 2, id)
	bad.Encrypted = append([]byte(nil), bad.Encrypted...)
	bad.Encrypted[0] ^= 1
	shares := []UserShare{
		bad,
		userShareFor(t, servers[0], enc, slots, 0, id),
		userShareFor(t, servers[1], enc, slots, 1, id),
	}
	demKey, err := CombineShares(shares, 2, id, enc.Encapsulation)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !bytes.Equal(demKey, enc.DEMKey) {
		t.Fatalf("dem key mismatch")
	}
}
