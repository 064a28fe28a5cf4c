package seal

import (
	"bytes"
	"testing"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/sealkms/seal/internal/crypto"
	"github.com/sealkms/seal/internal/ibe"
	"github.com/sealkms/seal/internal/types"
)

type testServer struct {
	oid types.ObjectID
	sk  *blst.Scalar
	pk  []byte
}

func newCommittee(t *testing.T, weights ...int) ([]testServer, []CommitteeMember) {
	t.Helper()
	servers := make([]testServer, len(weights))
	members := make([]CommitteeMember, len(weights))
	for i, w := range weights {
		sk, pk, err := ibe.KeyGen()
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		servers[i] = testServer{sk: sk, pk: pk}
		servers[i].oid[31] = byte(i + 1)
		members[i] = CommitteeMember{ObjectID: servers[i].oid, PublicKey: pk, Weight: w}
	}
	return servers, members
}

func extractFor(t *testing.T, srv testServer, obj *types.EncryptedObject) []byte {
	t.Helper()
	usk, err := ibe.Extract(srv.sk, ibe.FullID(obj.PackageID, obj.InnerID))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return usk
}

func TestEncryptDecryptThroughWire(t *testing.T) {
	servers, members := newCommittee(t, 1, 1, 1)
	var pkg types.ObjectID
	pkg[31] = 0x42
	plaintext := []byte("attack at dawn")

	obj, demKey, err := Encrypt(pkg, []byte("doc-1"), 2, members, types.KindAESGCM, plaintext, nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Round-trip the wire form; decryption must work on the parsed copy.
	enc, err := obj.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := types.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	userKeys := map[types.ObjectID][]byte{
		servers[0].oid: extractFor(t, servers[0], parsed),
		servers[1].oid: extractFor(t, servers[1], parsed),
	}
	got, err := Decrypt(parsed, userKeys)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}

	// Disaster recovery with the returned symmetric key alone.
	got, err = SymmetricDecrypt(parsed, demKey)
	if err != nil {
		t.Fatalf("symmetric decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("symmetric plaintext mismatch")
	}
}

func TestEncryptHMACWithAAD(t *testing.T) {
	servers, members := newCommittee(t, 1, 1)
	var pkg types.ObjectID
	pkg[31] = 1
	plaintext := []byte("hmac payload")
	aad := []byte("receiver")

	obj, _, err := Encrypt(pkg, []byte("doc"), 2, members, types.KindHMAC, plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	userKeys := map[types.ObjectID][]byte{
		servers[0].oid: extractFor(t, servers[0], obj),
		servers[1].oid: extractFor(t, servers[1], obj),
	}
	got, err := Decrypt(obj, userKeys)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}

	// A flipped AAD bit must fail authentication.
	obj.Ciphertext.AAD[0] ^= 1
	if _, err := Decrypt(obj, userKeys); err != crypto.ErrAuthenticationFailed {
		t.Fatalf("tampered aad: got %v", err)
	}
}

func TestWeightedDecryption(t *testing.T) {
	// Weights 2 and 1 with threshold 2: the heavy server decrypts alone,
	// the light one does not.
	servers, members := newCommittee(t, 2, 1)
	var pkg types.ObjectID
	pkg[31] = 1
	plaintext := []byte("weighted")

	obj, _, err := Encrypt(pkg, []byte("doc"), 2, members, types.KindAESGCM, plaintext, nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(obj.Services) != 3 {
		t.Fatalf("slot count %d", len(obj.Services))
	}

	heavy := map[types.ObjectID][]byte{servers[0].oid: extractFor(t, servers[0], obj)}
	got, err := Decrypt(obj, heavy)
	if err != nil {
		t.Fatalf("heavy decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}

	light := map[types.ObjectID][]byte{servers[1].oid: extractFor(t, servers[1], obj)}
	if _, err := Decrypt(obj, light); err != ErrMissingUserKeys {
		t.Fatalf("light decrypt: got %v", err)
	}
}

func TestEncryptRandomized(t *testing.T) {
	_, members := newCommittee(t, 1, 1)
	var pkg types.ObjectID
	pkg[31] = 1

	a, _, err := Encrypt(pkg, []byte("doc"), 2, members, types.KindAESGCM, []byte("msg"), nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, _, err := Encrypt(pkg, []byte("doc"), 2, members, types.KindAESGCM, []byte("msg"), nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a.EncryptedShares.Encapsulation, b.EncryptedShares.Encapsulation) {
		t.Fatalf("repeated encryptions share an encapsulation")
	}
}

func TestEncryptRejectsBadInputs(t *testing.T) {
	_, members := newCommittee(t, 1, 1)
	var pkg types.ObjectID

	if _, _, err := Encrypt(pkg, nil, 1, members, types.KindAESGCM, []byte("x"), nil); err != ErrEmptyIdentity {
		t.Fatalf("empty inner id: got %v", err)
	}
	if _, _, err := Encrypt(pkg, []byte("doc"), 3, members, types.KindAESGCM, []byte("x"), nil); err != ErrBadCommittee {
		t.Fatalf("threshold above weight: got %v", err)
	}
	if _, _, err := Encrypt(pkg, []byte("doc"), 0, members, types.KindAESGCM, []byte("x"), nil); err != ErrBadCommittee {
		t.Fatalf("zero threshold: got %v", err)
	}
	members[0].Weight = 0
	if _, _, err := Encrypt(pkg, []byte("doc"), 1, members, types.KindAESGCM, []byte("x"), nil); err != ErrBadCommittee {
		t.Fatalf("zero weight: got %v", err)
	}
}
