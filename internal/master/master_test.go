package master

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/sealkms/seal/internal/crypto/bls381"
	"github.com/sealkms/seal/internal/types"
)

func oid(b byte) types.ObjectID {
	var out types.ObjectID
	out[31] = b
	return out
}

func TestDeriveScalarDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{3}, 32)
	a := DeriveScalar(seed, 0)
	b := DeriveScalar(seed, 0)
	if !bytes.Equal(bls381.ScalarBytes(a), bls381.ScalarBytes(b)) {
		t.Fatalf("same (seed, index) produced different scalars")
	}
	c := DeriveScalar(seed, 1)
	if bytes.Equal(bls381.ScalarBytes(a), bls381.ScalarBytes(c)) {
		t.Fatalf("distinct indices produced the same scalar")
	}
	d := DeriveScalar(bytes.Repeat([]byte{4}, 32), 0)
	if bytes.Equal(bls381.ScalarBytes(a), bls381.ScalarBytes(d)) {
		t.Fatalf("distinct seeds produced the same scalar")
	}
}

func TestOpenTableServesAnyPackage(t *testing.T) {
	sk := DeriveScalar([]byte("seed"), 0)
	tbl, err := NewOpen(hex.EncodeToString(bls381.ScalarBytes(sk)), oid(9))
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	for _, pkg := range []types.ObjectID{oid(1), oid(2), oid(200)} {
		c, err := tbl.Resolve(pkg)
		if err != nil {
			t.Fatalf("resolve %s: %v", pkg.Hex(), err)
		}
		if _, err := c.Scalar(); err != nil {
			t.Fatalf("scalar: %v", err)
		}
	}
}

func permissionedConfigs() []ClientConfig {
	return []ClientConfig{
		{
			Name:              "alice",
			Variant:           VariantDerived,
			DerivationIndex:   0,
			KeyServerObjectID: oid(10),
			PackageIDs:        []types.ObjectID{oid(1)},
		},
		{
			Name:              "bob",
			Variant:           VariantImported,
			EnvVar:            "BOB_BLS_KEY",
			KeyServerObjectID: oid(11),
			PackageIDs:        []types.ObjectID{oid(2)},
		},
		{
			Name:                      "carol",
			Variant:                   VariantExported,
			DeprecatedDerivationIndex: 1,
			KeyServerObjectID:         oid(12),
			PackageIDs:                []types.ObjectID{oid(3)},
		},
	}
}

func testEnv(t *testing.T) func(string) string {
	t.Helper()
	sk := DeriveScalar([]byte("imported seed"), 7)
	imported := hex.EncodeToString(bls381.ScalarBytes(sk))
	return func(name string) string {
		if name == "BOB_BLS_KEY" {
			return imported
		}
		return ""
	}
}

func TestPermissionedTable(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, 32)
	tbl, err := NewPermissioned(permissionedConfigs(), seed, testEnv(t))
	if err != nil {
		t.Fatalf("build table: %v", err)
	}

	alice, err := tbl.Resolve(oid(1))
	if err != nil {
		t.Fatalf("resolve alice: %v", err)
	}
	sk, err := alice.Scalar()
	if err != nil {
		t.Fatalf("alice scalar: %v", err)
	}
	want := DeriveScalar(seed, 0)
	if !bytes.Equal(bls381.ScalarBytes(sk), bls381.ScalarBytes(want)) {
		t.Fatalf("derived scalar mismatch")
	}

	bob, err := tbl.Resolve(oid(2))
	if err != nil {
		t.Fatalf("resolve bob: %v", err)
	}
	if _, err := bob.Scalar(); err != nil {
		t.Fatalf("bob scalar: %v", err)
	}

	carol, err := tbl.Resolve(oid(3))
	if err != nil {
		t.Fatalf("exported slot must resolve: %v", err)
	}
	if _, err := carol.Scalar(); !errors.Is(err, ErrGoneExported) {
		t.Fatalf("exported scalar: got %v", err)
	}

	if _, err := tbl.Resolve(oid(99)); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("unknown package: got %v", err)
	}
}

func TestPermissionedRejectsDuplicatePackage(t *testing.T) {
	cfgs := permissionedConfigs()
	cfgs[1].PackageIDs = []types.ObjectID{oid(1)}
	if _, err := NewPermissioned(cfgs, bytes.Repeat([]byte{1}, 32), testEnv(t)); err == nil {
		t.Fatalf("duplicate package accepted")
	}
}

func TestPermissionedRequiresEnvKey(t *testing.T) {
	cfgs := permissionedConfigs()[1:2]
	if _, err := NewPermissioned(cfgs, nil, func(string) string { return "" }); err == nil {
		t.Fatalf("missing env key accepted")
	}
}

func TestZeroize(t *testing.T) {
	seed := bytes.Repeat([]byte{1}, 32)
	tbl, err := NewPermissioned(permissionedConfigs(), seed, testEnv(t))
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	tbl.Zeroize()
	c, err := tbl.Resolve(oid(1))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := c.Scalar(); !errors.Is(err, ErrGoneExported) {
		t.Fatalf("zeroized scalar still readable: %v", err)
	}
}
