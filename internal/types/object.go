// Package types defines the on-wire encrypted object and its canonical
// binary codec. Encoding is a bijection on valid objects: Decode rejects
// trailing bytes and non-minimal length prefixes, so re-serializing a parsed
// object is byte-identical.
package types

import (
	"encoding/hex"
	"fmt"
)

// CurrentVersion is the only wire version emitted and accepted.
const CurrentVersion = 0

// Size limits for variable-length fields.
const (
	MaxInnerIDLen = 1024
	MaxServices   = 255
	MaxBlobLen    = 1 << 24
	MaxAADLen     = 1 << 16
)

// EncryptionKind selects the DEM.
type EncryptionKind uint8

const (
	KindAESGCM EncryptionKind = 0
	KindHMAC   EncryptionKind = 1
)

// ObjectID is a 32-byte on-chain address.
type ObjectID [32]byte

func (id ObjectID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

// ObjectIDFromHex parses a 0x-prefixed or bare hex address, left-padded to
// 32 bytes.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var out ObjectID
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) > 32 {
		return out, malformed("bad object id")
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// Service is one committee slot: the key server's registered object id and
// the Shamir evaluation point assigned to this slot. Weighting is expressed
// by repeating an object id with distinct indices.
type Service struct {
	ObjectID   ObjectID
	ShareIndex uint8
}

// Ciphertext is the DEM output. For KindAESGCM the 12-byte nonce is set and
// Tag is empty; for KindHMAC the 32-byte tag is set and Nonce is empty.
// AADPresent distinguishes "no AAD" from an empty AAD.
type Ciphertext struct {
	Kind       EncryptionKind
	Nonce      []byte
	Blob       []byte
	Tag        []byte
	AADPresent bool
	AAD        []byte
}

// IBEEncryptions carries the pad-encrypted Shamir shares and the threshold
// encapsulation. Scheme 0 is Boneh-Franklin over BLS12-381.
type IBEEncryptions struct {
	Scheme        uint8
	Shares        [][]byte // 32 bytes each, positional with Services
	Encapsulation []byte   // compressed G2, 96 bytes
}

// EncryptedObject is the complete wire object.
type EncryptedObject struct {
	Version         uint8
	PackageID       ObjectID
	InnerID         []byte
	Services        []Service
	Threshold       uint8
	Ciphertext      Ciphertext
	EncryptedShares IBEEncryptions
}

// Validate enforces the structural invariants shared by encode and decode.
func (o *EncryptedObject) Validate() error {
	if o.Version != CurrentVersion {
		return malformed("unsupported version")
	}
	if len(o.InnerID) > MaxInnerIDLen {
		return malformed("inner id too long")
	}
	if len(o.Services) == 0 || len(o.Services) > MaxServices {
		return malformed("bad service count")
	}
	seen := map[uint8]struct{}{}
	for _, s := range o.Services {
		if s.ShareIndex == 0 {
			return malformed("zero share index")
		}
		if _, ok := seen[s.ShareIndex]; ok {
			return malformed("duplicate share index")
		}
		seen[s.ShareIndex] = struct{}{}
	}
	if o.Threshold == 0 || int(o.Threshold) > len(o.Services) {
		return malformed("threshold out of range")
	}
	switch o.Ciphertext.Kind {
	case KindAESGCM:
		if len(o.Ciphertext.Nonce) != 12 || len(o.Ciphertext.Tag) != 0 {
			return malformed("bad aes-gcm ciphertext")
		}
	case KindHMAC:
		if len(o.Ciphertext.Tag) != 32 || len(o.Ciphertext.Nonce) != 0 {
			return malformed("bad hmac ciphertext")
		}
	default:
		return malformed("unknown encryption kind")
	}
	if !o.Ciphertext.AADPresent && len(o.Ciphertext.AAD) != 0 {
		return malformed("aad without marker")
	}
	if o.EncryptedShares.Scheme != 0 {
		return malformed("unknown share scheme")
	}
	if len(o.EncryptedShares.Shares) != len(o.Services) {
		return malformed("share count mismatch")
	}
	for _, sh := range o.EncryptedShares.Shares {
		if len(sh) != 32 {
			return malformed("bad share size")
		}
	}
	if len(o.EncryptedShares.Encapsulation) != 96 {
		return malformed("bad encapsulation size")
	}
	return nil
}

// Encode serializes the object canonically.
func (o *EncryptedObject) Encode() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var w writer
	w.byte(o.Version)
	w.fixed(o.PackageID[:])
	w.bytesVar(o.InnerID)
	w.uvarint(uint64(len(o.Services)))
	for _, s := range o.Services {
		w.fixed(s.ObjectID[:])
		w.byte(s.ShareIndex)
	}
	w.byte(o.Threshold)
	w.byte(byte(o.Ciphertext.Kind))
	switch o.Ciphertext.Kind {
	case KindAESGCM:
		w.fixed(o.Ciphertext.Nonce)
		w.bytesVar(o.Ciphertext.Blob)
	case KindHMAC:
		w.bytesVar(o.Ciphertext.Blob)
		w.fixed(o.Ciphertext.Tag)
	}
	if o.Ciphertext.AADPresent {
		w.byte(1)
		w.bytesVar(o.Ciphertext.AAD)
	} else {
		w.byte(0)
	}
	w.byte(o.EncryptedShares.Scheme)
	w.uvarint(uint64(len(o.EncryptedShares.Shares)))
	for _, sh := range o.EncryptedShares.Shares {
		w.fixed(sh)
	}
	w.fixed(o.EncryptedShares.Encapsulation)
	return w.buf, nil
}

// Decode parses a canonical encoding, rejecting trailing bytes.
func Decode(b []byte) (*EncryptedObject, error) {
	r := &reader{buf: b}
	var o EncryptedObject
	var err error
	if o.Version, err = r.byte(); err != nil {
		return nil, err
	}
	if o.Version != CurrentVersion {
		return nil, malformed("unsupported version")
	}
	pkg, err := r.fixed(32)
	if err != nil {
		return nil, err
	}
	copy(o.PackageID[:], pkg)
	if o.InnerID, err = r.bytesVar(MaxInnerIDLen); err != nil {
		return nil, err
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > MaxServices {
		return nil, malformed("bad service count")
	}
	o.Services = make([]Service, n)
	for i := range o.Services {
		oid, err := r.fixed(32)
		if err != nil {
			return nil, err
		}
		copy(o.Services[i].ObjectID[:], oid)
		if o.Services[i].ShareIndex, err = r.byte(); err != nil {
			return nil, err
		}
	}
	if o.Threshold, err = r.byte(); err != nil {
		return nil, err
	}
	kind, err := r.byte()
	if err != nil {
		return nil, err
	}
	o.Ciphertext.Kind = EncryptionKind(kind)
	switch o.Ciphertext.Kind {
	case KindAESGCM:
		if o.Ciphertext.Nonce, err = r.fixed(12); err != nil {
			return nil, err
		}
		if o.Ciphertext.Blob, err = r.bytesVar(MaxBlobLen); err != nil {
			return nil, err
		}
	case KindHMAC:
		if o.Ciphertext.Blob, err = r.bytesVar(MaxBlobLen); err != nil {
			return nil, err
		}
		if o.Ciphertext.Tag, err = r.fixed(32); err != nil {
			return nil, err
		}
	default:
		return nil, malformed("unknown encryption kind")
	}
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0:
	case 1:
		o.Ciphertext.AADPresent = true
		if o.Ciphertext.AAD, err = r.bytesVar(MaxAADLen); err != nil {
			return nil, err
		}
	default:
		return nil, malformed("bad aad marker")
	}
	if o.EncryptedShares.Scheme, err = r.byte(); err != nil {
		return nil, err
	}
	sn, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if sn != n {
		return nil, malformed("share count mismatch")
	}
	o.EncryptedShares.Shares = make([][]byte, sn)
	for i := range o.EncryptedShares.Shares {
		if o.EncryptedShares.Shares[i], err = r.fixed(32); err != nil {
			return nil, err
		}
	}
	if o.EncryptedShares.Encapsulation, err = r.fixed(96); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, malformed("trailing bytes")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

// HeaderBytes encodes the object prefix (everything up to and including the
// encryption kind). The HMAC DEM binds its tag to these bytes.
func (o *EncryptedObject) HeaderBytes() []byte {
	var w writer
	w.byte(o.Version)
	w.fixed(o.PackageID[:])
	w.bytesVar(o.InnerID)
	w.uvarint(uint64(len(o.Services)))
	for _, s := range o.Services {
		w.fixed(s.ObjectID[:])
		w.byte(s.ShareIndex)
	}
	w.byte(o.Threshold)
	w.byte(byte(o.Ciphertext.Kind))
	return w.buf
}

// Summary renders a human-readable description for the CLI parse command.
func (o *EncryptedObject) Summary() string {
	kind := "AES-256-GCM"
	if o.Ciphertext.Kind == KindHMAC {
		kind = "HMAC-CTR"
	}
	s := fmt.Sprintf("version:    %d\npackage_id: %s\ninner_id:   0x%s\nthreshold:  %d\nkind:       %s\nservices:\n",
		o.Version, o.PackageID.Hex(), hex.EncodeToString(o.InnerID), o.Threshold, kind)
	for _, sv := range o.Services {
		s += fmt.Sprintf("  %s index=%d\n", sv.ObjectID.Hex(), sv.ShareIndex)
	}
	return s
}
