// Package seal composes the threshold IBE KEM with the symmetric DEMs into
// the client-side encrypt/decrypt operations over wire objects.
package seal

import (
	"errors"
	"fmt"

	"github.com/sealkms/seal/internal/crypto"
	"github.com/sealkms/seal/internal/ibe"
	"github.com/sealkms/seal/internal/types"
)

var (
	ErrEmptyIdentity   = errors.New("seal: empty inner id")
	ErrBadCommittee    = errors.New("seal: bad committee")
	ErrMissingUserKeys = errors.New("seal: not enough user keys")
)

// CommitteeMember is one key server addressed by an encryption. Weight is
// the number of Shamir slots the server receives.
type CommitteeMember struct {
	ObjectID  types.ObjectID
	PublicKey []byte // compressed G2
	Weight    int
}

// Encrypt produces a wire object for (packageID, innerID) decryptable by any
// weight-t subset of the committee. Share indices are assigned densely in
// committee order, one slot per unit of weight. The returned DEM key feeds
// SymmetricDecrypt for disaster recovery.
func Encrypt(packageID types.ObjectID, innerID []byte, threshold uint8, committee []CommitteeMember, kind types.EncryptionKind, plaintext, aad []byte) (*types.EncryptedObject, []byte, error) {
	if len(innerID) == 0 || len(innerID) > ibe.MaxIdentityLen {
		return nil, nil, ErrEmptyIdentity
	}
	if len(committee) == 0 {
		return nil, nil, ErrBadCommittee
	}
	var services []types.Service
	var slots []ibe.Slot
	next := uint8(1)
	for _, m := range committee {
		if m.Weight <= 0 {
			return nil, nil, ErrBadCommittee
		}
		for w := 0; w < m.Weight; w++ {
			if next == 0 {
				return nil, nil, ErrBadCommittee // more than 255 slots
			}
			services = append(services, types.Service{ObjectID: m.ObjectID, ShareIndex: next})
			slots = append(slots, ibe.Slot{PublicKey: m.PublicKey, Index: next})
			next++
		}
	}
	if threshold == 0 || int(threshold) > len(services) {
		return nil, nil, ErrBadCommittee
	}

	fullID := ibe.FullID(packageID, innerID)
	enc, err := ibe.SplitEncrypt(slots, threshold, fullID)
	if err != nil {
		return nil, nil, err
	}

	obj := &types.EncryptedObject{
		Version:   types.CurrentVersion,
		PackageID: packageID,
		InnerID:   append([]byte(nil), innerID...),
		Services:  services,
		Threshold: threshold,
		EncryptedShares: types.IBEEncryptions{
			Scheme:        0,
			Shares:        enc.Shares,
			Encapsulation: enc.Encapsulation,
		},
	}
	obj.Ciphertext.Kind = kind
	obj.Ciphertext.AADPresent = aad != nil
	obj.Ciphertext.AAD = aad

	switch kind {
	case types.KindAESGCM:
		nonce, blob, err := crypto.AESGCMEncrypt(enc.DEMKey, plaintext, aad)
		if err != nil {
			return nil, nil, err
		}
		obj.Ciphertext.Nonce = nonce
		obj.Ciphertext.Blob = blob
	case types.KindHMAC:
		blob, tag := crypto.HMACEncrypt(enc.DEMKey, plaintext, obj.HeaderBytes(), aad)
		obj.Ciphertext.Blob = blob
		obj.Ciphertext.Tag = tag
	default:
		return nil, nil, fmt.Errorf("seal: unknown encryption kind %d", kind)
	}
	return obj, enc.DEMKey, nil
}

// Decrypt recovers the plaintext given user secret keys for at least
// `threshold` weight of the committee, keyed by server object id.
func Decrypt(obj *types.EncryptedObject, userKeys map[types.ObjectID][]byte) ([]byte, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	var shares []ibe.UserShare
	for i, svc := range obj.Services {
		usk, ok := userKeys[svc.ObjectID]
		if !ok {
			continue
		}
		shares = append(shares, ibe.UserShare{
			Index:     svc.ShareIndex,
			Encrypted: obj.EncryptedShares.Shares[i],
			UserKey:   usk,
		})
	}
	if len(shares) < int(obj.Threshold) {
		return nil, ErrMissingUserKeys
	}
	fullID := ibe.FullID(obj.PackageID, obj.InnerID)
	demKey, err := ibe.CombineShares(shares, obj.Threshold, fullID, obj.EncryptedShares.Encapsulation)
	if err != nil {
		return nil, err
	}
	return SymmetricDecrypt(obj, demKey)
}

// SymmetricDecrypt opens the DEM with an already-known key.
func SymmetricDecrypt(obj *types.EncryptedObject, demKey []byte) ([]byte, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	switch obj.Ciphertext.Kind {
	case types.KindAESGCM:
		return crypto.AESGCMDecrypt(demKey, obj.Ciphertext.Nonce, obj.Ciphertext.Blob, obj.Ciphertext.AAD)
	case types.KindHMAC:
		return crypto.HMACDecrypt(demKey, obj.Ciphertext.Blob, obj.Ciphertext.Tag, obj.HeaderBytes(), obj.Ciphertext.AAD)
	default:
		return nil, fmt.Errorf("seal: unknown encryption kind %d", obj.Ciphertext.Kind)
	}
}
