// Command seal is the offline tooling: key generation, identity key
// extraction, committee encryption and decryption of wire objects.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/sealkms/seal/internal/crypto/bls381"
	"github.com/sealkms/seal/internal/ibe"
	"github.com/sealkms/seal/internal/master"
	"github.com/sealkms/seal/internal/seal"
	"github.com/sealkms/seal/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "genkey":
		err = cmdGenkey()
	case "gen-seed":
		err = cmdGenSeed()
	case "derive-key":
		err = cmdDeriveKey(os.Args[2:])
	case "encrypt-aes":
		err = cmdEncrypt(os.Args[2:], types.KindAESGCM)
	case "encrypt-hmac":
		err = cmdEncrypt(os.Args[2:], types.KindHMAC)
	case "extract":
		err = cmdExtract(os.Args[2:])
	case "decrypt":
		err = cmdDecrypt(os.Args[2:])
	case "symmetric-decrypt":
		err = cmdSymmetricDecrypt(os.Args[2:])
	case "parse":
		err = cmdParse(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: seal <command> [flags]

commands:
  genkey                                       sample a master key pair
  gen-seed                                     sample a 32-byte derivation seed
  derive-key -seed <hex> -index <n>            derive a master key from a seed
  encrypt-aes|encrypt-hmac -message <hex> -package-id <hex> -id <hex>
      -threshold <t> <pubkey>... -- <object-id>...
  extract -package-id <hex> -id <hex> -master-key <hex>
  decrypt <object-hex> <usk>... -- <object-id>...
  symmetric-decrypt -key <hex> <object-hex>
  parse <object-hex>`)
}

func cmdGenkey() error {
	sk, pk, err := ibe.KeyGen()
	if err != nil {
		return err
	}
	fmt.Printf("master key: %s\n", hex.EncodeToString(bls381.ScalarBytes(sk)))
	fmt.Printf("public key: %s\n", hex.EncodeToString(pk))
	bls381.ZeroScalar(sk)
	return nil
}

func cmdGenSeed() error {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	fmt.Printf("seed: %s\n", hex.EncodeToString(seed))
	return nil
}

func cmdDeriveKey(args []string) error {
	fs := flag.NewFlagSet("derive-key", flag.ExitOnError)
	seedHex := fs.String("seed", "", "Derivation seed, hex")
	index := fs.Uint("index", 0, "Derivation index")
	_ = fs.Parse(args)

	seed, err := hex.DecodeString(*seedHex)
	if err != nil || len(seed) == 0 {
		return fmt.Errorf("bad -seed")
	}
	sk := master.DeriveScalar(seed, uint32(*index))
	fmt.Printf("master key: %s\n", hex.EncodeToString(bls381.ScalarBytes(sk)))
	fmt.Printf("public key: %s\n", hex.EncodeToString(ibe.MasterPublic(sk)))
	bls381.ZeroScalar(sk)
	bls381.Zero(seed)
	return nil
}

func cmdEncrypt(args []string, kind types.EncryptionKind) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	messageHex := fs.String("message", "", "Plaintext, hex")
	packageHex := fs.String("package-id", "", "Package address, hex")
	idHex := fs.String("id", "", "Inner identity, hex")
	threshold := fs.Uint("threshold", 0, "Decryption threshold")
	aadHex := fs.String("aad", "", "Additional authenticated data, hex (optional)")
	_ = fs.Parse(args)

	plaintext, err := hex.DecodeString(*messageHex)
	if err != nil {
		return fmt.Errorf("bad -message")
	}
	pkg, err := types.ObjectIDFromHex(*packageHex)
	if err != nil {
		return err
	}
	innerID, err := hex.DecodeString(*idHex)
	if err != nil || len(innerID) == 0 {
		return fmt.Errorf("bad -id")
	}
	var aad []byte
	if *aadHex != "" {
		if aad, err = hex.DecodeString(*aadHex); err != nil {
			return fmt.Errorf("bad -aad")
		}
	}

	pubkeys, objectIDs, err := splitDoubleDash(fs.Args())
	if err != nil {
		return err
	}
	if len(pubkeys) != len(objectIDs) {
		return fmt.Errorf("need one object id per public key")
	}
	committee := make([]seal.CommitteeMember, len(pubkeys))
	for i, pkHex := range pubkeys {
		pk, err := hex.DecodeString(pkHex)
		if err != nil {
			return fmt.Errorf("bad public key %d", i)
		}
		oid, err := types.ObjectIDFromHex(objectIDs[i])
		if err != nil {
			return err
		}
		committee[i] = seal.CommitteeMember{ObjectID: oid, PublicKey: pk, Weight: 1}
	}

	obj, demKey, err := seal.Encrypt(pkg, innerID, uint8(*threshold), committee, kind, plaintext, aad)
	if err != nil {
		return err
	}
	encoded, err := obj.Encode()
	if err != nil {
		return err
	}
	fmt.Printf("encrypted object: %s\n", hex.EncodeToString(encoded))
	fmt.Printf("symmetric key: %s\n", hex.EncodeToString(demKey))
	return nil
}

func cmdExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	packageHex := fs.String("package-id", "", "Package address, hex")
	idHex := fs.String("id", "", "Inner identity, hex")
	keyHex := fs.String("master-key", "", "Master key scalar, hex")
	_ = fs.Parse(args)

	pkg, err := types.ObjectIDFromHex(*packageHex)
	if err != nil {
		return err
	}
	innerID, err := hex.DecodeString(*idHex)
	if err != nil || len(innerID) == 0 {
		return fmt.Errorf("bad -id")
	}
	raw, err := hex.DecodeString(*keyHex)
	if err != nil {
		return fmt.Errorf("bad -master-key")
	}
	sk, err := bls381.ScalarFromBytes(raw)
	bls381.Zero(raw)
	if err != nil {
		return err
	}
	usk, err := ibe.Extract(sk, ibe.FullID(pkg, innerID))
	bls381.ZeroScalar(sk)
	if err != nil {
		return err
	}
	fmt.Printf("user key: %s\n", hex.EncodeToString(usk))
	return nil
}

func cmdDecrypt(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing encrypted object")
	}
	obj, err := decodeObjectHex(args[0])
	if err != nil {
		return err
	}
	usks, objectIDs, err := splitDoubleDash(args[1:])
	if err != nil {
		return err
	}
	if len(usks) != len(objectIDs) {
		return fmt.Errorf("need one object id per user key")
	}
	userKeys := map[types.ObjectID][]byte{}
	for i, uskHex := range usks {
		usk, err := hex.DecodeString(uskHex)
		if err != nil {
			return fmt.Errorf("bad user key %d", i)
		}
		oid, err := types.ObjectIDFromHex(objectIDs[i])
		if err != nil {
			return err
		}
		userKeys[oid] = usk
	}
	pt, err := seal.Decrypt(obj, userKeys)
	if err != nil {
		return err
	}
	fmt.Printf("decrypted message: %s\n", hex.EncodeToString(pt))
	return nil
}

func cmdSymmetricDecrypt(args []string) error {
	fs := flag.NewFlagSet("symmetric-decrypt", flag.ExitOnError)
	keyHex := fs.String("key", "", "Symmetric key, hex")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("missing encrypted object")
	}
	key, err := hex.DecodeString(*keyHex)
	if err != nil {
		return fmt.Errorf("bad -key")
	}
	obj, err := decodeObjectHex(fs.Arg(0))
	if err != nil {
		return err
	}
	pt, err := seal.SymmetricDecrypt(obj, key)
	if err != nil {
		return err
	}
	fmt.Printf("decrypted message: %s\n", hex.EncodeToString(pt))
	return nil
}

func cmdParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("missing encrypted object")
	}
	obj, err := decodeObjectHex(args[0])
	if err != nil {
		return err
	}
	fmt.Print(obj.Summary())
	return nil
}

func decodeObjectHex(s string) (*types.EncryptedObject, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad object hex")
	}
	return types.Decode(raw)
}

// splitDoubleDash separates "<a>... -- <b>..." argument lists.
func splitDoubleDash(args []string) (before, after []string, err error) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:], nil
		}
	}
	return nil, nil, fmt.Errorf("missing -- separator")
}
