// Package master holds the server's master-key material: the tagged key
// variants (plain, derived, exported, imported), per-client records and the
// read-mostly lookup table mapping packages to clients. Scalars are resolved
// once at load time and cached; exported slots keep no scalar at all.
package master

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/sealkms/seal/internal/crypto"
	"github.com/sealkms/seal/internal/crypto/bls381"
	"github.com/sealkms/seal/internal/ibe"
	"github.com/sealkms/seal/internal/types"
)

const derivationInfo = "seal-derived"

// Variant tags the source of a client's master key.
type Variant string

const (
	VariantPlain    Variant = "Plain"
	VariantDerived  Variant = "Derived"
	VariantExported Variant = "Exported"
	VariantImported Variant = "Imported"
)

var (
	// ErrGoneExported is returned when a request targets an exported slot.
	ErrGoneExported = errors.New("master: key exported")
	// ErrUnknownPackage is returned when no active client owns the package.
	ErrUnknownPackage = errors.New("master: unknown package")
)

// ClientConfig is the resolved configuration for one client entry.
type ClientConfig struct {
	Name                      string
	Variant                   Variant
	EnvVar                    string // Plain and Imported
	DerivationIndex           uint32 // Derived
	DeprecatedDerivationIndex uint32 // Exported
	KeyServerObjectID         types.ObjectID
	PackageIDs                []types.ObjectID
}

// Client is one active (or exported) key slot.
type Client struct {
	Name              string
	Variant           Variant
	KeyServerObjectID types.ObjectID
	Packages          []types.ObjectID
	DerivationIndex   uint32 // Derived and Exported slots

	sk  *blst.Scalar // nil for Exported
	pub []byte       // compressed G2, nil for Exported
}

// Scalar returns the cached master scalar, or ErrGoneExported.
func (c *Client) Scalar() (*blst.Scalar, error) {
	if c.sk == nil {
		return nil, ErrGoneExported
	}
	return c.sk, nil
}

// PublicKey returns the compressed G2 master public key, nil for Exported.
func (c *Client) PublicKey() []byte { return c.pub }

// DeriveScalar computes the derived master key for (seed, index):
// HKDF(seed, "seal-derived" || index) reduced into Fr.
func DeriveScalar(seed []byte, index uint32) *blst.Scalar {
	info := make([]byte, 0, len(derivationInfo)+4)
	info = append(info, derivationInfo...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	info = append(info, idx[:]...)
	ikm := crypto.DeriveKey(seed, info, 32)
	s := blst.KeyGen(ikm)
	bls381.Zero(ikm)
	return s
}

// Table resolves packages to clients. Open-mode tables serve every package
// from the single open client.
type Table struct {
	mu        sync.RWMutex
	open      *Client
	clients   []*Client
	byPackage map[types.ObjectID]*Client
}

// NewOpen builds a single-key table serving any package.
func NewOpen(scalarHex string, serverObjectID types.ObjectID) (*Table, error) {
	sk, err := parseScalarHex(scalarHex)
	if err != nil {
		return nil, err
	}
	c := &Client{
		Name:              "open",
		Variant:           VariantPlain,
		KeyServerObjectID: serverObjectID,
		sk:                sk,
		pub:               ibe.MasterPublic(sk),
	}
	return &Table{open: c, clients: []*Client{c}}, nil
}

// NewPermissioned builds the client table, resolving every key variant.
// seed is required when any client is Derived; lookupEnv defaults to
// os.Getenv. Packages must be globally unique across clients.
func NewPermissioned(cfgs []ClientConfig, seed []byte, lookupEnv func(string) string) (*Table, error) {
	if lookupEnv == nil {
		lookupEnv = os.Getenv
	}
	t := &Table{byPackage: map[types.ObjectID]*Client{}}
	for _, cfg := range cfgs {
		c := &Client{
			Name:              cfg.Name,
			Variant:           cfg.Variant,
			KeyServerObjectID: cfg.KeyServerObjectID,
			Packages:          append([]types.ObjectID(nil), cfg.PackageIDs...),
		}
		switch cfg.Variant {
		case VariantPlain, VariantImported:
			raw := lookupEnv(cfg.EnvVar)
			if raw == "" {
				return nil, fmt.Errorf("master: client %q: env %s unset", cfg.Name, cfg.EnvVar)
			}
			sk, err := parseScalarHex(raw)
			if err != nil {
				return nil, fmt.Errorf("master: client %q: %w", cfg.Name, err)
			}
			c.sk = sk
			c.pub = ibe.MasterPublic(sk)
		case VariantDerived:
			if len(seed) == 0 {
				return nil, fmt.Errorf("master: client %q: derived key without seed", cfg.Name)
			}
			c.DerivationIndex = cfg.DerivationIndex
			c.sk = DeriveScalar(seed, cfg.DerivationIndex)
			c.pub = ibe.MasterPublic(c.sk)
		case VariantExported:
			c.DerivationIndex = cfg.DeprecatedDerivationIndex
		default:
			return nil, fmt.Errorf("master: client %q: unknown variant %q", cfg.Name, cfg.Variant)
		}
		for _, pkg := range c.Packages {
			if prev, dup := t.byPackage[pkg]; dup {
				return nil, fmt.Errorf("master: package %s claimed by %q and %q", pkg.Hex(), prev.Name, c.Name)
			}
			t.byPackage[pkg] = c
		}
		t.clients = append(t.clients, c)
	}
	return t, nil
}

// Resolve returns the client owning the package. Exported slots resolve
// successfully; the caller surfaces ErrGoneExported when it asks for the
// scalar, so the error category distinguishes 403 from 404.
func (t *Table) Resolve(pkg types.ObjectID) (*Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.open != nil {
		return t.open, nil
	}
	c, ok := t.byPackage[pkg]
	if !ok {
		return nil, ErrUnknownPackage
	}
	return c, nil
}

// Clients returns a snapshot of all slots.
func (t *Table) Clients() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Client(nil), t.clients...)
}

// Swap replaces the table contents; in-flight readers drain on the lock.
func (t *Table) Swap(next *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = next.open
	t.clients = next.clients
	t.byPackage = next.byPackage
}

// Zeroize wipes all cached scalars; call on shutdown.
func (t *Table) Zeroize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		if c.sk != nil {
			bls381.ZeroScalar(c.sk)
			c.sk = nil
		}
	}
}

func parseScalarHex(s string) (*blst.Scalar, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master: bad key hex: %w", err)
	}
	sk, err := bls381.ScalarFromBytes(b)
	bls381.Zero(b)
	if err != nil {
		return nil, err
	}
	return sk, nil
}
