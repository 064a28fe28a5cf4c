// Package server implements the key-server request pipeline: session and
// request signature verification, transaction shape validation, policy
// evaluation through the full node, master-key selection and share
// extraction, with read-through caches and singleflight coalescing.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sealkms/seal/internal/fullnode"
	"github.com/sealkms/seal/internal/ibe"
	"github.com/sealkms/seal/internal/master"
	"github.com/sealkms/seal/internal/ptb"
	"github.com/sealkms/seal/internal/types"
	"github.com/sealkms/seal/pkg/metrics"
)

// Server is the explicit context value carrying all process-wide state; no
// package globals, so tests stay hermetic.
type Server struct {
	cfg   *Config
	table *master.Table
	node  *fullnode.Client

	gate   *addressGate
	drySem *semaphore.Weighted

	policyCache *expirable.LRU[string, bool] // true = denied
	uskCache    *expirable.LRU[string, []byte]

	policyGroup  singleflight.Group
	extractGroup singleflight.Group

	now         func() time.Time
	gitRevision string
}

// New wires a Server from its dependencies.
func New(cfg *Config, table *master.Table, node *fullnode.Client, gitRevision string) *Server {
	return &Server{
		cfg:    cfg,
		table:  table,
		node:   node,
		gate:   newAddressGate(cfg.RateLimit.PerAddressRPS, cfg.RateLimit.Burst),
		drySem: semaphore.NewWeighted(cfg.RateLimit.MaxDryRuns),
		policyCache: expirable.NewLRU[string, bool](4096, nil,
			time.Duration(cfg.CacheTTLs.PolicySeconds)*time.Second),
		uskCache: expirable.NewLRU[string, []byte](cfg.CacheTTLs.UskMaxEntries, nil,
			time.Duration(cfg.CacheTTLs.UskSeconds)*time.Second),
		now:         time.Now,
		gitRevision: gitRevision,
	}
}

// FetchKeysRequest is the POST /v1/fetch_keys body.
type FetchKeysRequest struct {
	PTB                []byte      `json:"ptb"`
	EncKey             []byte      `json:"enc_key"`
	EncVerificationKey []byte      `json:"enc_verification_key"`
	RequestSignature   []byte      `json:"request_signature"`
	Certificate        Certificate `json:"certificate"`
}

// DecryptionKey is one issued extraction.
type DecryptionKey struct {
	ID  []byte `json:"id"`  // inner id
	Key []byte `json:"key"` // compressed G1 user secret key
}

// FetchKeysResponse is the plaintext response body before envelope sealing.
type FetchKeysResponse struct {
	DecryptionKeys []DecryptionKey `json:"decryption_keys"`
}

// checkSDKVersion gates clients outside the supported range.
func (s *Server) checkSDKVersion(v string) *apiError {
	if v == "" {
		return errMalformed("missing Client-Sdk-Version")
	}
	sv := "v" + v
	if !semver.IsValid(sv) {
		return errMalformed("bad Client-Sdk-Version")
	}
	if semver.Compare(sv, "v"+s.cfg.SupportedVersions.Min) < 0 ||
		semver.Compare(sv, "v"+s.cfg.SupportedVersions.Max) > 0 {
		return errMalformed("unsupported sdk version")
	}
	return nil
}

// fetchKeys runs the pipeline stages; any failure short-circuits with a
// categorized error.
func (s *Server) fetchKeys(ctx context.Context, req *FetchKeysRequest, sdkVersion string) (*FetchKeysResponse, *apiError) {
	// Stage 1: version gate.
	if ae := s.checkSDKVersion(sdkVersion); ae != nil {
		return nil, ae
	}

	// Stage 2: certificate validation.
	cert := &req.Certificate
	if len(req.EncVerificationKey) > 0 && len(cert.WalletSignature) == 0 {
		cert.WalletSignature = req.EncVerificationKey
	}
	if ae := cert.Verify(s.now()); ae != nil {
		return nil, ae
	}

	// Stage 3: request-signature validation.
	if ae := verifyRequestSignature(req.PTB, req.EncKey, req.RequestSignature, cert); ae != nil {
		return nil, ae
	}

	// Stage 4: PTB shape validation.
	tx, err := ptb.Decode(req.PTB)
	if err != nil {
		return nil, errMalformed("bad transaction encoding")
	}
	if string(tx.Sender[:]) != string(cert.Address) {
		return nil, errMalformed("transaction sender does not match certificate")
	}
	var pkg types.ObjectID
	copy(pkg[:], cert.PackageID)
	innerIDs, err := ptb.ValidateSealApprove(tx, pkg)
	if err != nil {
		return nil, errMalformed("transaction is not a seal_approve call set")
	}
	for _, id := range innerIDs {
		if len(id) > ibe.MaxIdentityLen {
			return nil, errMalformed("identity too long")
		}
	}
	client, err := s.table.Resolve(pkg)
	if err != nil {
		return nil, classify(err)
	}

	// Pluggable per-address gate ahead of policy evaluation.
	addr := hex.EncodeToString(cert.Address)
	if !s.gate.Allow(addr) {
		return nil, errRateLimited
	}

	// Stage 5: policy evaluation. Always runs; never elided by the usk cache.
	if ae := s.evaluatePolicy(ctx, req.PTB, cert.Address); ae != nil {
		return nil, ae
	}

	// Stage 6: master-key selection.
	sk, err := client.Scalar()
	if err != nil {
		return nil, classify(err)
	}

	// Stage 7: share extraction, de-duplicated request order preserved.
	resp := &FetchKeysResponse{}
	for _, innerID := range innerIDs {
		fullID := ibe.FullID(pkg, innerID)
		usk, ae := s.extract(client.Name, fullID, func() ([]byte, error) {
			return ibe.Extract(sk, fullID)
		})
		if ae != nil {
			return nil, ae
		}
		resp.DecryptionKeys = append(resp.DecryptionKeys, DecryptionKey{
			ID:  innerID,
			Key: usk,
		})
	}
	return resp, nil
}

// evaluatePolicy consults the short-TTL cache, then coalesces concurrent
// evaluations of the same (ptb, address) into one dry-run bounded by the
// concurrency semaphore.
func (s *Server) evaluatePolicy(ctx context.Context, txBytes, address []byte) *apiError {
	h := sha256.New()
	h.Write(txBytes)
	h.Write(address)
	key := hex.EncodeToString(h.Sum(nil))

	if denied, ok := s.policyCache.Get(key); ok {
		metrics.Inc("seal_policy_cache_total", map[string]string{"result": "hit"})
		if denied {
			return errNoAccess
		}
		return nil
	}
	metrics.Inc("seal_policy_cache_total", map[string]string{"result": "miss"})

	ch := s.policyGroup.DoChan(key, func() (any, error) {
		if !s.drySem.TryAcquire(1) {
			return nil, errOverloaded
		}
		defer s.drySem.Release(1)
		// The leader finishes even if its requester disconnects; waiters
		// may depend on the result.
		err := s.node.DryRun(context.WithoutCancel(ctx), txBytes)
		switch {
		case err == nil:
			s.policyCache.Add(key, false)
		case errors.Is(err, fullnode.ErrNoAccess):
			s.policyCache.Add(key, true)
		}
		return nil, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return classify(res.Err)
		}
		return nil
	case <-ctx.Done():
		// Only a deadline expiry counts against the upstream. A requester
		// that disconnected gets a category nobody will read.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errUpstreamTimeout
		}
		metrics.Inc("seal_policy_abandoned_total", nil)
		return errInternal
	}
}

// extract returns the cached user secret key or computes it once per
// (client, full identity) across concurrent requests.
func (s *Server) extract(clientName string, fullID []byte, compute func() ([]byte, error)) ([]byte, *apiError) {
	key := clientName + "|" + hex.EncodeToString(fullID)
	if usk, ok := s.uskCache.Get(key); ok {
		metrics.Inc("seal_usk_cache_total", map[string]string{"result": "hit"})
		return usk, nil
	}
	metrics.Inc("seal_usk_cache_total", map[string]string{"result": "miss"})

	v, err, _ := s.extractGroup.Do(key, func() (any, error) {
		usk, err := compute()
		if err != nil {
			return nil, err
		}
		s.uskCache.Add(key, usk)
		metrics.SetGauge("seal_usk_cache_size", nil, int64(s.uskCache.Len()))
		return usk, nil
	})
	if err != nil {
		// Structural failures are the requester's fault, not ours.
		if errors.Is(err, ibe.ErrInvalidIdentity) {
			return nil, errMalformed("invalid identity")
		}
		return nil, errInternal
	}
	return v.([]byte), nil
}

// SelfCheck extracts a probe key under every active client and verifies it
// against the registered public key, catching misconfigured env bindings at
// boot.
func (s *Server) SelfCheck() error {
	probe := append(make([]byte, 32), []byte("seal-selfcheck-probe")...)
	for _, c := range s.table.Clients() {
		sk, err := c.Scalar()
		if err != nil {
			continue // exported slots hold no key
		}
		usk, err := ibe.Extract(sk, probe)
		if err != nil {
			return err
		}
		if !ibe.VerifyUserKey(usk, probe, c.PublicKey()) {
			return fmt.Errorf("server: client %q key material fails verification", c.Name)
		}
	}
	return nil
}
