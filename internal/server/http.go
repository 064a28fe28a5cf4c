package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sealkms/seal/pkg/lifecycle"
	"github.com/sealkms/seal/pkg/logger"
	"github.com/sealkms/seal/pkg/metrics"
	"github.com/sealkms/seal/pkg/trace"
)

const (
	sdkVersionHeader = "Client-Sdk-Version"
	maxBodyBytes     = 1 << 20
)

// Service is the public HTTP surface as a lifecycle service.
type Service struct {
	addr string
	s    *Server
	srv  *http.Server
}

// NewService mounts the public endpoints on addr.
func NewService(addr string, s *Server) *Service {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/v1/service", wrapMetrics("service", http.HandlerFunc(s.handleService)))
	mux.Handle("/v1/fetch_keys", wrapMetrics("fetch_keys", http.HandlerFunc(s.handleFetchKeys)))
	return &Service{addr: addr, s: s, srv: &http.Server{Addr: addr, Handler: mux}}
}

func (h *Service) Name() string { return "api" }

func (h *Service) Start(ctx context.Context) error {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorJ("service_op", map[string]any{"service": "api", "op": "serve", "result": "error", "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "api", "op": "start", "result": "ok", "addr": h.addr})
	return nil
}

func (h *Service) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(shutdownCtx)
}

var _ lifecycle.Service = (*Service)(nil)

// wrapMetrics records one log line and latency/status metrics per request.
func wrapMetrics(op string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get("X-Trace-ID")
		r = r.WithContext(trace.WithID(r.Context(), tid))
		rr := &respRec{ResponseWriter: w, code: http.StatusOK}
		func() {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorJ("seal_panic", map[string]any{"op": op, "panic": fmt.Sprint(v)})
					if !rr.wrote {
						writeError(rr, errInternal)
					}
				}
			}()
			h.ServeHTTP(rr, r)
		}()
		ms := time.Since(start).Milliseconds()
		metrics.Inc("seal_requests_total", map[string]string{"op": op, "code": strconv.Itoa(rr.code)})
		metrics.ObserveSummary("seal_request_ms", map[string]string{"op": op}, float64(ms))
		tid, _ = trace.FromContext(r.Context())
		logger.InfoJ("seal_request", map[string]any{"op": op, "code": rr.code, "latency_ms": ms, "trace_id": tid})
	})
}

type respRec struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (r *respRec) WriteHeader(c int) {
	r.code = c
	r.wrote = true
	r.ResponseWriter.WriteHeader(c)
}

func (r *respRec) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// serviceInfo is the GET /v1/service body. Clients match the object ids
// against on-chain registrations to detect URL impersonation.
type serviceInfo struct {
	KeyServerObjectID string            `json:"key_server_object_id"`
	PublicKey         string            `json:"public_key"`
	Services          []serviceEntry    `json:"services,omitempty"`
	SupportedVersions map[string]string `json:"supported_versions"`
	GitRevision       string            `json:"git_revision"`
}

type serviceEntry struct {
	Name              string `json:"name"`
	KeyServerObjectID string `json:"key_server_object_id"`
	PublicKey         string `json:"public_key,omitempty"`
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMalformed("GET only"))
		return
	}
	info := serviceInfo{
		SupportedVersions: map[string]string{
			"min": s.cfg.SupportedVersions.Min,
			"max": s.cfg.SupportedVersions.Max,
		},
		GitRevision: s.gitRevision,
	}
	for i, c := range s.table.Clients() {
		entry := serviceEntry{
			Name:              c.Name,
			KeyServerObjectID: c.KeyServerObjectID.Hex(),
		}
		if pub := c.PublicKey(); pub != nil {
			entry.PublicKey = hex.EncodeToString(pub)
		}
		if i == 0 {
			info.KeyServerObjectID = entry.KeyServerObjectID
			info.PublicKey = entry.PublicKey
		}
		info.Services = append(info.Services, entry)
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFetchKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errMalformed("POST only"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeError(w, errMalformed("body too large or unreadable"))
		return
	}
	var req FetchKeysRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errMalformed("bad json"))
		return
	}
	resp, ae := s.fetchKeys(r.Context(), &req, r.Header.Get(sdkVersionHeader))
	if ae != nil {
		tid, _ := trace.FromContext(r.Context())
		logger.InfoJ("fetch_keys", map[string]any{"result": string(ae.cat), "trace_id": tid})
		metrics.Inc("seal_fetch_keys_total", map[string]string{"result": string(ae.cat)})
		writeError(w, ae)
		return
	}
	metrics.Inc("seal_fetch_keys_total", map[string]string{"result": "ok"})

	plain, err := json.Marshal(resp)
	if err != nil {
		writeError(w, errInternal)
		return
	}
	env, err := sealResponse(req.EncKey, plain)
	if err != nil {
		writeError(w, errInternal)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, ae *apiError) {
	if ae.status == http.StatusServiceUnavailable || ae.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, ae.status, errorBody{Error: ae.cat, Message: ae.message, Retry: ae.retry})
}
