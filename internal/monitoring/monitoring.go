// Package monitoring exposes the operational side port: Prometheus metrics
// and a liveness probe, separate from the public API listener.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/sealkms/seal/pkg/logger"
	"github.com/sealkms/seal/pkg/metrics"
)

type Service struct {
	addr string
	srv  *http.Server
}

func New(addr string) *Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Service{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

func (m *Service) Name() string { return "monitoring" }

func (m *Service) Start(ctx context.Context) error {
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorJ("service_op", map[string]any{"service": "monitoring", "op": "serve", "result": "error", "err": err.Error()})
		}
	}()
	logger.InfoJ("service_op", map[string]any{"service": "monitoring", "op": "start", "result": "ok", "addr": m.addr})
	return nil
}

func (m *Service) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return m.srv.Shutdown(shutdownCtx)
}
