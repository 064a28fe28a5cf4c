// Package lifecycle runs named services with ordered start and reverse-order stop.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/sealkms/seal/pkg/logger"
)

// Service is a long-running component with explicit start/stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager owns a set of services and starts/stops them as a unit.
type Manager struct {
	services []Service
	started  []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) { m.services = append(m.services, s) }

// StartAll starts services in registration order. On failure the services
// already started are stopped in reverse order before returning.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("service_op", map[string]any{"service": s.Name(), "op": "start", "result": "error", "err": err.Error()})
			_ = m.StopAll(ctx)
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.started = append(m.started, s)
	}
	return nil
}

// StopAll stops started services in reverse order; all stops are attempted
// and the first error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	var first error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		if err := s.Stop(ctx); err != nil && first == nil {
			first = fmt.Errorf("stop %s: %w", s.Name(), err)
		}
	}
	m.started = nil
	return first
}
