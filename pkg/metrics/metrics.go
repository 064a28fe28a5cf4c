// Package metrics is a process-wide metrics facade over prometheus.
// Collectors are created lazily on first use; the label key set of a metric
// is fixed by its first call site.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu        sync.Mutex
	registry  = prometheus.NewRegistry()
	counters  = map[string]*prometheus.CounterVec{}
	gauges    = map[string]*prometheus.GaugeVec{}
	summaries = map[string]*prometheus.SummaryVec{}
)

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Inc increments a counter identified by name and labels.
func Inc(name string, labels map[string]string) {
	mu.Lock()
	c, ok := counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelKeys(labels))
		if err := registry.Register(c); err != nil {
			mu.Unlock()
			return
		}
		counters[name] = c
	}
	mu.Unlock()
	if m, err := c.GetMetricWith(prometheus.Labels(labels)); err == nil {
		m.Inc()
	}
}

// AddGauge adds delta to a gauge identified by name and labels.
func AddGauge(name string, labels map[string]string, delta int64) {
	if g := gauge(name, labels); g != nil {
		if m, err := g.GetMetricWith(prometheus.Labels(labels)); err == nil {
			m.Add(float64(delta))
		}
	}
}

// SetGauge sets a gauge identified by name and labels.
func SetGauge(name string, labels map[string]string, v int64) {
	if g := gauge(name, labels); g != nil {
		if m, err := g.GetMetricWith(prometheus.Labels(labels)); err == nil {
			m.Set(float64(v))
		}
	}
}

func gauge(name string, labels map[string]string) *prometheus.GaugeVec {
	mu.Lock()
	defer mu.Unlock()
	g, ok := gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelKeys(labels))
		if err := registry.Register(g); err != nil {
			return nil
		}
		gauges[name] = g
	}
	return g
}

// ObserveSummary records an observation in a summary identified by name and labels.
func ObserveSummary(name string, labels map[string]string, v float64) {
	mu.Lock()
	s, ok := summaries[name]
	if !ok {
		s = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, labelKeys(labels))
		if err := registry.Register(s); err != nil {
			mu.Unlock()
			return
		}
		summaries[name] = s
	}
	mu.Unlock()
	if m, err := s.GetMetricWith(prometheus.Labels(labels)); err == nil {
		m.Observe(v)
	}
}

// Handler returns the exposition handler for the process registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
