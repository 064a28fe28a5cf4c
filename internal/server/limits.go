package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sealkms/seal/pkg/metrics"
)

// addressGate rate-limits fetch_keys requests per certificate address. It is
// the pluggable gate that runs before policy evaluation.
type addressGate struct {
	mu       sync.Mutex
	limiters map[string]*gateEntry
	rps      rate.Limit
	burst    int
}

type gateEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const gateIdleEviction = 10 * time.Minute

func newAddressGate(rps float64, burst int) *addressGate {
	return &addressGate{
		limiters: map[string]*gateEntry{},
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the address may proceed, evicting idle entries as a
// side effect to bound the map.
func (g *addressGate) Allow(address string) bool {
	now := time.Now()
	g.mu.Lock()
	e, ok := g.limiters[address]
	if !ok {
		e = &gateEntry{lim: rate.NewLimiter(g.rps, g.burst)}
		g.limiters[address] = e
	}
	e.lastSeen = now
	if len(g.limiters) > 4096 {
		for k, v := range g.limiters {
			if now.Sub(v.lastSeen) > gateIdleEviction {
				delete(g.limiters, k)
			}
		}
	}
	g.mu.Unlock()

	ok = e.lim.Allow()
	if !ok {
		metrics.Inc("seal_rate_limited_total", map[string]string{"kind": "address"})
	}
	return ok
}
