package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// agentLimiters tracks a token-bucket limiter per agent_id so one noisy
// agent can't starve enforcement throughput for the rest of the fleet.
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newAgentLimiters(rps float64, burst int) *agentLimiters {
	return &agentLimiters{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (a *agentLimiters) allow(agentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[agentID] = l
	}
	return l.Allow()
}
