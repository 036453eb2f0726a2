package endpoint

import (
	"sort"
	"sync"
	"time"
)

// PriorityEndpoint pairs an endpoint with its configured priority.
// Lower numbers are preferred, following the forwarder config convention.
type PriorityEndpoint struct {
	Endpoint Endpoint
	Priority int
}

// Priority always offers the highest-priority endpoint whose last failure
// is older than the cooldown window. A Bad report puts the endpoint on
// cooldown so the next selection falls through to the next candidate; a
// Good report clears it. When every endpoint is cooling down, Next returns
// the empty endpoint.
//
// 冷却机制对应转发器里"主端点失败后暂时降级到备用端点"的行为
type Priority struct {
	endpoints []PriorityEndpoint
	cooldown  time.Duration

	mu      sync.Mutex
	lastBad map[Endpoint]time.Time
}

// NewPriority creates a priority policy. The input is copied and sorted by
// ascending priority once; ties keep their configured order. A
// non-positive cooldown disables the cooldown entirely, making the policy
// offer the primary endpoint unconditionally.
func NewPriority(endpoints []PriorityEndpoint, cooldown time.Duration) *Priority {
	eps := make([]PriorityEndpoint, len(endpoints))
	copy(eps, endpoints)
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].Priority < eps[j].Priority
	})
	return &Priority{
		endpoints: eps,
		cooldown:  cooldown,
		lastBad:   make(map[Endpoint]time.Time),
	}
}

// Next returns the best endpoint not currently cooling down.
func (p *Priority) Next() (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, pe := range p.endpoints {
		if p.cooldown <= 0 {
			return pe.Endpoint, false
		}
		if bad, ok := p.lastBad[pe.Endpoint]; ok && now.Sub(bad) < p.cooldown {
			continue
		}
		return pe.Endpoint, false
	}
	return "", false
}

// Good clears the endpoint's cooldown so it is preferred again.
func (p *Priority) Good(ep Endpoint, _, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lastBad, ep)
}

// Bad puts the endpoint on cooldown.
func (p *Priority) Bad(ep Endpoint, _, end time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastBad[ep] = end
}
