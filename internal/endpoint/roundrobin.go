package endpoint

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"
)

// RoundRobin is the default selection policy. The endpoint order is
// shuffled exactly once at construction and then cycled deterministically,
// wrapping from the end back to the start. Good and Bad are no-ops.
//
// The cursor is the only shared mutable state and is advanced atomically,
// so a single RoundRobin may serve many concurrent requests.
type RoundRobin struct {
	endpoints []Endpoint
	cursor    atomic.Int64

	// PreflightCheck makes Next request a health probe before every use.
	// Off by default; the dispatcher's health check is then never consulted
	// for this policy.
	PreflightCheck bool
}

// NewRoundRobin creates a round-robin policy over a copy of endpoints,
// shuffled once. The input slice is not retained.
func NewRoundRobin(endpoints []Endpoint) *RoundRobin {
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	rand.Shuffle(len(eps), func(i, j int) {
		eps[i], eps[j] = eps[j], eps[i]
	})
	return &RoundRobin{endpoints: eps}
}

// Next returns the next endpoint in the fixed shuffled order.
func (p *RoundRobin) Next() (Endpoint, bool) {
	if len(p.endpoints) == 0 {
		return "", false
	}
	// Add 返回自增后的值，减一得到本次使用的下标
	idx := (p.cursor.Add(1) - 1) % int64(len(p.endpoints))
	return p.endpoints[idx], p.PreflightCheck
}

// Good is a no-op; round-robin keeps no outcome state.
func (p *RoundRobin) Good(Endpoint, time.Time, time.Time) {}

// Bad is a no-op; round-robin keeps no outcome state.
func (p *RoundRobin) Bad(Endpoint, time.Time, time.Time) {}

// HealthCheck is a trivial always-healthy stub. Wrap the policy or set the
// dispatcher's HealthCheck option to override it.
func (p *RoundRobin) HealthCheck(context.Context, Endpoint) (bool, error) {
	return true, nil
}
