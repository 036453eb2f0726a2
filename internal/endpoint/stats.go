package endpoint

import (
	"context"
	"sync"
	"time"
)

// EndpointStats holds the per-endpoint counters kept by the Recorder.
type EndpointStats struct {
	Status           Status
	GoodCount        int64
	BadCount         int64
	ConsecutiveFails int
	LastAttempt      time.Time
	LastDuration     time.Duration
}

// unhealthyThreshold is the number of consecutive failures after which an
// endpoint is reported unhealthy rather than merely degraded.
const unhealthyThreshold = 3

// Recorder decorates any Policy with outcome bookkeeping, giving it the
// StatsProvider capability. Selection is fully delegated to the inner
// policy; only Good/Bad reports are observed.
type Recorder struct {
	inner Policy

	mu    sync.RWMutex
	stats map[Endpoint]*EndpointStats
}

// WithStats wraps policy with a Recorder pre-populated with every
// configured endpoint at StatusUnknown, so stats always cover the full
// endpoint set even before the first attempt.
func WithStats(policy Policy, endpoints []Endpoint) *Recorder {
	stats := make(map[Endpoint]*EndpointStats, len(endpoints))
	for _, ep := range endpoints {
		stats[ep] = &EndpointStats{Status: StatusUnknown}
	}
	return &Recorder{inner: policy, stats: stats}
}

// Next delegates to the wrapped policy.
func (r *Recorder) Next() (Endpoint, bool) {
	return r.inner.Next()
}

// Good records a success and marks the endpoint healthy.
func (r *Recorder) Good(ep Endpoint, start, end time.Time) {
	r.inner.Good(ep, start, end)

	r.mu.Lock()
	s := r.ensure(ep)
	s.Status = StatusHealthy
	s.GoodCount++
	s.ConsecutiveFails = 0
	s.LastAttempt = end
	s.LastDuration = end.Sub(start)
	r.mu.Unlock()
}

// Bad records a failure. The first failure degrades the endpoint; repeated
// consecutive failures mark it unhealthy.
func (r *Recorder) Bad(ep Endpoint, start, end time.Time) {
	r.inner.Bad(ep, start, end)

	r.mu.Lock()
	s := r.ensure(ep)
	s.BadCount++
	s.ConsecutiveFails++
	if s.ConsecutiveFails >= unhealthyThreshold {
		s.Status = StatusUnhealthy
	} else {
		s.Status = StatusDegraded
	}
	s.LastAttempt = end
	s.LastDuration = end.Sub(start)
	r.mu.Unlock()
}

// HealthCheck forwards to the wrapped policy's probe when it has one.
func (r *Recorder) HealthCheck(ctx context.Context, ep Endpoint) (bool, error) {
	if hc, ok := r.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx, ep)
	}
	return true, nil
}

// GetStats returns a snapshot of every endpoint's status.
func (r *Recorder) GetStats() map[Endpoint]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Endpoint]Status, len(r.stats))
	for ep, s := range r.stats {
		out[ep] = s.Status
	}
	return out
}

// Snapshot returns a deep copy of the full counters, for the web layer.
func (r *Recorder) Snapshot() map[Endpoint]EndpointStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Endpoint]EndpointStats, len(r.stats))
	for ep, s := range r.stats {
		out[ep] = *s
	}
	return out
}

// ensure must be called with mu held.
func (r *Recorder) ensure(ep Endpoint) *EndpointStats {
	s, ok := r.stats[ep]
	if !ok {
		s = &EndpointStats{Status: StatusUnknown}
		r.stats[ep] = s
	}
	return s
}
