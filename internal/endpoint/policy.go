package endpoint

import (
	"context"
	"time"
)

// Endpoint is an opaque dispatch target (typically a URL or address).
// The dispatcher never inspects its structure; only the caller's operation
// gives it meaning. The empty string is reserved as the "no endpoint"
// signal returned by Policy.Next.
type Endpoint string

// Status represents the last known health level of an endpoint.
// 数值越小健康等级越低，调度器据此计算整体最低健康水平
type Status int

const (
	StatusUnknown   Status = iota // 从未观测过
	StatusUnhealthy               // 连续失败
	StatusDegraded                // 最近失败过
	StatusHealthy                 // 最近一次成功
)

// String returns the wire/display name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Policy selects the next endpoint to try and records attempt outcomes.
// Implementations must be safe for concurrent use: a single dispatcher is
// shared by many in-flight requests, all selecting and reporting against
// the same policy state.
type Policy interface {
	// Next returns the endpoint to try and whether a health probe is
	// required before use. It returns the empty endpoint to signal that
	// nothing is available; this is a normal condition, never an error.
	Next() (Endpoint, bool)

	// Good records a successful attempt against ep.
	Good(ep Endpoint, start, end time.Time)

	// Bad records a failed (non-fatal) attempt against ep.
	Bad(ep Endpoint, start, end time.Time)
}

// HealthChecker is an optional Policy capability: a liveness probe for an
// endpoint. Returning false or an error both count as unhealthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context, ep Endpoint) (bool, error)
}

// StatsProvider is an optional Policy capability: a diagnostic snapshot of
// every endpoint's status. Policies without it are reported by the
// dispatcher as StatusUnknown across the board.
type StatsProvider interface {
	GetStats() map[Endpoint]Status
}
