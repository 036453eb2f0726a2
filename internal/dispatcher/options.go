package dispatcher

import (
	"context"
	"log/slog"

	"failover-dispatcher/internal/endpoint"
)

// Operation is the caller-supplied unit of work: invoked with the selected
// endpoint, it returns a result or a failure. The dispatcher never
// performs I/O itself and never inspects the result.
type Operation func(ctx context.Context, ep endpoint.Endpoint) (any, error)

// RetryFunc decides whether another attempt should be made given the
// original endpoint set and the number of attempts made so far (1-based;
// incremented on every non-empty selection, health-check skips included).
type RetryFunc func(endpoints []endpoint.Endpoint, attempts int) bool

// HealthCheckFunc probes an endpoint's liveness. Returning false or an
// error both count as unhealthy; errors never reach the caller.
type HealthCheckFunc func(ctx context.Context, ep endpoint.Endpoint) (bool, error)

// ExceptionHook observes every classified failure before it is acted on.
type ExceptionHook func(fatal bool, err error, ep endpoint.Endpoint)

// HealthChangeHook observes changes of the minimum health level across
// the endpoint set. Best-effort diagnostics only.
type HealthChangeHook func(level endpoint.Status)

// Options is the dispatcher's configuration bundle. It is resolved once at
// construction into immutable internal state; reconfiguring means building
// a new dispatcher.
type Options struct {
	// Policy selects endpoints. nil means a round-robin policy over the
	// configured endpoint set.
	Policy endpoint.Policy

	// Retry controls continuation. Accepted shapes: nil (try each endpoint
	// once: continue while attempts < len(endpoints)), a positive int
	// bound, or a RetryFunc / func([]endpoint.Endpoint, int) bool.
	Retry any

	// Fatal controls failure classification. Accepted shapes: nil (the
	// default rules of DefaultClassifier), a Classifier or
	// func(error) bool, a sentinel error, or a []error set matched via
	// errors.Is.
	Fatal any

	// OnException, if set, is invoked with every classified failure.
	OnException ExceptionHook

	// HealthCheck overrides the policy's probe. nil falls back to the
	// policy's HealthChecker capability, or always-healthy.
	HealthCheck HealthCheckFunc

	// OnHealthChange, if set, is invoked when the minimum health level
	// derived from the policy's stats changes between requests.
	OnHealthChange HealthChangeHook

	// Logger receives health-check, classification and exhaustion logs.
	// nil means slog.Default(). The sink's lifecycle is owned by the
	// caller.
	Logger *slog.Logger
}

// normalizeRetry resolves the Retry option into a canonical RetryFunc.
func normalizeRetry(v any) (RetryFunc, error) {
	switch r := v.(type) {
	case nil:
		// 默认策略：每个端点最多尝试一次
		return func(endpoints []endpoint.Endpoint, attempts int) bool {
			return attempts < len(endpoints)
		}, nil
	case int:
		if r <= 0 {
			return nil, configErrorf("retry bound must be positive, got %d", r)
		}
		return func(_ []endpoint.Endpoint, attempts int) bool {
			return attempts < r
		}, nil
	case RetryFunc:
		if r == nil {
			return nil, configErrorf("retry function must not be nil")
		}
		return r, nil
	case func([]endpoint.Endpoint, int) bool:
		if r == nil {
			return nil, configErrorf("retry function must not be nil")
		}
		return r, nil
	default:
		return nil, configErrorf("unsupported retry option type %T", v)
	}
}
