package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"failover-dispatcher/internal/endpoint"
	"failover-dispatcher/internal/utils"
)

// Dispatcher drives the attempt loop: select an endpoint, optionally probe
// its health, invoke the caller's operation, classify the outcome and
// either return, abort, or move on to the next endpoint.
//
// A Dispatcher is immutable after construction and safe for concurrent
// Execute calls; each request's transient state lives on its own stack.
type Dispatcher struct {
	endpoints   []endpoint.Endpoint
	policy      endpoint.Policy
	retry       RetryFunc
	fatal       Classifier
	healthCheck HealthCheckFunc
	onException ExceptionHook
	onHealth    HealthChangeHook
	stats       endpoint.StatsProvider // nil when the policy lacks the capability
	logger      *slog.Logger

	// 健康水平跟踪：跨请求比较最低健康等级
	healthMu   sync.Mutex
	healthSeen bool
	lastLevel  endpoint.Status
}

// New constructs a dispatcher over a non-empty endpoint set. All option
// shapes are validated and resolved here; a malformed configuration never
// survives to request time.
func New(endpoints []endpoint.Endpoint, opts Options) (*Dispatcher, error) {
	if len(endpoints) == 0 {
		return nil, configErrorf("at least one endpoint must be configured")
	}
	for i, ep := range endpoints {
		if ep == "" {
			return nil, configErrorf("endpoint %d: must not be empty", i)
		}
	}

	eps := make([]endpoint.Endpoint, len(endpoints))
	copy(eps, endpoints)

	policy := opts.Policy
	if policy == nil {
		policy = endpoint.NewRoundRobin(eps)
	}

	retry, err := normalizeRetry(opts.Retry)
	if err != nil {
		return nil, err
	}
	fatal, err := normalizeFatal(opts.Fatal)
	if err != nil {
		return nil, err
	}

	healthCheck := opts.HealthCheck
	if healthCheck == nil {
		if hc, ok := policy.(endpoint.HealthChecker); ok {
			healthCheck = hc.HealthCheck
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		endpoints:   eps,
		policy:      policy,
		retry:       retry,
		fatal:       fatal,
		healthCheck: healthCheck,
		onException: opts.OnException,
		onHealth:    opts.OnHealthChange,
		logger:      logger,
		lastLevel:   endpoint.StatusUnknown,
	}
	if sp, ok := policy.(endpoint.StatsProvider); ok {
		d.stats = sp
	}
	return d, nil
}

// Endpoints returns a copy of the configured endpoint set.
func (d *Dispatcher) Endpoints() []endpoint.Endpoint {
	eps := make([]endpoint.Endpoint, len(d.endpoints))
	copy(eps, d.endpoints)
	return eps
}

// Execute runs op against endpoints chosen by the policy until it
// succeeds, fails fatally, or the retry budget and endpoint supply are
// exhausted. The caller sees exactly one of: the operation's result, the
// original fatal failure unchanged, ErrNoEndpointAvailable, or a
// *NoResultError aggregate.
func (d *Dispatcher) Execute(ctx context.Context, op Operation) (any, error) {
	if op == nil {
		return nil, ErrNilOperation
	}

	var record failureRecord
	attempts := 0

	for d.retry(d.endpoints, attempts) {
		ep, needsCheck := d.policy.Next()
		if ep == "" {
			// 选择策略已无端点可供，立即终止本次请求
			d.logger.Warn("⚠️ [调度] 选择策略没有可用端点，请求终止")
			d.observeHealthLevel()
			return nil, ErrNoEndpointAvailable
		}

		// The attempt counter increments on every non-empty selection,
		// health-check skips included.
		attempts++

		if needsCheck && !d.probe(ctx, ep) {
			continue
		}

		start := time.Now()
		result, err := op(ctx, ep)
		end := time.Now()

		if err == nil {
			d.policy.Good(ep, start, end)
			d.logger.Debug(fmt.Sprintf("✅ [调度成功] 端点: %s, 耗时: %s, 尝试: %d",
				ep, utils.FormatResponseTime(end.Sub(start)), attempts))
			d.observeHealthLevel()
			return result, nil
		}

		// Classification happens exactly once per failure; the decision is
		// final and never reconsidered.
		fatal := d.fatal(err)
		if d.onException != nil {
			d.onException(fatal, err, ep)
		}

		if fatal {
			d.logger.Error(fmt.Sprintf("❌ [失败分类] 致命错误，立即中止 - 端点: %s, 耗时: %s, 错误: %v",
				ep, utils.FormatResponseTime(end.Sub(start)), err))
			d.observeHealthLevel()
			return nil, err
		}

		d.policy.Bad(ep, start, end)
		record.add(err)
		d.logger.Warn(fmt.Sprintf("🔄 [失败分类] 可重试错误，切换端点 - 端点: %s, 耗时: %s, 尝试: %d, 错误: %v",
			ep, utils.FormatResponseTime(end.Sub(start)), attempts, err))
	}

	d.observeHealthLevel()
	d.logger.Error(fmt.Sprintf("❌ [调度耗尽] 重试预算用尽，共尝试 %d 次, 失败类型: %v",
		attempts, record.types))
	return nil, &NoResultError{
		Endpoints:    d.Endpoints(),
		FailureTypes: record.types,
	}
}

// GetStats returns the status of every configured endpoint, delegating to
// the policy's own stats when it provides them.
func (d *Dispatcher) GetStats() map[endpoint.Endpoint]endpoint.Status {
	if d.stats != nil {
		return d.stats.GetStats()
	}
	m := make(map[endpoint.Endpoint]endpoint.Status, len(d.endpoints))
	for _, ep := range d.endpoints {
		m[ep] = endpoint.StatusUnknown
	}
	return m
}

// probe runs the configured health check guarded against failures of the
// check itself: an error or a false return are both logged and converted
// into "skip this endpoint", never surfaced to the caller and never
// recorded as a dispatch failure.
func (d *Dispatcher) probe(ctx context.Context, ep endpoint.Endpoint) bool {
	if d.healthCheck == nil {
		return true
	}
	ok, err := d.healthCheck(ctx, ep)
	if err != nil {
		d.logger.Warn(fmt.Sprintf("🩺 [健康检查] 探测出错，跳过端点: %s - 错误: %v", ep, err))
		return false
	}
	if !ok {
		d.logger.Warn(fmt.Sprintf("🩺 [健康检查] 端点不健康，跳过: %s", ep))
		return false
	}
	return true
}

// observeHealthLevel recomputes the minimum health level from the policy's
// stats and fires the change hook when it differs from the previously
// observed level. Best-effort diagnostics, never affects the request
// outcome.
func (d *Dispatcher) observeHealthLevel() {
	if d.stats == nil || d.onHealth == nil {
		return
	}

	stats := d.stats.GetStats()
	if len(stats) == 0 {
		return
	}
	level := endpoint.StatusHealthy
	for _, s := range stats {
		if s < level {
			level = s
		}
	}

	d.healthMu.Lock()
	changed := d.healthSeen && level != d.lastLevel
	d.healthSeen = true
	d.lastLevel = level
	d.healthMu.Unlock()

	if changed {
		d.logger.Info(fmt.Sprintf("🩺 [健康水平] 端点集最低健康等级变化: %s", level))
		d.onHealth(level)
	}
}
