// Package health 提供基于HTTP的端点健康探测，作为调度器的健康检查实现
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"failover-dispatcher/internal/endpoint"
	"failover-dispatcher/internal/utils"
)

// Checker probes endpoints over HTTP. An endpoint is healthy when
// GET <endpoint><health_path> answers with a 2xx status within the
// timeout. Failures of the probe itself are reported as errors so the
// dispatcher can log and skip the endpoint.
type Checker struct {
	client     *http.Client
	healthPath string
	tokens     map[endpoint.Endpoint]string
	logger     *slog.Logger
}

// NewChecker creates a health checker. tokens maps endpoints to their
// bearer tokens and may be nil.
func NewChecker(transport http.RoundTripper, healthPath string, timeout time.Duration, tokens map[endpoint.Endpoint]string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		healthPath: healthPath,
		tokens:     tokens,
		logger:     logger,
	}
}

// Check probes a single endpoint. It satisfies the dispatcher's
// HealthCheckFunc signature.
func (c *Checker) Check(ctx context.Context, ep endpoint.Endpoint) (bool, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(ep)+c.healthPath, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build health request: %w", err)
	}
	if token := c.tokens[ep]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	responseTime := time.Since(start)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("❌ [健康检查] 端点网络错误: %s - 错误: %s, 响应时间: %s",
			ep, err.Error(), utils.FormatResponseTime(responseTime)))
		return false, err
	}
	resp.Body.Close()

	// 仅2xx视为健康，其余状态码一律视为不健康
	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if healthy {
		c.logger.Debug(fmt.Sprintf("✅ [健康检查] 端点正常: %s - 状态码: %d, 响应时间: %s",
			ep, resp.StatusCode, utils.FormatResponseTime(responseTime)))
	} else {
		c.logger.Warn(fmt.Sprintf("⚠️ [健康检查] 端点异常: %s - 状态码: %d, 响应时间: %s",
			ep, resp.StatusCode, utils.FormatResponseTime(responseTime)))
	}
	return healthy, nil
}
