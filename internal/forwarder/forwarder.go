package forwarder

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"failover-dispatcher/config"
	"failover-dispatcher/internal/dispatcher"
	"failover-dispatcher/internal/endpoint"
	"failover-dispatcher/internal/events"
	"failover-dispatcher/internal/health"
	"failover-dispatcher/internal/middleware"
	"failover-dispatcher/internal/monitor"
	"failover-dispatcher/internal/tracking"
	"failover-dispatcher/internal/transport"
	"failover-dispatcher/internal/utils"
)

// hopByHopHeaders 不应转发的逐跳头部
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder forwards inbound HTTP requests to configured upstream
// endpoints through the dispatcher, failing over between them.
type Forwarder struct {
	mu       sync.RWMutex
	cfg      *config.Config
	disp     *dispatcher.Dispatcher
	client   *http.Client
	tracker  *tracking.RequestTracker
	metrics  *monitor.Metrics
	eventBus events.EventBus
	logger   *slog.Logger
	byURL    map[endpoint.Endpoint]config.EndpointConfig
}

// NewForwarder creates a forwarder from the application configuration
func NewForwarder(cfg *config.Config, tracker *tracking.RequestTracker, metrics *monitor.Metrics, logger *slog.Logger) (*Forwarder, error) {
	f := &Forwarder{
		tracker: tracker,
		metrics: metrics,
		logger:  logger,
	}
	if err := f.Rebuild(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

// SetEventBus sets the event bus for endpoint and health events
func (f *Forwarder) SetEventBus(bus events.EventBus) {
	f.mu.Lock()
	f.eventBus = bus
	f.mu.Unlock()
}

// Rebuild reconstructs the dispatcher and transport from a new
// configuration. Used at startup and on config reload.
func (f *Forwarder) Rebuild(cfg *config.Config) error {
	httpTransport, err := transport.CreateTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	byURL := make(map[endpoint.Endpoint]config.EndpointConfig, len(cfg.Endpoints))
	endpoints := make([]endpoint.Endpoint, 0, len(cfg.Endpoints))
	tokens := make(map[endpoint.Endpoint]string, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		ep := endpoint.Endpoint(ec.URL)
		byURL[ep] = ec
		endpoints = append(endpoints, ep)
		tokens[ep] = ec.Token
	}

	policy := buildPolicy(cfg, endpoints)

	opts := dispatcher.Options{
		Policy: policy,
		Logger: f.logger,
		OnException: func(fatal bool, err error, ep endpoint.Endpoint) {
			f.recordException(fatal, err, ep)
		},
		OnHealthChange: func(level endpoint.Status) {
			f.recordHealthChange(level)
		},
	}
	if cfg.Retry.MaxAttempts > 0 {
		opts.Retry = cfg.Retry.MaxAttempts
	}
	if cfg.Health.Enabled {
		checker := health.NewChecker(httpTransport, cfg.Health.HealthPath, cfg.Health.Timeout, tokens, f.logger)
		opts.HealthCheck = checker.Check
	}

	disp, err := dispatcher.New(endpoints, opts)
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	f.mu.Lock()
	f.cfg = cfg
	f.disp = disp
	f.client = &http.Client{Transport: httpTransport}
	f.byURL = byURL
	f.mu.Unlock()

	f.logger.Info("🔄 [转发器] 调度器已重建",
		"endpoints", len(endpoints),
		"strategy", cfg.Strategy.Type,
		"health_check", cfg.Health.Enabled)
	return nil
}

// buildPolicy 根据策略配置构建端点选择策略，并包装统计记录
func buildPolicy(cfg *config.Config, endpoints []endpoint.Endpoint) endpoint.Policy {
	var inner endpoint.Policy
	switch cfg.Strategy.Type {
	case "priority":
		prioritized := make([]endpoint.PriorityEndpoint, 0, len(cfg.Endpoints))
		for _, ec := range cfg.Endpoints {
			prioritized = append(prioritized, endpoint.PriorityEndpoint{
				Endpoint: endpoint.Endpoint(ec.URL),
				Priority: ec.Priority,
			})
		}
		inner = endpoint.NewPriority(prioritized, cfg.Strategy.Cooldown)
	default:
		inner = endpoint.NewRoundRobin(endpoints)
	}
	return endpoint.WithStats(inner, endpoints)
}

// Endpoints returns the configured endpoint set
func (f *Forwarder) Endpoints() []endpoint.Endpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.disp.Endpoints()
}

// GetStats returns the dispatcher's per-endpoint status map
func (f *Forwarder) GetStats() map[endpoint.Endpoint]endpoint.Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.disp.GetStats()
}

// EndpointName 返回端点URL对应的配置名称
func (f *Forwarder) EndpointName(ep endpoint.Endpoint) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if ec, ok := f.byURL[ep]; ok {
		return ec.Name
	}
	return string(ep)
}

// ServeHTTP implements http.Handler
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.RequestIDFromContext(ctx)
	start := time.Now()

	f.mu.RLock()
	disp := f.disp
	cfg := f.cfg
	f.mu.RUnlock()

	if cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.GlobalTimeout)
		defer cancel()
	}

	var bodyBytes []byte
	if r.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			f.logger.Error("读取请求体失败", "request_id", requestID, "error", err)
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}
		r.Body.Close()
	}

	f.tracker.RecordRequestStart(requestID, r.RemoteAddr, r.Method, r.URL.Path)

	attempt := 0
	lastEndpoint := ""
	op := func(ctx context.Context, ep endpoint.Endpoint) (any, error) {
		attempt++
		name := f.EndpointName(ep)
		lastEndpoint = name
		attemptStart := time.Now()

		resp, err := f.forwardOnce(ctx, r, bodyBytes, ep)
		duration := time.Since(attemptStart)

		if err != nil {
			f.metrics.RecordAttempt(name, duration, false, fmt.Sprintf("%T", err))
			f.tracker.RecordAttempt(requestID, tracking.AttemptData{
				AttemptNumber: attempt,
				EndpointName:  name,
				StartTime:     attemptStart,
				Duration:      duration,
				FailureType:   fmt.Sprintf("%T", err),
				ErrorDetail:   err.Error(),
			})
			return nil, err
		}

		f.metrics.RecordAttempt(name, duration, true, "")
		f.tracker.RecordAttempt(requestID, tracking.AttemptData{
			AttemptNumber: attempt,
			EndpointName:  name,
			StartTime:     attemptStart,
			Duration:      duration,
			Success:       true,
		})
		return resp, nil
	}

	result, err := disp.Execute(ctx, op)
	duration := time.Since(start)

	if err != nil {
		f.handleFailure(w, requestID, lastEndpoint, attempt, duration, err)
		return
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	copyResponseHeaders(resp, w)
	w.WriteHeader(resp.StatusCode)

	written, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		f.logger.Error("写入响应到客户端失败",
			"request_id", requestID, "endpoint", lastEndpoint, "error", copyErr)
	}

	f.metrics.RecordRequestSuccess(duration)
	f.tracker.RecordRequestComplete(requestID, tracking.RequestCompleteData{
		Status:       "completed",
		HTTPStatus:   resp.StatusCode,
		EndpointName: lastEndpoint,
		AttemptCount: attempt,
		Duration:     duration,
	})
	f.publishEvent(events.EventEndpointGood, events.PriorityLow, map[string]interface{}{
		"request_id": requestID,
		"endpoint":   lastEndpoint,
		"attempts":   attempt,
	})

	f.logger.Info(fmt.Sprintf("✅ [转发完成] [%s] 端点: %s, 状态码: %d, 尝试: %d, 耗时: %s, 响应: %d字节",
		requestID, lastEndpoint, resp.StatusCode, attempt,
		utils.FormatResponseTime(duration), written))
}

// forwardOnce 向单个端点转发一次请求
func (f *Forwarder) forwardOnce(ctx context.Context, r *http.Request, bodyBytes []byte, ep endpoint.Endpoint) (*http.Response, error) {
	f.mu.RLock()
	ec := f.byURL[ep]
	client := f.client
	f.mu.RUnlock()

	targetURL := string(ep) + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	reqCtx := ctx
	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, r.Method, targetURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	copyRequestHeaders(r, req, ec)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		detail := readErrorBody(resp)
		resp.Body.Close()
		return nil, &dispatcher.StatusError{
			Code: resp.StatusCode,
			Err:  fmt.Errorf("endpoint %s returned %d: %s", ec.Name, resp.StatusCode, detail),
		}
	}

	return resp, nil
}

// handleFailure 将调度错误映射为客户端响应并记录最终状态
func (f *Forwarder) handleFailure(w http.ResponseWriter, requestID, lastEndpoint string, attempts int, duration time.Duration, err error) {
	status := "failed"
	httpStatus := http.StatusBadGateway
	fatal := false
	exhausted := false

	var noResult *dispatcher.NoResultError
	var statusErr *dispatcher.StatusError
	switch {
	case errors.Is(err, dispatcher.ErrNoEndpointAvailable):
		httpStatus = http.StatusServiceUnavailable
		http.Error(w, "Service Unavailable: no endpoint available", httpStatus)

	case errors.As(err, &noResult):
		exhausted = true
		status = "exhausted"
		http.Error(w, "All endpoints failed: "+err.Error(), httpStatus)

	case errors.As(err, &statusErr):
		// 上游的致命错误原样传给客户端
		fatal = true
		httpStatus = statusErr.Code
		http.Error(w, statusErr.Error(), httpStatus)

	default:
		fatal = true
		http.Error(w, "Request failed: "+err.Error(), httpStatus)
	}

	f.metrics.RecordRequestFailure(duration, fatal, exhausted)
	f.tracker.RecordRequestComplete(requestID, tracking.RequestCompleteData{
		Status:        status,
		HTTPStatus:    httpStatus,
		EndpointName:  lastEndpoint,
		AttemptCount:  attempts,
		FailureReason: err.Error(),
		Duration:      duration,
	})

	f.logger.Warn(fmt.Sprintf("❌ [转发失败] [%s] 状态: %s, 尝试: %d, 耗时: %s, 错误: %v",
		requestID, status, attempts, utils.FormatResponseTime(duration), err))
}

// recordException 失败分类回调，发布端点异常事件
func (f *Forwarder) recordException(fatal bool, err error, ep endpoint.Endpoint) {
	name := f.EndpointName(ep)
	priority := events.PriorityNormal
	if fatal {
		priority = events.PriorityHigh
	}
	f.publishEvent(events.EventEndpointBad, priority, map[string]interface{}{
		"endpoint": name,
		"fatal":    fatal,
		"error":    err.Error(),
	})
}

// recordHealthChange 整体健康级别变化回调
func (f *Forwarder) recordHealthChange(level endpoint.Status) {
	f.logger.Warn(fmt.Sprintf("🩺 [健康级别] 整体健康级别变化 - 当前: %s", level))
	f.publishEvent(events.EventHealthLevelChanged, events.PriorityHigh, map[string]interface{}{
		"level": level.String(),
	})
}

func (f *Forwarder) publishEvent(eventType events.EventType, priority events.EventPriority, data map[string]interface{}) {
	f.mu.RLock()
	bus := f.eventBus
	f.mu.RUnlock()

	if bus == nil {
		return
	}
	bus.Publish(events.Event{
		Type:     eventType,
		Priority: priority,
		Source:   "forwarder",
		Data:     data,
	})
}

// copyRequestHeaders 复制并改写出站请求头
func copyRequestHeaders(src *http.Request, dst *http.Request, ec config.EndpointConfig) {
	skipHeaders := map[string]bool{
		"host":          true,
		"authorization": true,
	}

	for key, values := range src.Header {
		if skipHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Header.Add(key, value)
		}
	}

	if u, err := url.Parse(ec.URL); err == nil {
		dst.Host = u.Host
	}

	if ec.Token != "" {
		dst.Header.Set("Authorization", "Bearer "+ec.Token)
	}

	for key, value := range ec.Headers {
		dst.Header.Set(key, value)
	}

	for _, header := range hopByHopHeaders {
		dst.Header.Del(header)
	}
}

// copyResponseHeaders 复制上游响应头到客户端
func copyResponseHeaders(resp *http.Response, w http.ResponseWriter) {
	for key, values := range resp.Header {
		switch key {
		case "Content-Length", "Transfer-Encoding", "Connection":
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

// readErrorBody 读取并解压错误响应体用于诊断，限制长度
func readErrorBody(resp *http.Response) string {
	const maxErrorBody = 2048

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return ""
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
