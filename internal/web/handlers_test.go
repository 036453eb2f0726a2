package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"failover-dispatcher/config"
	"failover-dispatcher/internal/forwarder"
	"failover-dispatcher/internal/middleware"
	"failover-dispatcher/internal/monitor"
	"failover-dispatcher/internal/tracking"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWebServer 构建指向单个测试上游的Web服务器（不监听端口）
func newTestWebServer(t *testing.T, upstreamURL string) *WebServer {
	t.Helper()

	cfg := &config.Config{
		Strategy: config.StrategyConfig{Type: "priority", Cooldown: time.Minute},
		Endpoints: []config.EndpointConfig{
			{Name: "primary", URL: upstreamURL, Priority: 1, Token: "sk-secret"},
		},
		Web: config.WebConfig{Enabled: true, Host: "localhost", Port: 8088},
	}

	tracker, err := tracking.NewRequestTracker(nil)
	require.NoError(t, err)

	metrics := monitor.NewMetrics()
	fwd, err := forwarder.NewForwarder(cfg, tracker, metrics, testLogger())
	require.NoError(t, err)

	monitoring := middleware.NewMonitoringMiddleware(metrics, testLogger())

	return NewWebServer(cfg, fwd, monitoring, metrics, tracker, testLogger(), time.Now(), "config/test.yaml")
}

// apiGet 通过gin引擎直接派发请求并解析JSON响应
func apiGet(t *testing.T, ws *WebServer, path string) (int, map[string]interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	ws.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "响应应该是合法JSON")
	return rec.Code, body
}

func TestHandleIndex(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	code, body := apiGet(t, ws, "/")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failover-dispatcher", body["service"])
	assert.Contains(t, body, "links")
}

func TestHandleStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	code, body := apiGet(t, ws, "/api/v1/status")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "priority", body["strategy"])
	assert.Equal(t, float64(1), body["endpoint_count"])
	assert.Equal(t, float64(0), body["active_requests"])
	assert.Equal(t, false, body["tracking_enabled"])
}

func TestHandleEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	code, body := apiGet(t, ws, "/api/v1/endpoints")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	endpoints := body["endpoints"].([]interface{})
	first := endpoints[0].(map[string]interface{})
	assert.Equal(t, "primary", first["name"])
	assert.Equal(t, upstream.URL, first["url"])
	assert.Equal(t, "unknown", first["status"], "首次尝试前端点状态应该是unknown")
}

func TestHandleStats(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	ws.metrics.RecordRequestStart()
	ws.metrics.RecordRequestSuccess(100 * time.Millisecond)

	code, body := apiGet(t, ws, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total_requests"])
	assert.Equal(t, float64(1), body["successful_requests"])
}

func TestHandleConfigHidesTokens(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	rec := httptest.NewRecorder()
	ws.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret", "端点令牌不应该出现在配置接口中")
}

func TestHandleRequestsTrackingDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)

	code, body := apiGet(t, ws, "/api/v1/requests")
	assert.Equal(t, http.StatusServiceUnavailable, code, "跟踪未启用时应该返回503")
	assert.Contains(t, body["error"], "not enabled")

	code, _ = apiGet(t, ws, "/api/v1/requests/abc/attempts")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHandleActiveRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	ws.monitoring.RecordRequestStart("req-1", "POST", "/v1/messages", "10.0.0.1")

	code, body := apiGet(t, ws, "/api/v1/requests/active")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
}

func TestBroadcasterLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	ws := newTestWebServer(t, upstream.URL)
	assert.False(t, ws.IsActive(), "无客户端时不活跃")

	ch := ws.registerClient("test-client")
	assert.True(t, ws.IsActive())

	ws.BroadcastEvent("request", map[string]interface{}{"request_id": "req-1"})
	select {
	case msg := <-ch:
		assert.Equal(t, "request", msg.EventType)
		assert.Equal(t, "req-1", msg.Data["request_id"])
	case <-time.After(time.Second):
		t.Fatal("广播事件应该到达已注册客户端")
	}

	ws.unregisterClient("test-client")
	assert.False(t, ws.IsActive())

	_, open := <-ch
	assert.False(t, open, "注销后通道应该被关闭")
}
