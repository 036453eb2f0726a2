package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"failover-dispatcher/internal/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDInjection(t *testing.T) {
	lm := NewLoggingMiddleware(testLogger())

	var gotID string
	handler := lm.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, gotID, 8, "请求ID应该是8位短ID")

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	second := gotID
	assert.NotEmpty(t, second)
}

func TestRequestIDFromContextMissing(t *testing.T) {
	assert.Equal(t, "unknown", RequestIDFromContext(context.Background()),
		"未注入时应该返回unknown占位符")
}

func TestWrapPreservesResponse(t *testing.T) {
	lm := NewLoggingMiddleware(testLogger())

	handler := lm.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code, "包装不应该改变状态码")
	assert.Equal(t, "short and stout", rec.Body.String(), "包装不应该改变响应体")
}

func TestWrapDefaultStatus(t *testing.T) {
	lm := NewLoggingMiddleware(testLogger())

	handler := lm.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitoringActiveRequests(t *testing.T) {
	mm := NewMonitoringMiddleware(monitor.NewMetrics(), testLogger())

	mm.RecordRequestStart("req-1", "POST", "/v1/messages", "10.0.0.1")
	mm.RecordRequestStart("req-2", "GET", "/v1/status", "10.0.0.2")
	assert.Equal(t, 2, mm.GetActiveRequestCount())

	active := mm.GetActiveRequests()
	require.Len(t, active, 2)

	mm.RecordRequestDone("req-1", http.StatusOK, 100*time.Millisecond)
	assert.Equal(t, 1, mm.GetActiveRequestCount(), "完成的请求应该从活跃列表移除")

	mm.RecordRequestDone("req-2", http.StatusBadGateway, 200*time.Millisecond)
	assert.Equal(t, 0, mm.GetActiveRequestCount())
}

func TestMonitoringDoneWithoutStart(t *testing.T) {
	mm := NewMonitoringMiddleware(monitor.NewMetrics(), testLogger())
	// 未知请求的完成通知不应该panic
	mm.RecordRequestDone("req-ghost", http.StatusOK, time.Millisecond)
	assert.Equal(t, 0, mm.GetActiveRequestCount())
}

func TestLoggingFeedsMonitoring(t *testing.T) {
	metrics := monitor.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, testLogger())
	lm := NewLoggingMiddleware(testLogger())
	lm.SetMonitoringMiddleware(mm)

	var during int
	handler := lm.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = mm.GetActiveRequestCount()
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/messages", nil))

	assert.Equal(t, 1, during, "处理期间请求应该在活跃列表中")
	assert.Equal(t, 0, mm.GetActiveRequestCount(), "处理结束后应该移除")
	assert.Equal(t, int64(1), metrics.GetSnapshot().TotalRequests)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(r), "应该取X-Forwarded-For的第一跳")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getClientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotEmpty(t, getClientIP(r), "无代理头时回落到RemoteAddr")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "2.0KB", formatBytes(2048))
	assert.Equal(t, "1.5MB", formatBytes(1572864))
}
