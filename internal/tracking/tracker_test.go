package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTracker 创建指向临时SQLite文件的跟踪器，快速刷写便于断言
func newTestTracker(t *testing.T) *RequestTracker {
	t.Helper()

	cfg := &Config{
		Enabled:       true,
		DatabasePath:  filepath.Join(t.TempDir(), "test.db"),
		BufferSize:    100,
		BatchSize:     1, // 每条事件立即刷写
		FlushInterval: 50 * time.Millisecond,
	}

	rt, err := NewRequestTracker(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

// waitForRequest 轮询直到请求记录达到期望状态
func waitForRequest(t *testing.T, rt *RequestTracker, requestID, status string) RequestDetail {
	t.Helper()

	var detail RequestDetail
	require.Eventually(t, func() bool {
		details, err := rt.QueryRequestDetails(context.Background(), &QueryOptions{Limit: 10})
		if err != nil {
			return false
		}
		for _, d := range details {
			if d.RequestID == requestID && d.Status == status {
				detail = d
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "请求%s应该达到状态%s", requestID, status)
	return detail
}

func TestDisabledTrackerIsNoop(t *testing.T) {
	rt, err := NewRequestTracker(nil)
	require.NoError(t, err)
	assert.False(t, rt.Enabled())

	// 空实现下所有记录调用都应该安全
	rt.RecordRequestStart("req-1", "127.0.0.1", "POST", "/v1/dispatch")
	rt.RecordAttempt("req-1", AttemptData{AttemptNumber: 1})
	rt.RecordRequestComplete("req-1", RequestCompleteData{Status: "completed"})
	assert.NoError(t, rt.Close())
	assert.NoError(t, rt.HealthCheck(context.Background()))
}

func TestTrackerRequestLifecycle(t *testing.T) {
	rt := newTestTracker(t)
	require.True(t, rt.Enabled())

	rt.RecordRequestStart("req-abc", "192.168.1.10", "POST", "/v1/messages")
	rt.RecordAttempt("req-abc", AttemptData{
		AttemptNumber: 1,
		EndpointName:  "primary",
		StartTime:     time.Now(),
		Duration:      120 * time.Millisecond,
		Success:       false,
		FailureType:   "*errors.errorString",
		ErrorDetail:   "connection refused",
	})
	rt.RecordAttempt("req-abc", AttemptData{
		AttemptNumber: 2,
		EndpointName:  "secondary",
		StartTime:     time.Now(),
		Duration:      80 * time.Millisecond,
		Success:       true,
	})
	rt.RecordRequestComplete("req-abc", RequestCompleteData{
		Status:       "completed",
		HTTPStatus:   200,
		EndpointName: "secondary",
		AttemptCount: 2,
		Duration:     250 * time.Millisecond,
	})

	detail := waitForRequest(t, rt, "req-abc", "completed")
	assert.Equal(t, "192.168.1.10", detail.ClientIP)
	assert.Equal(t, "POST", detail.Method)
	assert.Equal(t, "/v1/messages", detail.Path)
	require.NotNil(t, detail.HTTPStatusCode)
	assert.Equal(t, 200, *detail.HTTPStatusCode)
	assert.Equal(t, "secondary", detail.EndpointName)
	assert.Equal(t, 2, detail.AttemptCount)

	attempts, err := rt.QueryAttempts(context.Background(), "req-abc")
	require.NoError(t, err)
	require.Len(t, attempts, 2, "两次尝试都应该落库")
	assert.Equal(t, "primary", attempts[0].EndpointName)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, "*errors.errorString", attempts[0].FailureType)
	assert.Equal(t, "secondary", attempts[1].EndpointName)
	assert.True(t, attempts[1].Success)
}

func TestTrackerFailedRequest(t *testing.T) {
	rt := newTestTracker(t)

	rt.RecordRequestStart("req-fail", "10.0.0.1", "GET", "/v1/status")
	rt.RecordRequestComplete("req-fail", RequestCompleteData{
		Status:        "exhausted",
		HTTPStatus:    502,
		AttemptCount:  3,
		FailureReason: "no result: all attempts failed",
		Duration:      time.Second,
	})

	detail := waitForRequest(t, rt, "req-fail", "exhausted")
	require.NotNil(t, detail.HTTPStatusCode)
	assert.Equal(t, 502, *detail.HTTPStatusCode)
	assert.Equal(t, "no result: all attempts failed", detail.FailureReason)
}

func TestTrackerCompleteWithoutStart(t *testing.T) {
	// 完成事件先于开始事件到达时不应该报错（UPDATE无匹配行）
	rt := newTestTracker(t)

	rt.RecordRequestComplete("req-orphan", RequestCompleteData{Status: "completed", HTTPStatus: 200})
	rt.RecordRequestStart("req-normal", "127.0.0.1", "GET", "/")
	rt.RecordRequestComplete("req-normal", RequestCompleteData{Status: "completed", HTTPStatus: 200})

	waitForRequest(t, rt, "req-normal", "completed")
}

func TestTrackerQueryFilters(t *testing.T) {
	rt := newTestTracker(t)

	rt.RecordRequestStart("req-1", "127.0.0.1", "GET", "/a")
	rt.RecordRequestComplete("req-1", RequestCompleteData{Status: "completed", HTTPStatus: 200, EndpointName: "primary"})
	rt.RecordRequestStart("req-2", "127.0.0.1", "GET", "/b")
	rt.RecordRequestComplete("req-2", RequestCompleteData{Status: "failed", HTTPStatus: 404, EndpointName: "primary"})

	waitForRequest(t, rt, "req-1", "completed")
	waitForRequest(t, rt, "req-2", "failed")

	completed, err := rt.QueryRequestDetails(context.Background(), &QueryOptions{Status: "completed", Limit: 10})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "req-1", completed[0].RequestID)

	limited, err := rt.QueryRequestDetails(context.Background(), &QueryOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1, "Limit应该限制返回行数")
}

func TestTrackerOverviewStats(t *testing.T) {
	rt := newTestTracker(t)

	rt.RecordRequestStart("req-ok", "127.0.0.1", "GET", "/")
	rt.RecordAttempt("req-ok", AttemptData{AttemptNumber: 1, EndpointName: "primary", Success: true})
	rt.RecordRequestComplete("req-ok", RequestCompleteData{Status: "completed", HTTPStatus: 200, EndpointName: "primary"})

	rt.RecordRequestStart("req-bad", "127.0.0.1", "GET", "/")
	rt.RecordAttempt("req-bad", AttemptData{AttemptNumber: 1, EndpointName: "primary", Success: false, FailureType: "timeout"})
	rt.RecordRequestComplete("req-bad", RequestCompleteData{Status: "failed", HTTPStatus: 404, EndpointName: "primary"})

	waitForRequest(t, rt, "req-ok", "completed")
	waitForRequest(t, rt, "req-bad", "failed")

	stats, err := rt.GetOverviewStats(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.CompletedRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
}

func TestTrackerHealthCheck(t *testing.T) {
	rt := newTestTracker(t)
	assert.NoError(t, rt.HealthCheck(context.Background()))
}

func TestTrackerDatabaseStats(t *testing.T) {
	rt := newTestTracker(t)

	rt.RecordRequestStart("req-1", "127.0.0.1", "GET", "/")
	rt.RecordRequestComplete("req-1", RequestCompleteData{Status: "completed", HTTPStatus: 200})
	waitForRequest(t, rt, "req-1", "completed")

	stats, err := rt.GetDatabaseStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRequests)
}

func TestTrackerCloseIdempotent(t *testing.T) {
	rt := newTestTracker(t)
	assert.NoError(t, rt.Close())
	assert.NoError(t, rt.Close(), "重复关闭应该是幂等的")
}
