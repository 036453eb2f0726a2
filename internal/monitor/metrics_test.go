package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRequestCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRequestStart()
	m.RecordRequestStart()
	m.RecordRequestStart()
	m.RecordRequestSuccess(100 * time.Millisecond)
	m.RecordRequestFailure(200*time.Millisecond, true, false)
	m.RecordRequestFailure(300*time.Millisecond, false, true)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(2), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.FatalFailures)
	assert.Equal(t, int64(1), snap.ExhaustedRequests)
	assert.Equal(t, 100*time.Millisecond, snap.MinResponseTime)
	assert.Equal(t, 300*time.Millisecond, snap.MaxResponseTime)
	assert.Equal(t, 200*time.Millisecond, snap.AvgResponseTime)
}

func TestMetricsAttemptTracking(t *testing.T) {
	m := NewMetrics()

	m.RecordAttempt("primary", 50*time.Millisecond, true, "")
	m.RecordAttempt("primary", 150*time.Millisecond, false, "*url.Error")
	m.RecordAttempt("secondary", 80*time.Millisecond, true, "")

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalAttempts)
	assert.Equal(t, int64(1), snap.FailuresByType["*url.Error"])

	primary, ok := snap.Endpoints["primary"]
	require.True(t, ok)
	assert.Equal(t, int64(2), primary.TotalAttempts)
	assert.Equal(t, int64(1), primary.SuccessfulAttempts)
	assert.Equal(t, int64(1), primary.FailedAttempts)
	assert.Equal(t, 50*time.Millisecond, primary.MinResponseTime)
	assert.Equal(t, 150*time.Millisecond, primary.MaxResponseTime)
}

func TestMetricsHealthCheckSkips(t *testing.T) {
	m := NewMetrics()
	m.RecordHealthCheckSkip()
	m.RecordHealthCheckSkip()
	assert.Equal(t, int64(2), m.GetSnapshot().HealthCheckSkips)
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics()
	m.RecordAttempt("primary", time.Millisecond, false, "timeout")

	snap := m.GetSnapshot()
	snap.FailuresByType["timeout"] = 999

	assert.Equal(t, int64(1), m.GetSnapshot().FailuresByType["timeout"],
		"快照应该是深拷贝")
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordRequestStart()
				m.RecordAttempt("ep", time.Millisecond, j%2 == 0, "err")
				m.RecordRequestSuccess(time.Millisecond)
				_ = m.GetSnapshot()
			}
		}()
	}
	wg.Wait()

	snap := m.GetSnapshot()
	assert.Equal(t, int64(1000), snap.TotalRequests)
	assert.Equal(t, int64(1000), snap.TotalAttempts)
}
