package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderInitialStatus(t *testing.T) {
	eps := []Endpoint{"http://a", "http://b"}
	r := WithStats(NewRoundRobin(eps), eps)

	stats := r.GetStats()
	require.Len(t, stats, 2, "统计应该覆盖全部配置端点")
	for _, s := range stats {
		assert.Equal(t, StatusUnknown, s, "首次尝试前状态应该是unknown")
	}
}

func TestRecorderStatusTransitions(t *testing.T) {
	eps := []Endpoint{"http://a"}
	r := WithStats(NewRoundRobin(eps), eps)
	now := time.Now()

	r.Good("http://a", now, now.Add(50*time.Millisecond))
	assert.Equal(t, StatusHealthy, r.GetStats()["http://a"])

	r.Bad("http://a", now, now)
	assert.Equal(t, StatusDegraded, r.GetStats()["http://a"], "单次失败应该降级")

	r.Bad("http://a", now, now)
	assert.Equal(t, StatusDegraded, r.GetStats()["http://a"])

	r.Bad("http://a", now, now)
	assert.Equal(t, StatusUnhealthy, r.GetStats()["http://a"], "连续三次失败应该标记为不健康")

	r.Good("http://a", now, now)
	assert.Equal(t, StatusHealthy, r.GetStats()["http://a"], "成功应该重置连续失败计数")
}

func TestRecorderCounters(t *testing.T) {
	eps := []Endpoint{"http://a"}
	r := WithStats(NewRoundRobin(eps), eps)
	now := time.Now()

	r.Good("http://a", now, now.Add(100*time.Millisecond))
	r.Bad("http://a", now, now.Add(200*time.Millisecond))
	r.Bad("http://a", now, now.Add(300*time.Millisecond))

	snap := r.Snapshot()["http://a"]
	assert.Equal(t, int64(1), snap.GoodCount)
	assert.Equal(t, int64(2), snap.BadCount)
	assert.Equal(t, 2, snap.ConsecutiveFails)
	assert.Equal(t, 300*time.Millisecond, snap.LastDuration)
}

func TestRecorderDelegatesToInner(t *testing.T) {
	eps := []Endpoint{"http://primary", "http://secondary"}
	inner := NewPriority([]PriorityEndpoint{
		{Endpoint: "http://primary", Priority: 1},
		{Endpoint: "http://secondary", Priority: 2},
	}, time.Minute)
	r := WithStats(inner, eps)

	ep, _ := r.Next()
	require.Equal(t, Endpoint("http://primary"), ep, "选择应该完全委托给内层策略")

	// Bad同时进入内层冷却和外层统计
	now := time.Now()
	r.Bad("http://primary", now, now)

	ep, _ = r.Next()
	assert.Equal(t, Endpoint("http://secondary"), ep)
	assert.Equal(t, StatusDegraded, r.GetStats()["http://primary"])
}

func TestRecorderTracksUnknownEndpoint(t *testing.T) {
	eps := []Endpoint{"http://a"}
	r := WithStats(NewRoundRobin(eps), eps)
	now := time.Now()

	// 策略可以报告预填充集合之外的端点
	r.Good("http://late-arrival", now, now)
	assert.Equal(t, StatusHealthy, r.GetStats()["http://late-arrival"])
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
}
