package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPriorityEndpoints() []PriorityEndpoint {
	return []PriorityEndpoint{
		{Endpoint: "http://backup", Priority: 3},
		{Endpoint: "http://primary", Priority: 1},
		{Endpoint: "http://secondary", Priority: 2},
	}
}

func TestPriorityPrefersLowestNumber(t *testing.T) {
	p := NewPriority(testPriorityEndpoints(), time.Minute)

	for i := 0; i < 3; i++ {
		ep, check := p.Next()
		assert.Equal(t, Endpoint("http://primary"), ep, "没有失败时应该始终选择主端点")
		assert.False(t, check)
	}
}

func TestPriorityCooldownFallsThrough(t *testing.T) {
	p := NewPriority(testPriorityEndpoints(), time.Minute)
	now := time.Now()

	p.Bad("http://primary", now, now)
	ep, _ := p.Next()
	assert.Equal(t, Endpoint("http://secondary"), ep, "主端点冷却期间应该降级到次端点")

	p.Bad("http://secondary", now, now)
	ep, _ = p.Next()
	assert.Equal(t, Endpoint("http://backup"), ep, "次端点也冷却时应该继续降级")

	p.Bad("http://backup", now, now)
	ep, _ = p.Next()
	assert.Equal(t, Endpoint(""), ep, "全部冷却时应该返回空端点信号")
}

func TestPriorityGoodClearsCooldown(t *testing.T) {
	p := NewPriority(testPriorityEndpoints(), time.Minute)
	now := time.Now()

	p.Bad("http://primary", now, now)
	ep, _ := p.Next()
	require.Equal(t, Endpoint("http://secondary"), ep)

	p.Good("http://primary", now, now)
	ep, _ = p.Next()
	assert.Equal(t, Endpoint("http://primary"), ep, "Good上报应该立即解除冷却")
}

func TestPriorityCooldownExpires(t *testing.T) {
	p := NewPriority(testPriorityEndpoints(), 10*time.Millisecond)
	now := time.Now()

	// 用过期的失败时间模拟冷却窗口已过
	p.Bad("http://primary", now.Add(-time.Second), now.Add(-time.Second))
	ep, _ := p.Next()
	assert.Equal(t, Endpoint("http://primary"), ep, "冷却窗口过期后应该恢复主端点")
}

func TestPriorityZeroCooldownNeverDegrades(t *testing.T) {
	p := NewPriority(testPriorityEndpoints(), 0)
	now := time.Now()

	p.Bad("http://primary", now, now)
	ep, _ := p.Next()
	assert.Equal(t, Endpoint("http://primary"), ep, "冷却为0时失败不应该触发降级")
}

func TestPriorityStableSortOnTies(t *testing.T) {
	p := NewPriority([]PriorityEndpoint{
		{Endpoint: "http://first", Priority: 1},
		{Endpoint: "http://second", Priority: 1},
	}, time.Minute)

	ep, _ := p.Next()
	assert.Equal(t, Endpoint("http://first"), ep, "同优先级应该保持配置顺序")

	now := time.Now()
	p.Bad("http://first", now, now)
	ep, _ = p.Next()
	assert.Equal(t, Endpoint("http://second"), ep)
}
