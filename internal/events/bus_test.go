package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockBroadcaster 记录广播调用的测试广播器
type mockBroadcaster struct {
	mu     sync.Mutex
	active bool
	events []string
}

func (m *mockBroadcaster) BroadcastEvent(eventType string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *mockBroadcaster) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *mockBroadcaster) broadcasts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

func TestPublishBeforeStartDropsEvent(t *testing.T) {
	bus := NewEventBus(testLogger())

	bus.Publish(Event{Type: EventRequestStarted, Source: "test"})

	stats := bus.GetStats()
	assert.Equal(t, int64(0), stats.TotalEvents, "未启动时事件应该被静默丢弃")
}

func TestPublishAndProcess(t *testing.T) {
	bus := NewEventBus(testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	broadcaster := &mockBroadcaster{active: true}
	bus.SetBroadcaster(broadcaster)

	bus.Publish(Event{Type: EventConfigChanged, Source: "test", Priority: PriorityHigh})

	// 等待异步处理
	require.Eventually(t, func() bool {
		return bus.GetStats().ProcessedEvents == 1
	}, time.Second, 10*time.Millisecond, "事件应该被异步处理")

	assert.Equal(t, []string{"config"}, broadcaster.broadcasts(), "事件类型应该映射到前端类别")

	stats := bus.GetStats()
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsByType[EventConfigChanged])
}

func TestInactiveBroadcasterSkipped(t *testing.T) {
	bus := NewEventBus(testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	broadcaster := &mockBroadcaster{active: false}
	bus.SetBroadcaster(broadcaster)

	bus.Publish(Event{Type: EventConfigChanged, Source: "test"})

	require.Eventually(t, func() bool {
		return bus.GetStats().ProcessedEvents == 1
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, broadcaster.broadcasts(), "没有活跃订阅方时不应该广播")
}

func TestRateLimiting(t *testing.T) {
	bus := NewEventBus(testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	broadcaster := &mockBroadcaster{active: true}
	bus.SetBroadcaster(broadcaster)

	// 端点事件限流1秒：快速发布多条，只有第一条会被推送
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventEndpointBad, Source: "test"})
	}

	require.Eventually(t, func() bool {
		return bus.GetStats().ProcessedEvents == 5
	}, time.Second, 10*time.Millisecond)

	assert.Len(t, broadcaster.broadcasts(), 1, "限流窗口内的重复事件应该被抑制")
}

func TestCriticalEventsNotRateLimited(t *testing.T) {
	bus := NewEventBus(testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	broadcaster := &mockBroadcaster{active: true}
	bus.SetBroadcaster(broadcaster)

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventHealthLevelChanged, Source: "test", Priority: PriorityHigh})
	}

	require.Eventually(t, func() bool {
		return len(broadcaster.broadcasts()) == 3
	}, time.Second, 10*time.Millisecond, "健康水平事件不限流，应该全部推送")
}

func TestStartStopIdempotent(t *testing.T) {
	bus := NewEventBus(testLogger())

	require.NoError(t, bus.Start())
	require.NoError(t, bus.Start(), "重复启动应该是幂等的")
	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop(), "重复停止应该是幂等的")
}

func TestGetStatsReturnsCopy(t *testing.T) {
	bus := NewEventBus(testLogger())
	require.NoError(t, bus.Start())
	defer bus.Stop()

	bus.Publish(Event{Type: EventRequestStarted, Source: "test"})

	stats := bus.GetStats()
	stats.EventsByType[EventRequestStarted] = 999

	assert.NotEqual(t, int64(999), bus.GetStats().EventsByType[EventRequestStarted],
		"统计应该返回副本，外部修改不影响内部状态")
}
