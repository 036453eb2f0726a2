package events

import "time"

// 事件类型枚举
type EventType string

const (
	// 请求生命周期事件
	EventRequestStarted   EventType = "request_started"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"

	// 端点结果事件
	EventEndpointGood EventType = "endpoint_good"
	EventEndpointBad  EventType = "endpoint_bad"

	// 健康水平事件
	EventHealthLevelChanged EventType = "health_level_changed"

	// 系统级事件
	EventSystemError   EventType = "system_error"
	EventConfigChanged EventType = "config_changed"
)

// 事件优先级
type EventPriority int

const (
	PriorityLow      EventPriority = iota // 批量处理，如统计数据
	PriorityNormal                        // 延迟处理，如请求完成
	PriorityHigh                          // 立即处理，如健康水平变化
	PriorityCritical                      // 紧急处理，如系统错误
)

// 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // 事件来源组件
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
}

// 推送到SSE前端的事件类别映射
var EventTypeMapping = map[EventType]string{
	EventRequestStarted:     "request",
	EventRequestCompleted:   "request",
	EventRequestFailed:      "request",
	EventEndpointGood:       "endpoint",
	EventEndpointBad:        "endpoint",
	EventHealthLevelChanged: "health",
	EventSystemError:        "status",
	EventConfigChanged:      "config",
}
