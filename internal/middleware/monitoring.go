package middleware

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"failover-dispatcher/internal/events"
	"failover-dispatcher/internal/monitor"
)

// ActiveRequest tracks an in-flight request
type ActiveRequest struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	ClientIP  string    `json:"client_ip"`
	StartTime time.Time `json:"start_time"`
}

// MonitoringMiddleware bridges the request chain to the metrics collector
// and the event bus.
type MonitoringMiddleware struct {
	metrics  *monitor.Metrics
	eventBus events.EventBus
	logger   *slog.Logger

	mu     sync.RWMutex
	active map[string]*ActiveRequest
}

// NewMonitoringMiddleware creates a new monitoring middleware
func NewMonitoringMiddleware(metrics *monitor.Metrics, logger *slog.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		logger:  logger,
		active:  make(map[string]*ActiveRequest),
	}
}

// SetEventBus sets the event bus for broadcasting request lifecycle events
func (mm *MonitoringMiddleware) SetEventBus(bus events.EventBus) {
	mm.eventBus = bus
}

// RecordRequestStart registers an in-flight request and publishes a start event
func (mm *MonitoringMiddleware) RecordRequestStart(requestID, method, path, clientIP string) {
	mm.mu.Lock()
	mm.active[requestID] = &ActiveRequest{
		ID:        requestID,
		Method:    method,
		Path:      path,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
	mm.mu.Unlock()

	mm.metrics.RecordRequestStart()

	if mm.eventBus != nil {
		mm.eventBus.Publish(events.Event{
			Type:     events.EventRequestStarted,
			Priority: events.PriorityLow,
			Source:   "middleware",
			Data: map[string]interface{}{
				"request_id": requestID,
				"method":     method,
				"path":       path,
				"client_ip":  clientIP,
			},
		})
	}
}

// RecordRequestDone finalizes an in-flight request
func (mm *MonitoringMiddleware) RecordRequestDone(requestID string, statusCode int, duration time.Duration) {
	mm.mu.Lock()
	delete(mm.active, requestID)
	mm.mu.Unlock()

	eventType := events.EventRequestCompleted
	priority := events.PriorityLow
	if statusCode >= 500 {
		eventType = events.EventRequestFailed
		priority = events.PriorityHigh
		mm.logger.Debug(fmt.Sprintf("📊 [监控] 请求失败记录 - ID: %s, 状态: %d", requestID, statusCode))
	}

	if mm.eventBus != nil {
		mm.eventBus.Publish(events.Event{
			Type:     eventType,
			Priority: priority,
			Source:   "middleware",
			Data: map[string]interface{}{
				"request_id":  requestID,
				"status_code": statusCode,
				"duration_ms": duration.Milliseconds(),
			},
		})
	}
}

// GetActiveRequests returns a snapshot of currently in-flight requests
func (mm *MonitoringMiddleware) GetActiveRequests() []*ActiveRequest {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	result := make([]*ActiveRequest, 0, len(mm.active))
	for _, req := range mm.active {
		copied := *req
		result = append(result, &copied)
	}
	return result
}

// GetActiveRequestCount returns the number of in-flight requests
func (mm *MonitoringMiddleware) GetActiveRequestCount() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return len(mm.active)
}
