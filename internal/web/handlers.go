package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"failover-dispatcher/internal/endpoint"
	"failover-dispatcher/internal/tracking"
	"failover-dispatcher/internal/utils"
)

func endpointKey(url string) endpoint.Endpoint {
	return endpoint.Endpoint(url)
}

func (ws *WebServer) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "failover-dispatcher",
		"uptime":  utils.FormatUptime(time.Since(ws.startTime)),
		"links": gin.H{
			"status":    "/api/v1/status",
			"endpoints": "/api/v1/endpoints",
			"stats":     "/api/v1/stats",
			"requests":  "/api/v1/requests",
			"events":    "/api/v1/events/stream",
		},
	})
}

func (ws *WebServer) handleStatus(c *gin.Context) {
	ws.configMu.RLock()
	cfg := ws.config
	ws.configMu.RUnlock()

	stats := ws.fwd.GetStats()
	healthy := 0
	for _, status := range stats {
		if status.String() == "healthy" {
			healthy++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "running",
		"uptime":            utils.FormatUptime(time.Since(ws.startTime)),
		"start_time":        ws.startTime.Format("2006-01-02 15:04:05"),
		"config_file":       ws.configPath,
		"strategy":          cfg.Strategy.Type,
		"endpoint_count":    len(stats),
		"healthy_endpoints": healthy,
		"active_requests":   ws.monitoring.GetActiveRequestCount(),
		"tracking_enabled":  ws.tracker.Enabled(),
	})
}

func (ws *WebServer) handleEndpoints(c *gin.Context) {
	ws.configMu.RLock()
	cfg := ws.config
	ws.configMu.RUnlock()

	stats := ws.fwd.GetStats()

	endpointData := make([]gin.H, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		status := "unknown"
		if s, ok := stats[endpointKey(ec.URL)]; ok {
			status = s.String()
		}
		endpointData = append(endpointData, gin.H{
			"name":     ec.Name,
			"url":      ec.URL,
			"priority": ec.Priority,
			"status":   status,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoints": endpointData,
		"total":     len(endpointData),
	})
}

func (ws *WebServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, ws.metrics.GetSnapshot())
}

func (ws *WebServer) handleConfig(c *gin.Context) {
	ws.configMu.RLock()
	cfg := ws.config
	ws.configMu.RUnlock()

	// 端点令牌不对外暴露
	endpoints := make([]gin.H, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		endpoints = append(endpoints, gin.H{
			"name":     ec.Name,
			"url":      ec.URL,
			"priority": ec.Priority,
			"timeout":  ec.Timeout.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"server":    cfg.Server,
		"strategy":  cfg.Strategy,
		"retry":     cfg.Retry,
		"health":    cfg.Health,
		"web":       cfg.Web,
		"endpoints": endpoints,
	})
}

func (ws *WebServer) handleRequests(c *gin.Context) {
	if !ws.tracker.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request tracking not enabled"})
		return
	}

	opts := &tracking.QueryOptions{
		Status:       c.Query("status"),
		EndpointName: c.Query("endpoint"),
		Limit:        parseIntQuery(c, "limit", 50),
		Offset:       parseIntQuery(c, "offset", 0),
	}

	if hours := parseIntQuery(c, "hours", 0); hours > 0 {
		start := time.Now().Add(-time.Duration(hours) * time.Hour)
		opts.StartDate = &start
	}

	details, err := ws.tracker.QueryRequestDetails(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": details,
		"count":    len(details),
	})
}

func (ws *WebServer) handleActiveRequests(c *gin.Context) {
	active := ws.monitoring.GetActiveRequests()
	c.JSON(http.StatusOK, gin.H{
		"requests": active,
		"count":    len(active),
	})
}

func (ws *WebServer) handleRequestAttempts(c *gin.Context) {
	if !ws.tracker.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request tracking not enabled"})
		return
	}

	requestID := c.Param("id")
	attempts, err := ws.tracker.QueryAttempts(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"attempts":   attempts,
		"count":      len(attempts),
	})
}

// handleSSE 事件流接口，向客户端推送实时事件
func (ws *WebServer) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	clientID := uuid.NewString()[:8]
	ch := ws.registerClient(clientID)
	defer ws.unregisterClient(clientID)

	ws.logger.Debug("📡 SSE客户端已连接", "client_id", clientID)

	// 初始事件
	if err := writeSSEEvent(c, "connected", map[string]interface{}{
		"client_id": clientID,
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(c, msg.EventType, msg.Data); err != nil {
				ws.logger.Debug("📡 SSE写入失败，断开客户端", "client_id", clientID, "error", err)
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			ws.logger.Debug("📡 SSE客户端已断开", "client_id", clientID)
			return
		}
	}
}

func writeSSEEvent(c *gin.Context, eventType string, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, payload)
	return err
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := c.Query(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
