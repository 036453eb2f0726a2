package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"failover-dispatcher/config"
	"failover-dispatcher/internal/forwarder"
	"failover-dispatcher/internal/middleware"
	"failover-dispatcher/internal/monitor"
	"failover-dispatcher/internal/tracking"
)

// sseMessage 推送给单个SSE客户端的消息
type sseMessage struct {
	EventType string
	Data      map[string]interface{}
}

// WebServer serves the status API and the SSE event stream
type WebServer struct {
	server     *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
	config     *config.Config
	fwd        *forwarder.Forwarder
	monitoring *middleware.MonitoringMiddleware
	metrics    *monitor.Metrics
	tracker    *tracking.RequestTracker
	startTime  time.Time
	configPath string

	clientsMu sync.RWMutex
	clients   map[string]chan sseMessage
	configMu  sync.RWMutex
}

// NewWebServer creates a new status web server
func NewWebServer(cfg *config.Config, fwd *forwarder.Forwarder, monitoring *middleware.MonitoringMiddleware, metrics *monitor.Metrics, tracker *tracking.RequestTracker, logger *slog.Logger, startTime time.Time, configPath string) *WebServer {
	// 设置gin为release模式以减少日志输出
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(ginLoggerMiddleware(logger))
	engine.Use(gin.Recovery())

	ws := &WebServer{
		engine:     engine,
		logger:     logger,
		config:     cfg,
		fwd:        fwd,
		monitoring: monitoring,
		metrics:    metrics,
		tracker:    tracker,
		startTime:  startTime,
		configPath: configPath,
		clients:    make(map[string]chan sseMessage),
	}

	ws.setupRoutes()

	return ws
}

// Start 启动Web服务器
func (ws *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", ws.config.Web.Host, ws.config.Web.Port)

	ws.server = &http.Server{
		Addr:         addr,
		Handler:      ws.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE连接需要禁用写入超时
		IdleTimeout:  300 * time.Second,
	}

	ws.logger.Info(fmt.Sprintf("🌐 Web界面启动中... - 地址: %s", addr))

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error(fmt.Sprintf("❌ Web服务器启动失败: %v", err))
		}
	}()

	ws.logger.Info(fmt.Sprintf("✅ Web界面启动成功！访问地址: http://%s", addr))
	return nil
}

// Stop 优雅关闭Web服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}

	ws.logger.Info("🛑 正在关闭Web服务器...")

	ws.clientsMu.Lock()
	for id, ch := range ws.clients {
		close(ch)
		delete(ws.clients, id)
	}
	ws.clientsMu.Unlock()

	err := ws.server.Shutdown(ctx)
	if err != nil {
		ws.logger.Error(fmt.Sprintf("❌ Web服务器关闭失败: %v", err))
	} else {
		ws.logger.Info("✅ Web服务器已安全关闭")
	}

	return err
}

// UpdateConfig 更新配置并向订阅方广播
func (ws *WebServer) UpdateConfig(newConfig *config.Config) {
	ws.configMu.Lock()
	ws.config = newConfig
	ws.configMu.Unlock()

	ws.logger.Info("🔄 Web服务器配置已更新")

	ws.BroadcastEvent("config", map[string]interface{}{
		"event":     "config_updated",
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
}

// setupRoutes 设置路由
func (ws *WebServer) setupRoutes() {
	ws.engine.GET("/", ws.handleIndex)

	api := ws.engine.Group("/api/v1")
	{
		api.GET("/status", ws.handleStatus)
		api.GET("/endpoints", ws.handleEndpoints)
		api.GET("/stats", ws.handleStats)
		api.GET("/config", ws.handleConfig)
		api.GET("/requests", ws.handleRequests)
		api.GET("/requests/active", ws.handleActiveRequests)
		api.GET("/requests/:id/attempts", ws.handleRequestAttempts)
		api.GET("/events/stream", ws.handleSSE)
	}
}

// BroadcastEvent 实现events.Broadcaster，将事件推送给所有SSE客户端
func (ws *WebServer) BroadcastEvent(eventType string, data map[string]interface{}) {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for id, ch := range ws.clients {
		select {
		case ch <- sseMessage{EventType: eventType, Data: data}:
		default:
			// 客户端消费过慢，丢弃事件
			ws.logger.Debug("SSE客户端缓冲区满，丢弃事件", "client_id", id, "event_type", eventType)
		}
	}
}

// IsActive 实现events.Broadcaster
func (ws *WebServer) IsActive() bool {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients) > 0
}

// registerClient 注册SSE客户端
func (ws *WebServer) registerClient(id string) chan sseMessage {
	ch := make(chan sseMessage, 64)
	ws.clientsMu.Lock()
	ws.clients[id] = ch
	ws.clientsMu.Unlock()
	return ch
}

// unregisterClient 注销SSE客户端
func (ws *WebServer) unregisterClient(id string) {
	ws.clientsMu.Lock()
	if ch, ok := ws.clients[id]; ok {
		close(ch)
		delete(ws.clients, id)
	}
	ws.clientsMu.Unlock()
}

// ginLoggerMiddleware 创建gin的日志中间件
func ginLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if c.Request.Method != "GET" || (!strings.Contains(path, "/static") && path != "/favicon.ico") {
			clientIP := c.ClientIP()
			method := c.Request.Method
			statusCode := c.Writer.Status()

			if raw != "" {
				path = path + "?" + raw
			}

			if statusCode >= 400 {
				logger.Warn(fmt.Sprintf("🌐 Web请求 %s %s %d %v %s",
					method, path, statusCode, latency, clientIP))
			} else {
				logger.Debug(fmt.Sprintf("🌐 Web请求 %s %s %d %v %s",
					method, path, statusCode, latency, clientIP))
			}
		}
	}
}
