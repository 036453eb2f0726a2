package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"failover-dispatcher/config"
	"failover-dispatcher/internal/events"
	"failover-dispatcher/internal/forwarder"
	"failover-dispatcher/internal/middleware"
	"failover-dispatcher/internal/monitor"
	"failover-dispatcher/internal/tracking"
	"failover-dispatcher/internal/transport"
	"failover-dispatcher/internal/web"
)

var (
	configPath  = flag.String("config", "config/example.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
	enableWeb   = flag.Bool("web", false, "Enable Web interface")
	webPort     = flag.Int("web-port", 8088, "Web interface port (default: 8088)")

	// Build-time variables (set via ldflags)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	startTime = time.Now()
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Failover Dispatcher\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	// Setup initial logger (will be updated when config is loaded)
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"})
	slog.SetDefault(logger)

	configWatcher, err := config.NewConfigWatcher(*configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration watcher: %v\n", err)
		os.Exit(1)
	}
	defer configWatcher.Close()

	cfg := configWatcher.GetConfig()

	// Apply Web configuration from command line
	if *enableWeb {
		cfg.Web.Enabled = true
	}
	if *webPort != 8088 { // 只有当用户显式指定了端口时才覆盖
		cfg.Web.Port = *webPort
	}

	logger = setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("🚀 Failover Dispatcher 启动中...",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config_file", *configPath,
		"endpoints_count", len(cfg.Endpoints),
		"strategy", cfg.Strategy.Type)

	if cfg.Proxy.Enabled {
		logger.Info("🔗 " + transport.GetProxyInfo(cfg))
	} else {
		logger.Info("🔗 代理未启用，将直接连接目标端点")
	}

	// Initialize EventBus
	eventBus := events.NewEventBus(logger)
	if err := eventBus.Start(); err != nil {
		logger.Error(fmt.Sprintf("❌ EventBus启动失败: %v", err))
		os.Exit(1)
	}
	defer func() {
		if err := eventBus.Stop(); err != nil {
			logger.Error(fmt.Sprintf("❌ EventBus关闭失败: %v", err))
		}
	}()

	// Initialize request tracker
	tracker, err := tracking.NewRequestTracker(tracking.NewConfig(cfg.Tracking))
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 请求跟踪器初始化失败: %v", err))
		os.Exit(1)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Error(fmt.Sprintf("❌ 请求跟踪器关闭失败: %v", err))
		}
	}()

	// Create metrics collector
	metrics := monitor.NewMetrics()

	// Create forwarder
	fwd, err := forwarder.NewForwarder(cfg, tracker, metrics, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 转发器初始化失败: %v", err))
		os.Exit(1)
	}
	fwd.SetEventBus(eventBus)

	// Create middleware chain
	loggingMiddleware := middleware.NewLoggingMiddleware(logger)
	monitoringMiddleware := middleware.NewMonitoringMiddleware(metrics, logger)
	monitoringMiddleware.SetEventBus(eventBus)
	loggingMiddleware.SetMonitoringMiddleware(monitoringMiddleware)

	var webServer *web.WebServer

	// Setup configuration reload callback to update components
	configWatcher.AddReloadCallback(func(newCfg *config.Config) {
		newLogger := setupLogger(newCfg.Logging)
		slog.SetDefault(newLogger)

		if err := fwd.Rebuild(newCfg); err != nil {
			newLogger.Error(fmt.Sprintf("❌ 转发器配置更新失败: %v", err))
			return
		}

		if webServer != nil {
			webServer.UpdateConfig(newCfg)
		}

		eventBus.Publish(events.Event{
			Type:     events.EventConfigChanged,
			Priority: events.PriorityHigh,
			Source:   "main",
			Data: map[string]interface{}{
				"endpoints_count": len(newCfg.Endpoints),
				"strategy":        newCfg.Strategy.Type,
			},
		})

		newLogger.Info("🔄 所有组件已更新为新配置")
	})

	logger.Info("🔄 配置文件自动重载已启用")

	// Setup HTTP server
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := tracker.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "Tracker unhealthy: %v", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/", loggingMiddleware.Wrap(fwd))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 HTTP 服务器启动中...",
			"address", server.Addr,
			"endpoints_count", len(cfg.Endpoints))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Give server a moment to start
	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-serverErr:
		logger.Error(fmt.Sprintf("❌ 服务器启动失败: %v", err))
		os.Exit(1)
	default:
		logger.Info("✅ 服务器启动成功！")
		logger.Info(fmt.Sprintf("📡 服务器地址: http://%s:%d", cfg.Server.Host, cfg.Server.Port))
	}

	// Start Web server if enabled
	if cfg.Web.Enabled {
		webServer = web.NewWebServer(cfg, fwd, monitoringMiddleware, metrics, tracker, logger, startTime, *configPath)
		eventBus.SetBroadcaster(webServer)
		if err := webServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("❌ Web服务器启动失败: %v", err))
		}
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error(fmt.Sprintf("❌ 服务器运行时错误: %v", err))
		os.Exit(1)
	case sig := <-interrupt:
		logger.Info(fmt.Sprintf("📡 收到终止信号，开始优雅关闭... - 信号: %v", sig))
	}

	logger.Info("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if webServer != nil {
		webServer.Stop(ctx)
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(fmt.Sprintf("❌ 服务器关闭失败: %v", err))
		os.Exit(1)
	}

	logger.Info("✅ 服务器已安全关闭")
}

// setupLogger configures the structured logger
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
