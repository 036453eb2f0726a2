package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig     `yaml:"server"`
	Strategy      StrategyConfig   `yaml:"strategy"`
	Retry         RetryConfig      `yaml:"retry"`
	Health        HealthConfig     `yaml:"health"`
	Logging       LoggingConfig    `yaml:"logging"`
	Tracking      TrackingConfig   `yaml:"tracking"`
	Web           WebConfig        `yaml:"web"`
	Proxy         ProxyConfig      `yaml:"proxy"`
	GlobalTimeout time.Duration    `yaml:"global_timeout"` // Timeout applied to endpoints without their own
	Endpoints     []EndpointConfig `yaml:"endpoints"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StrategyConfig struct {
	Type     string        `yaml:"type"`     // "round_robin" or "priority"
	Cooldown time.Duration `yaml:"cooldown"` // Failure cooldown for the priority strategy
}

type RetryConfig struct {
	// MaxAttempts overrides the dispatcher's default retry budget of one
	// attempt per endpoint. 0 keeps the default.
	MaxAttempts int `yaml:"max_attempts"`
}

type HealthConfig struct {
	Enabled    bool          `yaml:"enabled"`     // Probe endpoints before use
	HealthPath string        `yaml:"health_path"` // Appended to the endpoint URL
	Timeout    time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type TrackingConfig struct {
	Enabled       bool                   `yaml:"enabled"`
	Database      *DatabaseBackendConfig `yaml:"database,omitempty"` // Optional; defaults to sqlite at DatabasePath
	DatabasePath  string                 `yaml:"database_path"`      // SQLite file path, default: data/requests.db
	BufferSize    int                    `yaml:"buffer_size"`        // Event buffer size, default: 1000
	BatchSize     int                    `yaml:"batch_size"`         // Batch write size, default: 100
	FlushInterval time.Duration          `yaml:"flush_interval"`     // Force flush interval, default: 30s
	RetentionDays int                    `yaml:"retention_days"`     // 0 = keep forever
}

// DatabaseBackendConfig 数据库后端配置
type DatabaseBackendConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	Path string `yaml:"path,omitempty"`

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable the status web interface, default: false
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"` // "http", "https", "socks5"
	URL      string `yaml:"url"`  // Complete proxy URL
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type EndpointConfig struct {
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Priority int               `yaml:"priority"`
	Token    string            `yaml:"token,omitempty"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Strategy.Type == "" {
		c.Strategy.Type = "round_robin"
	}
	if c.Strategy.Cooldown == 0 {
		c.Strategy.Cooldown = 60 * time.Second
	}
	if c.Health.HealthPath == "" {
		c.Health.HealthPath = "/health"
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Tracking.DatabasePath == "" {
		c.Tracking.DatabasePath = "data/requests.db"
	}
	if c.Tracking.BufferSize == 0 {
		c.Tracking.BufferSize = 1000
	}
	if c.Tracking.BatchSize == 0 {
		c.Tracking.BatchSize = 100
	}
	if c.Tracking.FlushInterval == 0 {
		c.Tracking.FlushInterval = 30 * time.Second
	}
	if c.Web.Host == "" {
		c.Web.Host = "localhost"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8088
	}
	if c.GlobalTimeout == 0 {
		c.GlobalTimeout = 300 * time.Second
	}

	// Endpoints without their own timeout inherit the global one
	for i := range c.Endpoints {
		if c.Endpoints[i].Timeout == 0 {
			c.Endpoints[i].Timeout = c.GlobalTimeout
		}
		if c.Endpoints[i].Priority == 0 {
			c.Endpoints[i].Priority = i + 1
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be configured")
	}

	if c.Strategy.Type != "round_robin" && c.Strategy.Type != "priority" {
		return fmt.Errorf("strategy type must be 'round_robin' or 'priority'")
	}

	if c.Proxy.Enabled {
		if c.Proxy.Type == "" {
			return fmt.Errorf("proxy type is required when proxy is enabled")
		}
		if c.Proxy.Type != "http" && c.Proxy.Type != "https" && c.Proxy.Type != "socks5" {
			return fmt.Errorf("proxy type must be 'http', 'https', or 'socks5'")
		}
		if c.Proxy.URL == "" && (c.Proxy.Host == "" || c.Proxy.Port == 0) {
			return fmt.Errorf("proxy URL or host:port must be specified when proxy is enabled")
		}
	}

	if c.Tracking.Enabled {
		if c.Tracking.BufferSize <= 0 {
			return fmt.Errorf("buffer size must be greater than 0 when tracking is enabled")
		}
		if c.Tracking.BatchSize <= 0 {
			return fmt.Errorf("batch size must be greater than 0 when tracking is enabled")
		}
		if c.Tracking.BatchSize > c.Tracking.BufferSize {
			return fmt.Errorf("batch size cannot be larger than buffer size")
		}
		if c.Tracking.RetentionDays < 0 {
			return fmt.Errorf("retention days cannot be negative")
		}
		if c.Tracking.Database != nil {
			switch c.Tracking.Database.Type {
			case "sqlite":
				if c.Tracking.Database.Path == "" {
					return fmt.Errorf("sqlite database path is required")
				}
			case "mysql":
				if c.Tracking.Database.Host == "" || c.Tracking.Database.Database == "" {
					return fmt.Errorf("mysql host and database are required")
				}
			default:
				return fmt.Errorf("database type must be 'sqlite' or 'mysql'")
			}
		}
	}

	seen := make(map[string]bool)
	for i, endpoint := range c.Endpoints {
		if endpoint.Name == "" {
			return fmt.Errorf("endpoint %d: name is required", i)
		}
		if endpoint.URL == "" {
			return fmt.Errorf("endpoint %s: URL is required", endpoint.Name)
		}
		if endpoint.Priority < 0 {
			return fmt.Errorf("endpoint %s: priority must be non-negative", endpoint.Name)
		}
		if seen[endpoint.Name] {
			return fmt.Errorf("endpoint %s: duplicate name", endpoint.Name)
		}
		seen[endpoint.Name] = true
	}

	return nil
}

// ConfigWatcher handles automatic configuration reloading
type ConfigWatcher struct {
	configPath    string
	config        *Config
	mutex         sync.RWMutex
	watcher       *fsnotify.Watcher
	logger        *slog.Logger
	callbacks     []func(*Config)
	lastModTime   time.Time
	debounceTimer *time.Timer
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *slog.Logger) (*ConfigWatcher, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		configPath:  configPath,
		config:      config,
		watcher:     watcher,
		logger:      logger,
		callbacks:   make([]func(*Config), 0),
		lastModTime: fileInfo.ModTime(),
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go cw.watchLoop()

	return cw, nil
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.config
}

// AddReloadCallback adds a callback function that will be called when config is reloaded
func (cw *ConfigWatcher) AddReloadCallback(callback func(*Config)) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// watchLoop monitors the config file for changes
func (cw *ConfigWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Write) {
				fileInfo, err := os.Stat(cw.configPath)
				if err != nil {
					cw.logger.Warn(fmt.Sprintf("⚠️ 无法获取配置文件信息: %v", err))
					continue
				}

				// Skip if modification time hasn't changed
				if !fileInfo.ModTime().After(cw.lastModTime) {
					continue
				}
				cw.lastModTime = fileInfo.ModTime()

				if cw.debounceTimer != nil {
					cw.debounceTimer.Stop()
				}

				// Debounce to avoid multiple rapid reloads while editors save
				cw.debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
					cw.logger.Info(fmt.Sprintf("🔄 检测到配置文件变更，正在重新加载... - 文件: %s", event.Name))
					if err := cw.reloadConfig(); err != nil {
						cw.logger.Error(fmt.Sprintf("❌ 配置文件重新加载失败: %v", err))
					} else {
						cw.logger.Info("✅ 配置文件重新加载成功")
					}
				})
			}

			// Some editors rename files during save
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				time.Sleep(100 * time.Millisecond)
				if _, err := os.Stat(cw.configPath); err == nil {
					cw.watcher.Add(cw.configPath)
					cw.logger.Info(fmt.Sprintf("🔄 重新监听配置文件: %s", cw.configPath))
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error(fmt.Sprintf("⚠️ 配置文件监听错误: %v", err))
		}
	}
}

// reloadConfig reloads the configuration from file
func (cw *ConfigWatcher) reloadConfig() error {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mutex.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mutex.Unlock()

	for _, callback := range callbacks {
		callback(newConfig)
	}

	cw.logConfigChanges(oldConfig, newConfig)

	return nil
}

// logConfigChanges logs the key differences between old and new configurations
func (cw *ConfigWatcher) logConfigChanges(oldConfig, newConfig *Config) {
	if len(oldConfig.Endpoints) != len(newConfig.Endpoints) {
		cw.logger.Info("📡 端点数量变更",
			"old_count", len(oldConfig.Endpoints),
			"new_count", len(newConfig.Endpoints))
	}

	if oldConfig.Strategy.Type != newConfig.Strategy.Type {
		cw.logger.Info("🎯 选择策略变更",
			"old_strategy", oldConfig.Strategy.Type,
			"new_strategy", newConfig.Strategy.Type)
	}

	if oldConfig.Health.Enabled != newConfig.Health.Enabled {
		cw.logger.Info("🩺 健康检查状态变更",
			"old_enabled", oldConfig.Health.Enabled,
			"new_enabled", newConfig.Health.Enabled)
	}

	if oldConfig.Web.Enabled != newConfig.Web.Enabled {
		cw.logger.Info("🌐 Web界面状态变更",
			"old_enabled", oldConfig.Web.Enabled,
			"new_enabled", newConfig.Web.Enabled)
	}

	if oldConfig.Tracking.Enabled != newConfig.Tracking.Enabled {
		cw.logger.Info("📊 请求跟踪状态变更",
			"old_enabled", oldConfig.Tracking.Enabled,
			"new_enabled", newConfig.Tracking.Enabled)
	}
}

// Close stops the configuration watcher
func (cw *ConfigWatcher) Close() error {
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	return cw.watcher.Close()
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
