package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"failover-dispatcher/config"
)

// RequestEvent 表示跟踪事件
type RequestEvent struct {
	Type      string      `json:"type"` // "start", "attempt", "complete"
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RequestStartData 请求开始事件数据
type RequestStartData struct {
	ClientIP string `json:"client_ip"`
	Method   string `json:"method"`
	Path     string `json:"path"`
}

// AttemptData 单次端点尝试事件数据
type AttemptData struct {
	AttemptNumber int           `json:"attempt_number"`
	EndpointName  string        `json:"endpoint_name"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration"`
	Success       bool          `json:"success"`
	FailureType   string        `json:"failure_type,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
}

// RequestCompleteData 请求完成事件数据
type RequestCompleteData struct {
	Status        string        `json:"status"` // "completed", "failed", "exhausted"
	HTTPStatus    int           `json:"http_status"`
	EndpointName  string        `json:"endpoint_name"`
	AttemptCount  int           `json:"attempt_count"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Config 请求跟踪配置
type Config struct {
	Enabled         bool
	Database        *config.DatabaseBackendConfig
	DatabasePath    string
	BufferSize      int
	BatchSize       int
	FlushInterval   time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
}

// NewConfig 从应用配置构建跟踪配置
func NewConfig(tc config.TrackingConfig) *Config {
	return &Config{
		Enabled:       tc.Enabled,
		Database:      tc.Database,
		DatabasePath:  tc.DatabasePath,
		BufferSize:    tc.BufferSize,
		BatchSize:     tc.BatchSize,
		FlushInterval: tc.FlushInterval,
		RetentionDays: tc.RetentionDays,
	}
}

// RequestTracker 异步记录请求和尝试日志到数据库
type RequestTracker struct {
	adapter   DatabaseAdapter
	db        *sql.DB
	eventChan chan RequestEvent
	config    *Config
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// NewRequestTracker 创建请求跟踪器
// config为nil或未启用时返回空实现，所有Record方法为空操作
func NewRequestTracker(cfg *Config) (*RequestTracker, error) {
	if cfg == nil || !cfg.Enabled {
		return &RequestTracker{config: cfg}, nil
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}

	adapter, err := NewDatabaseAdapter(buildDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create database adapter: %w", err)
	}

	if err := adapter.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := adapter.InitSchema(); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	rt := &RequestTracker{
		adapter:   adapter,
		db:        adapter.GetDB(),
		eventChan: make(chan RequestEvent, cfg.BufferSize),
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	rt.wg.Add(1)
	go rt.processEvents()

	rt.wg.Add(1)
	go rt.periodicCleanup()

	slog.Info("✅ 请求跟踪器初始化完成",
		"database_type", adapter.GetDatabaseType(),
		"buffer_size", cfg.BufferSize,
		"batch_size", cfg.BatchSize)

	return rt, nil
}

// buildDatabaseConfig 从跟踪配置构建数据库配置
func buildDatabaseConfig(cfg *Config) DatabaseConfig {
	var dbConfig DatabaseConfig

	if cfg.Database != nil {
		dbConfig.Type = cfg.Database.Type
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.Host = cfg.Database.Host
		dbConfig.Port = cfg.Database.Port
		dbConfig.Database = cfg.Database.Database
		dbConfig.Username = cfg.Database.Username
		dbConfig.Password = cfg.Database.Password
	} else {
		dbConfig.Type = "sqlite"
		dbConfig.DatabasePath = cfg.DatabasePath
	}

	return dbConfig
}

// Enabled 返回跟踪器是否在记录事件
func (rt *RequestTracker) Enabled() bool {
	return rt.config != nil && rt.config.Enabled
}

// Close 关闭跟踪器，等待所有待处理事件写入完成
func (rt *RequestTracker) Close() error {
	if !rt.Enabled() {
		return nil
	}

	rt.mu.Lock()
	if rt.cancel == nil {
		rt.mu.Unlock()
		return nil
	}
	cancel := rt.cancel
	rt.cancel = nil
	rt.mu.Unlock()

	slog.Info("正在关闭请求跟踪器...")

	cancel()
	rt.wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.eventChan != nil {
		close(rt.eventChan)
		rt.eventChan = nil
	}

	if rt.adapter != nil {
		if err := rt.adapter.Close(); err != nil {
			return fmt.Errorf("failed to close database adapter: %w", err)
		}
		rt.adapter = nil
		rt.db = nil
	}

	slog.Info("✅ 请求跟踪器关闭完成")
	return nil
}

// send 投递事件，缓冲区满时丢弃并告警
func (rt *RequestTracker) send(event RequestEvent) {
	rt.mu.RLock()
	ch := rt.eventChan
	rt.mu.RUnlock()

	if ch == nil {
		return
	}

	select {
	case ch <- event:
	default:
		slog.Warn("跟踪事件缓冲区已满，丢弃事件",
			"event_type", event.Type,
			"request_id", event.RequestID)
	}
}

// RecordRequestStart 记录请求开始
func (rt *RequestTracker) RecordRequestStart(requestID, clientIP, method, path string) {
	if !rt.Enabled() {
		return
	}

	rt.send(RequestEvent{
		Type:      "start",
		RequestID: requestID,
		Timestamp: time.Now(),
		Data: RequestStartData{
			ClientIP: clientIP,
			Method:   method,
			Path:     path,
		},
	})
}

// RecordAttempt 记录一次端点尝试的结果
func (rt *RequestTracker) RecordAttempt(requestID string, data AttemptData) {
	if !rt.Enabled() {
		return
	}

	rt.send(RequestEvent{
		Type:      "attempt",
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// RecordRequestComplete 记录请求最终结果
// status为"completed"、"failed"或"exhausted"
func (rt *RequestTracker) RecordRequestComplete(requestID string, data RequestCompleteData) {
	if !rt.Enabled() {
		return
	}

	rt.send(RequestEvent{
		Type:      "complete",
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// processEvents 异步事件处理主循环，按批写入数据库
func (rt *RequestTracker) processEvents() {
	defer rt.wg.Done()

	batch := make([]RequestEvent, 0, rt.config.BatchSize)
	ticker := time.NewTicker(rt.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := rt.flushBatch(batch); err != nil {
			slog.Error("跟踪事件批量写入失败", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-rt.eventChan:
			batch = append(batch, event)
			if len(batch) >= rt.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-rt.ctx.Done():
			// 排空通道后退出
			for {
				select {
				case event := <-rt.eventChan:
					batch = append(batch, event)
					if len(batch) >= rt.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch 在单个事务中写入一批事件
func (rt *RequestTracker) flushBatch(batch []RequestEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := rt.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Debug("事务回滚失败", "error", rbErr)
			}
		}
	}()

	for _, event := range batch {
		if err := rt.writeEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to write %s event for %s: %w", event.Type, event.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	committed = true
	slog.Debug(fmt.Sprintf("💾 [跟踪写入] 批量写入完成 - 事件数: %d", len(batch)))
	return nil
}

// writeEvent 将单个事件转换为SQL写入
func (rt *RequestTracker) writeEvent(ctx context.Context, tx *sql.Tx, event RequestEvent) error {
	switch event.Type {
	case "start":
		data, ok := event.Data.(RequestStartData)
		if !ok {
			return fmt.Errorf("invalid start event data type %T", event.Data)
		}
		columns := []string{"request_id", "client_ip", "method", "path", "start_time", "status"}
		query := rt.adapter.BuildUpsertRequestQuery(columns)
		_, err := tx.ExecContext(ctx, query,
			event.RequestID, data.ClientIP, data.Method, data.Path,
			event.Timestamp, "pending")
		return err

	case "attempt":
		data, ok := event.Data.(AttemptData)
		if !ok {
			return fmt.Errorf("invalid attempt event data type %T", event.Data)
		}
		success := 0
		if data.Success {
			success = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attempt_logs (request_id, attempt_number, endpoint_name, start_time, duration_ms, success, failure_type, error_detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.RequestID, data.AttemptNumber, data.EndpointName,
			data.StartTime, data.Duration.Milliseconds(), success,
			data.FailureType, data.ErrorDetail)
		return err

	case "complete":
		data, ok := event.Data.(RequestCompleteData)
		if !ok {
			return fmt.Errorf("invalid complete event data type %T", event.Data)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE request_logs SET
				status = ?, http_status_code = ?, endpoint_name = ?,
				attempt_count = ?, failure_reason = ?,
				end_time = ?, duration_ms = ?, updated_at = ?
			 WHERE request_id = ?`,
			data.Status, data.HTTPStatus, data.EndpointName,
			data.AttemptCount, data.FailureReason,
			event.Timestamp, data.Duration.Milliseconds(), event.Timestamp,
			event.RequestID)
		return err

	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// periodicCleanup 定期清理过期记录
func (rt *RequestTracker) periodicCleanup() {
	defer rt.wg.Done()

	if rt.config.RetentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(rt.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rt.cleanupExpiredRecords()
		case <-rt.ctx.Done():
			return
		}
	}
}

// cleanupExpiredRecords 删除超过保留期的记录并回收空间
func (rt *RequestTracker) cleanupExpiredRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -rt.config.RetentionDays)

	result, err := rt.db.ExecContext(ctx, "DELETE FROM attempt_logs WHERE start_time < ?", cutoff)
	if err != nil {
		slog.Error("清理过期尝试记录失败", "error", err)
		return
	}
	attemptRows, _ := result.RowsAffected()

	result, err = rt.db.ExecContext(ctx, "DELETE FROM request_logs WHERE start_time < ?", cutoff)
	if err != nil {
		slog.Error("清理过期请求记录失败", "error", err)
		return
	}
	requestRows, _ := result.RowsAffected()

	if requestRows > 0 || attemptRows > 0 {
		slog.Info(fmt.Sprintf("🧹 [数据清理] 已删除过期记录 - 请求: %d, 尝试: %d, 截止: %s",
			requestRows, attemptRows, cutoff.Format("2006-01-02")))

		if err := rt.adapter.VacuumDatabase(ctx); err != nil {
			slog.Warn("数据库空间回收失败", "error", err)
		}
	}
}

// HealthCheck 检查数据库连接状态和事件通道负载
func (rt *RequestTracker) HealthCheck(ctx context.Context) error {
	if !rt.Enabled() {
		return nil
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := rt.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if rt.eventChan != nil {
		load := float64(len(rt.eventChan)) / float64(cap(rt.eventChan)) * 100
		if load > 90 {
			return fmt.Errorf("event channel overloaded: %.1f%% capacity used", load)
		}
	}

	return nil
}

// GetDatabaseStats 获取数据库统计信息
func (rt *RequestTracker) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	if !rt.Enabled() {
		return nil, fmt.Errorf("request tracking not enabled")
	}

	rt.mu.RLock()
	adapter := rt.adapter
	rt.mu.RUnlock()

	if adapter == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return adapter.GetDatabaseStats(ctx)
}
