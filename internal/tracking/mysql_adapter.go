package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlSchema MySQL建表语句（语法与SQLite不同，单独维护）
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS request_logs (
		request_id VARCHAR(64) PRIMARY KEY,
		client_ip VARCHAR(64) DEFAULT '',
		method VARCHAR(16) DEFAULT '',
		path VARCHAR(512) DEFAULT '',
		start_time DATETIME(6) NOT NULL,
		end_time DATETIME(6) NULL,
		duration_ms BIGINT NULL,
		status VARCHAR(32) DEFAULT 'pending',
		http_status_code INT NULL,
		endpoint_name VARCHAR(128) DEFAULT '',
		attempt_count INT DEFAULT 0,
		failure_reason VARCHAR(256) DEFAULT '',
		created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		INDEX idx_request_logs_start_time (start_time),
		INDEX idx_request_logs_status (status),
		INDEX idx_request_logs_endpoint (endpoint_name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS attempt_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL,
		attempt_number INT NOT NULL,
		endpoint_name VARCHAR(128) NOT NULL,
		start_time DATETIME(6) NOT NULL,
		duration_ms BIGINT DEFAULT 0,
		success TINYINT DEFAULT 0,
		failure_type VARCHAR(128) DEFAULT '',
		error_detail TEXT,
		created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_attempt_logs_request (request_id),
		INDEX idx_attempt_logs_endpoint (endpoint_name),
		INDEX idx_attempt_logs_start_time (start_time)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// MySQLAdapter MySQL数据库适配器实现
type MySQLAdapter struct {
	config DatabaseConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLAdapter 创建MySQL适配器实例
func NewMySQLAdapter(config DatabaseConfig) (*MySQLAdapter, error) {
	setDefaultConfig(&config)

	if config.Host == "" {
		return nil, fmt.Errorf("mysql host is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mysql database name is required")
	}

	return &MySQLAdapter{
		config: config,
		logger: slog.Default(),
	}, nil
}

// buildDSN 构建MySQL连接字符串
func (m *MySQLAdapter) buildDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=Local&timeout=10s",
		m.config.Username,
		m.config.Password,
		m.config.Host,
		m.config.Port,
		m.config.Database,
		m.config.Charset,
	)
}

// Open 建立MySQL数据库连接
func (m *MySQLAdapter) Open() error {
	m.logger.Info("正在连接MySQL数据库",
		"host", m.config.Host,
		"port", m.config.Port,
		"database", m.config.Database)

	db, err := sql.Open("mysql", m.buildDSN())
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetMaxOpenConns(m.config.MaxOpenConns)
	db.SetMaxIdleConns(m.config.MaxIdleConns)
	db.SetConnMaxLifetime(m.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(m.config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	m.db = db
	m.logger.Info("✅ MySQL数据库连接成功")

	return nil
}

// Close 关闭数据库连接
func (m *MySQLAdapter) Close() error {
	if m.db != nil {
		m.logger.Info("正在关闭MySQL数据库连接")
		return m.db.Close()
	}
	return nil
}

// Ping 测试数据库连接
func (m *MySQLAdapter) Ping(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database not connected")
	}
	return m.db.PingContext(ctx)
}

// GetDB 获取数据库连接
func (m *MySQLAdapter) GetDB() *sql.DB {
	return m.db
}

// BeginTx 开始事务
func (m *MySQLAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if m.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	return m.db.BeginTx(ctx, opts)
}

// InitSchema 初始化MySQL数据库Schema
// MySQL不支持一次执行多条语句，逐条执行
func (m *MySQLAdapter) InitSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}

	m.logger.Info("✅ MySQL数据库Schema初始化完成")
	return nil
}

// BuildUpsertRequestQuery 构建请求记录的插入或更新查询（MySQL语法）
func (m *MySQLAdapter) BuildUpsertRequestQuery(columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO request_logs (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var updatePairs []string
	for _, col := range columns {
		if col == "request_id" {
			continue
		}
		if col == "start_time" {
			updatePairs = append(updatePairs, fmt.Sprintf("%s = COALESCE(request_logs.%s, VALUES(%s))", col, col, col))
		} else {
			updatePairs = append(updatePairs, fmt.Sprintf("%s = VALUES(%s)", col, col))
		}
	}

	if len(updatePairs) > 0 {
		query += " ON DUPLICATE KEY UPDATE " + strings.Join(updatePairs, ", ")
	}

	return query
}

// BuildLimitOffset 构建分页查询
func (m *MySQLAdapter) BuildLimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// VacuumDatabase MySQL使用OPTIMIZE TABLE代替VACUUM
func (m *MySQLAdapter) VacuumDatabase(ctx context.Context) error {
	m.logger.Info("正在执行MySQL OPTIMIZE TABLE操作")

	for _, table := range []string{"request_logs", "attempt_logs"} {
		if _, err := m.db.ExecContext(ctx, "OPTIMIZE TABLE "+table); err != nil {
			return fmt.Errorf("failed to optimize table %s: %w", table, err)
		}
	}

	m.logger.Info("✅ MySQL OPTIMIZE TABLE操作完成")
	return nil
}

// GetDatabaseStats 获取MySQL数据库统计信息
func (m *MySQLAdapter) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs").Scan(&stats.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to get total requests count: %w", err)
	}

	err = m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attempt_logs").Scan(&stats.TotalAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to get total attempts count: %w", err)
	}

	var earliest, latest sql.NullTime
	err = m.db.QueryRowContext(ctx, "SELECT MIN(start_time), MAX(start_time) FROM request_logs").Scan(&earliest, &latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get record time range: %w", err)
	}

	if earliest.Valid {
		stats.EarliestRecord = &earliest.Time
	}
	if latest.Valid {
		stats.LatestRecord = &latest.Time
	}

	// 数据表大小
	var dataLength sql.NullInt64
	err = m.db.QueryRowContext(ctx,
		`SELECT SUM(data_length + index_length) FROM information_schema.tables
		 WHERE table_schema = ? AND table_name IN ('request_logs', 'attempt_logs')`,
		m.config.Database).Scan(&dataLength)
	if err == nil && dataLength.Valid {
		stats.DatabaseSize = dataLength.Int64
	}

	return stats, nil
}

// GetConnectionStats 获取连接池统计信息
func (m *MySQLAdapter) GetConnectionStats() ConnectionStats {
	if m.db == nil {
		return ConnectionStats{}
	}

	dbStats := m.db.Stats()
	return ConnectionStats{
		OpenConnections:  dbStats.OpenConnections,
		IdleConnections:  dbStats.Idle,
		InUseConnections: dbStats.InUse,
		WaitCount:        dbStats.WaitCount,
		WaitDuration:     dbStats.WaitDuration,
	}
}

// GetDatabaseType 返回数据库类型标识
func (m *MySQLAdapter) GetDatabaseType() string {
	return "mysql"
}
