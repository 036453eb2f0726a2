package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DatabaseAdapter 定义数据库操作接口
// 抽象SQLite和MySQL的差异，让上层代码无需关心具体实现
type DatabaseAdapter interface {
	Open() error
	Close() error
	Ping(ctx context.Context) error

	GetDB() *sql.DB

	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	InitSchema() error

	// SQL语法适配 - 处理SQLite和MySQL的语法差异
	BuildUpsertRequestQuery(columns []string) string
	BuildLimitOffset(limit, offset int) string

	VacuumDatabase(ctx context.Context) error
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	GetConnectionStats() ConnectionStats

	GetDatabaseType() string
}

// DatabaseConfig 统一数据库配置结构
type DatabaseConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	DatabasePath string `yaml:"database_path,omitempty"`

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// 连接池配置
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty"`

	// MySQL特定配置
	Charset string `yaml:"charset,omitempty"`
}

// DatabaseStats 数据库统计信息
type DatabaseStats struct {
	TotalRequests  int64      `json:"total_requests"`
	TotalAttempts  int64      `json:"total_attempts"`
	EarliestRecord *time.Time `json:"earliest_record,omitempty"`
	LatestRecord   *time.Time `json:"latest_record,omitempty"`
	DatabaseSize   int64      `json:"database_size"`
}

// ConnectionStats 连接池统计信息
type ConnectionStats struct {
	OpenConnections  int           `json:"open_connections"`
	IdleConnections  int           `json:"idle_connections"`
	InUseConnections int           `json:"in_use_connections"`
	WaitCount        int64         `json:"wait_count"`
	WaitDuration     time.Duration `json:"wait_duration"`
}

// NewDatabaseAdapter 数据库适配器工厂函数
func NewDatabaseAdapter(config DatabaseConfig) (DatabaseAdapter, error) {
	switch getDatabaseType(config) {
	case "sqlite":
		return NewSQLiteAdapter(config)
	case "mysql":
		return NewMySQLAdapter(config)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// getDatabaseType 从配置推断数据库类型
func getDatabaseType(config DatabaseConfig) string {
	if config.Type != "" {
		return config.Type
	}
	if config.Host != "" || config.Database != "" {
		return "mysql"
	}
	return "sqlite"
}

// setDefaultConfig 设置数据库配置默认值
func setDefaultConfig(config *DatabaseConfig) {
	switch config.Type {
	case "mysql":
		if config.Port == 0 {
			config.Port = 3306
		}
		if config.MaxOpenConns == 0 {
			config.MaxOpenConns = 10
		}
		if config.MaxIdleConns == 0 {
			config.MaxIdleConns = 5
		}
		if config.ConnMaxLifetime == 0 {
			config.ConnMaxLifetime = time.Hour
		}
		if config.ConnMaxIdleTime == 0 {
			config.ConnMaxIdleTime = 10 * time.Minute
		}
		if config.Charset == "" {
			config.Charset = "utf8mb4"
		}
	case "sqlite", "":
		if config.DatabasePath == "" {
			config.DatabasePath = "data/dispatch.db"
		}
	}
}
