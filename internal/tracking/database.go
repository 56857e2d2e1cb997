package tracking

import (
	"context"
	"database/sql"
	"fmt"

	"llm-scheduler/config"
)

// DatabaseAdapter 定义数据库操作接口
// 抽象SQLite和MySQL的差异，让上层代码无需关心具体实现
type DatabaseAdapter interface {
	// 基础连接管理
	Open() error
	Close() error
	Ping(ctx context.Context) error

	// 获取数据库连接
	GetDB() *sql.DB

	// 数据库初始化
	InitSchema() error

	// SQL语法适配 - 处理SQLite和MySQL的语法差异
	BuildDateTimeNow() string

	// 类型标识
	GetDatabaseType() string
}

// NewDatabaseAdapter 数据库适配器工厂函数
func NewDatabaseAdapter(cfg config.DatabaseBackendConfig, timezone string) (DatabaseAdapter, error) {
	switch getDatabaseType(cfg) {
	case "sqlite":
		return NewSQLiteAdapter(cfg, timezone)
	case "mysql":
		return NewMySQLAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// getDatabaseType 从配置推断数据库类型
func getDatabaseType(cfg config.DatabaseBackendConfig) string {
	// 1. 优先使用明确配置的类型
	if cfg.Type != "" {
		return cfg.Type
	}

	// 2. 根据配置内容推断类型
	if cfg.Host != "" || cfg.Database != "" {
		return "mysql"
	}

	// 3. 默认为SQLite
	return "sqlite"
}
