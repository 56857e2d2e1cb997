package tracking

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"llm-scheduler/config"
)

//go:embed mysql_schema.sql
var mysqlSchemaFS embed.FS

// MySQLAdapter MySQL数据库适配器实现
type MySQLAdapter struct {
	config config.DatabaseBackendConfig
	db     *sql.DB
	logger *slog.Logger
}

// NewMySQLAdapter 创建MySQL适配器实例
func NewMySQLAdapter(cfg config.DatabaseBackendConfig) (*MySQLAdapter, error) {
	// 设置默认配置
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = time.Hour
	}

	return &MySQLAdapter{
		config: cfg,
		logger: slog.Default(),
	}, nil
}

// Open 建立MySQL数据库连接
func (m *MySQLAdapter) Open() error {
	dsn, err := m.buildDSN()
	if err != nil {
		return fmt.Errorf("failed to build DSN: %w", err)
	}

	m.logger.Info("正在连接MySQL数据库",
		"host", m.config.Host,
		"database", m.config.Database,
		"charset", m.config.Charset)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(m.config.MaxOpenConns)
	db.SetMaxIdleConns(m.config.MaxIdleConns)
	db.SetConnMaxLifetime(m.config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	m.db = db
	m.logger.Info("✅ MySQL数据库连接成功",
		"max_open_conns", m.config.MaxOpenConns,
		"max_idle_conns", m.config.MaxIdleConns)

	return nil
}

// buildDSN 构建MySQL连接字符串
func (m *MySQLAdapter) buildDSN() (string, error) {
	if m.config.Host == "" {
		return "", fmt.Errorf("MySQL host is required")
	}
	if m.config.Database == "" {
		return "", fmt.Errorf("MySQL database name is required")
	}
	if m.config.Username == "" {
		return "", fmt.Errorf("MySQL username is required")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		m.config.Username,
		m.config.Password,
		m.config.Host,
		m.config.Port,
		m.config.Database)

	params := url.Values{}
	params.Add("charset", m.config.Charset)
	params.Add("parseTime", "true")
	params.Add("timeout", "30s")
	params.Add("readTimeout", "30s")
	params.Add("writeTimeout", "30s")

	dsn += "?" + params.Encode()
	return dsn, nil
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

// InitSchema 初始化MySQL数据库Schema
// MySQL不支持一次执行多条语句，按分号拆分后逐条执行
func (m *MySQLAdapter) InitSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema, err := mysqlSchemaFS.ReadFile("mysql_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read mysql_schema.sql: %w", err)
	}

	for _, stmt := range strings.Split(string(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	m.logger.Info("✅ MySQL数据库Schema初始化完成")
	return nil
}

// BuildDateTimeNow 返回当前时间函数（微秒精度）
func (m *MySQLAdapter) BuildDateTimeNow() string {
	return "NOW(6)"
}

// GetDatabaseType 返回数据库类型标识
func (m *MySQLAdapter) GetDatabaseType() string {
	return "mysql"
}
