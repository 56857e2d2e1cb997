package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	MultiAccount MultiAccountConfig `yaml:"multi_account"` // Multi-account scheduling configuration
	Tracking     TrackingConfig     `yaml:"tracking"`      // Outcome tracking configuration
	Web          WebConfig          `yaml:"web"`           // Web interface configuration
	Timezone     string             `yaml:"timezone"`      // Global timezone setting for all components
	Providers    []ProviderConfig   `yaml:"providers"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`       // "json" or "text"
	FileEnabled bool   `yaml:"file_enabled"` // Enable file logging
	FilePath    string `yaml:"file_path"`    // Log file path
}

// MultiAccountConfig 多账号调度配置
type MultiAccountConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Enable multi-account scheduling, default: false
	Strategy        string        `yaml:"strategy"`         // "hybrid" | "sticky" | "round-robin", default: hybrid
	Providers       []string      `yaml:"providers"`        // Providers opted into multi-account scheduling
	DefaultCooldown time.Duration `yaml:"default_cooldown"` // Default cooldown for unclassified failures, default: 5s
	MaxWait         time.Duration `yaml:"max_wait"`         // 调用方可接受的最大等待时间，超过则放弃请求，default: 120s
}

// TrackingConfig 调度结果跟踪配置
type TrackingConfig struct {
	Enabled bool `yaml:"enabled"` // Enable outcome tracking, default: false

	// 数据库配置
	Database DatabaseBackendConfig `yaml:"database"`

	BufferSize    int           `yaml:"buffer_size"`    // Event buffer size, default: 1000
	BatchSize     int           `yaml:"batch_size"`     // Batch write size, default: 100
	FlushInterval time.Duration `yaml:"flush_interval"` // Force flush interval, default: 30s
	RetentionDays int           `yaml:"retention_days"` // Data retention days (0=permanent), default: 90
}

// DatabaseBackendConfig 数据库后端配置
type DatabaseBackendConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	Path string `yaml:"path,omitempty"` // SQLite文件路径

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Charset  string `yaml:"charset,omitempty"`

	// 连接池配置
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable Web interface, default: false
	Host    string `yaml:"host"`    // Web interface host, default: localhost
	Port    int    `yaml:"port"`    // Web interface port, default: 8088
}

type ProviderConfig struct {
	Name     string          `yaml:"name"`
	Profiles []ProfileConfig `yaml:"profiles"`
}

// ProfileConfig 描述一个供应商下的授权账号
// 调度器只读取 id 和 tier，凭据内容由外部凭据仓库持有
type ProfileConfig struct {
	ID   string `yaml:"id"`
	Tier string `yaml:"tier,omitempty"` // "ultra" | "pro" | "free" | "unknown"
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

	// Set defaults
	config.setDefaults()

	// Validate configuration
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
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.FileEnabled && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	// Set multi-account defaults
	if c.MultiAccount.Strategy == "" {
		c.MultiAccount.Strategy = "hybrid"
	}
	if c.MultiAccount.DefaultCooldown == 0 {
		c.MultiAccount.DefaultCooldown = 5 * time.Second
	}
	if c.MultiAccount.MaxWait == 0 {
		c.MultiAccount.MaxWait = 120 * time.Second // 超过该上限时调用方应直接放弃请求
	}

	// Set tracking defaults
	if c.Tracking.Database.Type == "" {
		c.Tracking.Database.Type = "sqlite"
	}
	if c.Tracking.Database.Type == "sqlite" && c.Tracking.Database.Path == "" {
		c.Tracking.Database.Path = "data/outcomes.db"
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
	if c.Tracking.RetentionDays == 0 {
		c.Tracking.RetentionDays = 90
	}
	// Tracking.Enabled defaults to false (zero value) for backward compatibility

	// Set Web defaults
	if c.Web.Host == "" {
		c.Web.Host = "localhost"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8088
	}

	// Set global timezone default
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai" // Default timezone for all components
	}

	// Normalize profile tiers
	for i := range c.Providers {
		for j := range c.Providers[i].Profiles {
			if c.Providers[i].Profiles[j].Tier == "" {
				c.Providers[i].Profiles[j].Tier = "unknown"
			}
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	switch c.MultiAccount.Strategy {
	case "hybrid", "sticky", "round-robin":
	default:
		return fmt.Errorf("multi_account strategy must be 'hybrid', 'sticky' or 'round-robin'")
	}

	if c.MultiAccount.DefaultCooldown < 0 {
		return fmt.Errorf("multi_account default_cooldown cannot be negative")
	}

	if c.MultiAccount.Enabled && len(c.MultiAccount.Providers) == 0 {
		return fmt.Errorf("at least one provider must be opted in when multi_account is enabled")
	}

	// Validate tracking configuration
	if c.Tracking.Enabled {
		switch c.Tracking.Database.Type {
		case "sqlite":
			if c.Tracking.Database.Path == "" {
				return fmt.Errorf("sqlite database path is required when tracking is enabled")
			}
		case "mysql":
			if c.Tracking.Database.Host == "" || c.Tracking.Database.Database == "" {
				return fmt.Errorf("mysql host and database are required when tracking is enabled")
			}
		default:
			return fmt.Errorf("tracking database type must be 'sqlite' or 'mysql'")
		}
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
	}

	seenProviders := make(map[string]bool)
	for i, provider := range c.Providers {
		if provider.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seenProviders[provider.Name] {
			return fmt.Errorf("provider %s: duplicate provider name", provider.Name)
		}
		seenProviders[provider.Name] = true

		seenProfiles := make(map[string]bool)
		for _, p := range provider.Profiles {
			if p.ID == "" {
				return fmt.Errorf("provider %s: profile id is required", provider.Name)
			}
			if seenProfiles[p.ID] {
				return fmt.Errorf("provider %s: duplicate profile id %s", provider.Name, p.ID)
			}
			seenProfiles[p.ID] = true
			switch p.Tier {
			case "ultra", "pro", "free", "unknown":
			default:
				return fmt.Errorf("provider %s: profile %s: tier must be 'ultra', 'pro', 'free' or 'unknown'", provider.Name, p.ID)
			}
		}
	}

	// Multi-account providers must exist in the provider list
	for _, name := range c.MultiAccount.Providers {
		if !seenProviders[name] {
			return fmt.Errorf("multi_account provider %s is not configured", name)
		}
	}

	return nil
}

// MultiAccountEnabledFor reports whether multi-account scheduling is enabled
// for the given provider.
func (c *Config) MultiAccountEnabledFor(provider string) bool {
	if !c.MultiAccount.Enabled {
		return false
	}
	for _, name := range c.MultiAccount.Providers {
		if name == provider {
			return true
		}
	}
	return false
}
