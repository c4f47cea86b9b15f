// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 APP_DATA_DATABASE_DSN 覆盖 data.database.dsn
const EnvPrefix = "APP"

// Config 基础配置结构，服务通过 mapstructure:",squash" 嵌入后追加自身配置段
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Data         DataConfig         `mapstructure:"data"`
	MessageQueue MessageQueueConfig `mapstructure:"message_queue"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name        string     `mapstructure:"name"`
	Environment string     `mapstructure:"environment"`
	HTTP        HTTPConfig `mapstructure:"http"`
	GRPC        GRPCConfig `mapstructure:"grpc"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// DataConfig 数据源配置
type DataConfig struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否输出 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MessageQueueConfig 消息队列配置
type MessageQueueConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	// 每个消费者的并发处理协程数
	Workers int `mapstructure:"workers"`
	// 写入失败的最大重试次数
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validator 由需要自校验的配置结构实现
type Validator interface {
	Validate() error
}

// Load 从 TOML 文件加载配置到 out，支持环境变量覆盖。
// configPath 为空时仅使用默认值与环境变量；defaults 为服务特有配置项的默认值。
func Load(configPath string, out any, defaults map[string]any) error {
	v := viper.New()
	SetDefaults(v)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("toml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if val, ok := out.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

// Validate 校验基础配置
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Server.HTTP.Port <= 0 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTP.Port)
	}
	if c.Server.GRPC.Port <= 0 || c.Server.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPC.Port)
	}
	switch c.Data.Database.Driver {
	case "mysql", "postgres":
		if c.Data.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Data.Database.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Data.Database.Driver)
	}
	return nil
}

// SetDefaults 设置基础配置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "algotrader")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.grpc.port", 9090)

	v.SetDefault("data.database.driver", "sqlite")
	v.SetDefault("data.database.dsn", "file:algotrader.db?_busy_timeout=5000")
	v.SetDefault("data.database.max_open_conns", 25)
	v.SetDefault("data.database.max_idle_conns", 5)
	v.SetDefault("data.database.conn_max_lifetime", 300)
	v.SetDefault("data.database.log_enabled", false)
	v.SetDefault("data.database.slow_query_threshold", 200)

	v.SetDefault("data.redis.addr", "")
	v.SetDefault("data.redis.password", "")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.pool_size", 10)

	v.SetDefault("message_queue.kafka.brokers", []string{})
	v.SetDefault("message_queue.kafka.group_id", "algotrader")
	v.SetDefault("message_queue.kafka.dead_letter_topic", "algotrader.dead_letter")
	v.SetDefault("message_queue.kafka.workers", 4)
	v.SetDefault("message_queue.kafka.max_attempts", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/algotrader.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
