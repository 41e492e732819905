// Package config loads the HexaTalk runtime configuration from an optional
// YAML file and HEXATALK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override, with dots
// in the key replaced by underscores (server.port -> HEXATALK_SERVER_PORT).
const EnvPrefix = "HEXATALK"

// Config is the top-level configuration tree.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig covers the HTTP listener and per-connection limits.
type ServerConfig struct {
	Port            string          `mapstructure:"port"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	MaxMessageSize  int64           `mapstructure:"max_message_size"`
	SendBuffer      int             `mapstructure:"send_buffer"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig is a token bucket: Burst frames per RefillInterval.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// DatabaseConfig selects the SQL dialect and pool settings.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        int           `mapstructure:"log_level"` // 1:silent 2:error 3:warn 4:info
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// AuthConfig holds the bearer token secret and where revocations live.
type AuthConfig struct {
	TokenSecret string           `mapstructure:"token_secret"`
	Revocation  RevocationConfig `mapstructure:"revocation"`
}

// RevocationConfig chooses the revoked-token backend.
type RevocationConfig struct {
	Backend string `mapstructure:"backend"` // database | redis
}

// RedisConfig is only used when auth.revocation.backend is redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ChatConfig holds routing rules.
type ChatConfig struct {
	MinGroupMembers    int `mapstructure:"min_group_members"`
	HistoryPageSize    int `mapstructure:"history_page_size"`
	HistoryMaxPageSize int `mapstructure:"history_max_page_size"`
}

// LoggerConfig controls zap output.
type LoggerConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	File     string            `mapstructure:"file"`
	Rotation LogRotationConfig `mapstructure:"rotation"`
}

// LogRotationConfig mirrors lumberjack's knobs.
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// Supported values for DatabaseConfig.Type.
const (
	DBSQLite    = "sqlite"
	DBPostgres  = "postgres"
	DBMySQL     = "mysql"
	DBSQLServer = "sqlserver"
)

// Supported values for RevocationConfig.Backend.
const (
	RevocationDatabase = "database"
	RevocationRedis    = "redis"
)

// Load reads configuration from path (optional) layered over defaults and
// environment overrides. An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration produced by Load with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.max_message_size", 4096)
	v.SetDefault("server.send_buffer", 256)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("server.rate_limit.refill_interval", time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.type", DBSQLite)
	v.SetDefault("database.dsn", "hexatalk.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", 2)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.revocation.backend", RevocationDatabase)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "hexatalk:revoked:")

	v.SetDefault("chat.min_group_members", 3)
	v.SetDefault("chat.history_page_size", 20)
	v.SetDefault("chat.history_max_page_size", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.TokenSecret) == "" {
		errs = append(errs, errors.New("auth.token_secret is required"))
	}

	switch c.Database.Type {
	case DBSQLite, DBPostgres, DBMySQL, DBSQLServer:
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Auth.Revocation.Backend {
	case RevocationDatabase:
	case RevocationRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis revocation backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.revocation.backend %q is not supported", c.Auth.Revocation.Backend))
	}

	if c.Chat.MinGroupMembers < 2 {
		errs = append(errs, fmt.Errorf("chat.min_group_members must be at least 2, got %d", c.Chat.MinGroupMembers))
	}
	if c.Chat.HistoryPageSize <= 0 {
		errs = append(errs, errors.New("chat.history_page_size must be positive"))
	}

	return errors.Join(errs...)
}
