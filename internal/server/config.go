package server

import (
	"time"

	"github.com/Tyrowin/hexatalk/internal/config"
)

// RateLimitConfig defines per-connection inbound throttling: Burst frames,
// refilled evenly over RefillInterval.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the settings the chat server reads at runtime.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      RateLimitConfig

	// MinGroupMembers counts the creator.
	MinGroupMembers    int
	HistoryPageSize    int
	HistoryMaxPageSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultSendBuffer      = 256
	defaultBurst           = 10
	defaultMinGroupMembers = 3
	defaultHistoryPageSize = 20
	defaultHistoryMaxPage  = 100
)

// NewConfig creates a Config populated with default values.
func NewConfig() *Config {
	cfg := Config{
		Port:               defaultPort,
		AllowedOrigins:     []string{"http://localhost:8080"},
		MaxMessageSize:     defaultMaxMessageSize,
		SendBuffer:         defaultSendBuffer,
		RateLimit:          RateLimitConfig{Burst: defaultBurst, RefillInterval: time.Second},
		MinGroupMembers:    defaultMinGroupMembers,
		HistoryPageSize:    defaultHistoryPageSize,
		HistoryMaxPageSize: defaultHistoryMaxPage,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
	return &cfg
}

// NewConfigFromSettings maps the loaded application settings onto the
// server's view of them.
func NewConfigFromSettings(s *config.Config) *Config {
	return &Config{
		Port:           s.Server.Port,
		AllowedOrigins: append([]string(nil), s.Server.AllowedOrigins...),
		MaxMessageSize: s.Server.MaxMessageSize,
		SendBuffer:     s.Server.SendBuffer,
		RateLimit: RateLimitConfig{
			Burst:          s.Server.RateLimit.Burst,
			RefillInterval: s.Server.RateLimit.RefillInterval,
		},
		MinGroupMembers:    s.Chat.MinGroupMembers,
		HistoryPageSize:    s.Chat.HistoryPageSize,
		HistoryMaxPageSize: s.Chat.HistoryMaxPageSize,
		ReadTimeout:        s.Server.ReadTimeout,
		WriteTimeout:       s.Server.WriteTimeout,
		IdleTimeout:        s.Server.IdleTimeout,
		ShutdownTimeout:    s.Server.ShutdownTimeout,
	}
}

// sanitized replaces unusable values with defaults.
func (c Config) sanitized() Config {
	def := NewConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.MinGroupMembers < 2 {
		c.MinGroupMembers = def.MinGroupMembers
	}
	if c.HistoryMaxPageSize <= 0 {
		c.HistoryMaxPageSize = def.HistoryMaxPageSize
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = def.HistoryPageSize
	}
	if c.HistoryPageSize > c.HistoryMaxPageSize {
		c.HistoryPageSize = c.HistoryMaxPageSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}
