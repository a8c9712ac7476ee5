package xrail

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the TCP address for line-framed clients; empty disables it.
	Listen string `mapstructure:"listen"`
	// WebSocket is the HTTP address serving /ws; empty disables it.
	WebSocket   string           `mapstructure:"websocket"`
	ControlPipe string           `mapstructure:"control_pipe"`
	KeepAlive   time.Duration    `mapstructure:"keep_alive"`
	HaltTimeout time.Duration    `mapstructure:"halt_timeout"`
	ModelClock  ModelClockConfig `mapstructure:"model_clock"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Log         LogConfig        `mapstructure:"log"`
}

// RedisConfig selects the Redis-backed store and audit stream. An empty
// Addr keeps everything in memory.
type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	Prefix      string `mapstructure:"prefix"`
	AuditStream string `mapstructure:"audit_stream"`
	AuditMaxLen int64  `mapstructure:"audit_max_len"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Defaults returns a Config that runs a single TCP listener with the model clock.
func Defaults() Config {
	return Config{
		Listen:      ":8008",
		ControlPipe: "/tmp/xrail.fifo",
		KeepAlive:   DefaultKeepAliveInterval,
		HaltTimeout: DefaultHaltTimeout,
		ModelClock:  DefaultModelClockConfig(),
		Redis: RedisConfig{
			Prefix:      "xrail",
			AuditMaxLen: 100_000,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

// Validate checks cfg before a server is built from it.
func (c Config) Validate() error {
	if c.Listen == "" && c.WebSocket == "" {
		return fmt.Errorf("config: listen or websocket address required")
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("config: keep_alive must be >= 0, got %v", c.KeepAlive)
	}
	if c.HaltTimeout <= 0 {
		return fmt.Errorf("config: halt_timeout must be > 0, got %v", c.HaltTimeout)
	}
	if err := c.ModelClock.Validate(); err != nil {
		return fmt.Errorf("config: model_clock: %w", err)
	}
	if c.Redis.Addr != "" && c.Redis.Prefix == "" {
		return fmt.Errorf("config: redis.prefix required with redis.addr")
	}
	if c.Redis.AuditMaxLen < 0 {
		return fmt.Errorf("config: redis.audit_max_len must be >= 0, got %d", c.Redis.AuditMaxLen)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
