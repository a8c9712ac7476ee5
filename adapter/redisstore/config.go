package redisstore

import (
	"fmt"
	"time"
)

// Config for the Redis store and audit stream.
type Config struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Prefix namespaces every key: <Prefix>:<namespace>.
	Prefix string
	// OpTimeout bounds each store call made from the loop goroutine.
	OpTimeout time.Duration

	AuditStream  string
	MaxLenApprox int64
	AuditBuffer  int
	AuditBatch   int
}

// Defaults returns a local, unauthenticated configuration.
func Defaults() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		Prefix:       "xrail",
		OpTimeout:    500 * time.Millisecond,
		AuditStream:  "xrail:audit",
		MaxLenApprox: 100_000,
		AuditBuffer:  4096,
		AuditBatch:   128,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("config: prefix required")
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("config: op_timeout must be > 0, got %v", c.OpTimeout)
	}
	if c.AuditBuffer < 1 {
		return fmt.Errorf("config: audit_buffer must be >= 1, got %d", c.AuditBuffer)
	}
	if c.AuditBatch < 1 {
		return fmt.Errorf("config: audit_batch must be >= 1, got %d", c.AuditBatch)
	}
	return nil
}
