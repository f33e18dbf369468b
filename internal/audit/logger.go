// Package audit maintains the tamper-evident trail of policy decisions and
// policy set changes. Events flow through an async logger into one of the
// writer backends (stdout, rotated file, syslog) or into a Postgres store;
// every event is linked into a SHA-256 hash chain so that altered or
// missing entries are detectable afterwards.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Logger is the write side of the audit trail.
type Logger interface {
	// Log queues an event for the trail. It never blocks the caller.
	Log(ev *Event)

	// Flush writes out buffered events
	Flush() error

	// Close flushes remaining events and releases the backend
	Close() error
}

// Config for the audit trail
type Config struct {
	// Enabled enables audit logging
	Enabled bool

	// Output type: stdout, file, syslog. Ignored when DB is set.
	Type string

	// For file output
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int

	// For syslog
	SyslogAddr     string
	SyslogProtocol string // tcp, udp, unix

	// DB switches the trail to the hash-chained Postgres store
	DB *sql.DB

	// Performance tuning
	BufferSize    int           // Ring buffer size (default: 1000)
	FlushInterval time.Duration // Batch interval (default: 100ms)
	BatchSize     int           // Batch size for database writes (default: 100)

	Logger *zap.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100, // 100MB
		FileMaxAge:     30,  // 30 days
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.DB == nil {
		if c.Type == "" {
			return fmt.Errorf("audit type is required")
		}

		if c.Type != "stdout" && c.Type != "file" && c.Type != "syslog" {
			return fmt.Errorf("invalid audit type: %s (must be stdout, file, or syslog)", c.Type)
		}

		if c.Type == "file" && c.FilePath == "" {
			return fmt.Errorf("file path is required for file output")
		}

		if c.Type == "syslog" && c.SyslogAddr == "" {
			return fmt.Errorf("syslog address is required for syslog output")
		}
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}

	return nil
}

// NewLogger creates an audit logger for the configured backend
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
		*cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	if cfg.DB != nil {
		chainLogger, err := NewChainLogger(ChainConfig{
			Store:         NewPostgresStore(cfg.DB),
			BufferSize:    cfg.BufferSize,
			FlushInterval: cfg.FlushInterval,
			BatchSize:     cfg.BatchSize,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create chain logger: %w", err)
		}
		return chainLogger, nil
	}

	var writer Writer
	var err error

	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	case "syslog":
		writer, err = NewSyslogWriter(cfg.SyslogProtocol, cfg.SyslogAddr)
		if err != nil {
			return nil, fmt.Errorf("create syslog writer: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}

	return newAsyncLogger(writer, *cfg), nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &noopLogger{}
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

func (n *noopLogger) Log(ev *Event) {}
func (n *noopLogger) Flush() error  { return nil }
func (n *noopLogger) Close() error  { return nil }
