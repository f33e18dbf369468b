package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// serverConfig is the YAML-loadable daemon configuration. Durations are
// written as strings ("500ms", "30s") and parsed during validation.
type serverConfig struct {
	Log      logConfig      `yaml:"log"`
	HTTP     httpConfig     `yaml:"http"`
	Store    storeConfig    `yaml:"store"`
	Policies policiesConfig `yaml:"policies"`
	Audit    auditConfig    `yaml:"audit"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type httpConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	shutdownTimeout time.Duration
}

type storeConfig struct {
	// Type selects the policy store backend: memory or postgres.
	Type string `yaml:"type"`
	// DSN is the lib/pq connection string for the postgres store. The
	// POLICYD_DB_DSN environment variable overrides it so credentials
	// can stay out of the config file.
	DSN string `yaml:"dsn"`
	// Migrate runs the embedded schema migrations on startup.
	Migrate      bool `yaml:"migrate"`
	MaxOpenConns int  `yaml:"max_open_conns"`
	MaxIdleConns int  `yaml:"max_idle_conns"`
}

type policiesConfig struct {
	// Dir is loaded on startup; empty means the daemon starts with an
	// empty policy set.
	Dir      string `yaml:"dir"`
	Watch    bool   `yaml:"watch"`
	Debounce string `yaml:"debounce"`

	debounce time.Duration
}

type auditConfig struct {
	Enabled bool `yaml:"enabled"`
	// Output selects the trail backend: stdout, file, syslog or
	// postgres. The postgres trail shares the policy store connection.
	Output         string `yaml:"output"`
	File           string `yaml:"file"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	SyslogAddr     string `yaml:"syslog_addr"`
	SyslogProtocol string `yaml:"syslog_protocol"`
	BufferSize     int    `yaml:"buffer_size"`
	FlushInterval  string `yaml:"flush_interval"`

	flushInterval time.Duration
}

// defaultServerConfig returns the configuration used when no file is given
func defaultServerConfig() *serverConfig {
	return &serverConfig{
		Log:  logConfig{Level: "info", Format: "json"},
		HTTP: httpConfig{Addr: ":8080", shutdownTimeout: 30 * time.Second},
		Store: storeConfig{
			Type: "memory",
		},
		Audit: auditConfig{
			Enabled:        true,
			Output:         "stdout",
			FileMaxSizeMB:  100,
			FileMaxAgeDays: 30,
			FileMaxBackups: 10,
		},
	}
}

// flagOverrides carries command line values that take precedence over
// the file. Empty fields leave the file value in place.
type flagOverrides struct {
	logLevel  string
	logFormat string
	httpAddr  string
	policyDir string
}

// loadServerConfig reads the YAML file at path, or starts from the
// defaults when path is empty. Environment and flag overrides are
// applied before validation.
func loadServerConfig(path string, ov flagOverrides) (*serverConfig, error) {
	cfg := defaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if dsn := os.Getenv("POLICYD_DB_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if ov.logLevel != "" {
		cfg.Log.Level = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Log.Format = ov.logFormat
	}
	if ov.httpAddr != "" {
		cfg.HTTP.Addr = ov.httpAddr
	}
	if ov.policyDir != "" {
		cfg.Policies.Dir = ov.policyDir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validate checks cross-field constraints and parses duration strings
func (c *serverConfig) validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if err := parseDuration(c.HTTP.ShutdownTimeout, &c.HTTP.shutdownTimeout, "http.shutdown_timeout"); err != nil {
		return err
	}
	if c.HTTP.shutdownTimeout <= 0 {
		c.HTTP.shutdownTimeout = 30 * time.Second
	}

	switch c.Store.Type {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid store.type %q (must be memory or postgres)", c.Store.Type)
	}
	if c.Store.Type == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres store")
	}

	if err := parseDuration(c.Policies.Debounce, &c.Policies.debounce, "policies.debounce"); err != nil {
		return err
	}
	if c.Policies.Watch && c.Policies.Dir == "" {
		return fmt.Errorf("policies.dir is required when policies.watch is enabled")
	}

	if c.Audit.Enabled {
		switch c.Audit.Output {
		case "stdout", "file", "syslog":
		case "postgres":
			if c.Store.Type != "postgres" {
				return fmt.Errorf("audit.output postgres requires store.type postgres")
			}
		default:
			return fmt.Errorf("invalid audit.output %q (must be stdout, file, syslog, or postgres)", c.Audit.Output)
		}
		if c.Audit.Output == "file" && c.Audit.File == "" {
			return fmt.Errorf("audit.file is required for file output")
		}
		if c.Audit.Output == "syslog" && c.Audit.SyslogAddr == "" {
			return fmt.Errorf("audit.syslog_addr is required for syslog output")
		}
	}
	if err := parseDuration(c.Audit.FlushInterval, &c.Audit.flushInterval, "audit.flush_interval"); err != nil {
		return err
	}

	return nil
}

// parseDuration parses a non-empty duration string into dst
func parseDuration(s string, dst *time.Duration, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	*dst = d
	return nil
}
