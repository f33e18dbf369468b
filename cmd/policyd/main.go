// Package main provides the entry point for the policy daemon: it keeps
// the policy store loaded from disk or PostgreSQL, hot-reloads on file
// changes, writes the audit trail and exposes health and metrics
// endpoints.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mfa-engine/policy-core/internal/audit"
	"github.com/mfa-engine/policy-core/internal/db"
	"github.com/mfa-engine/policy-core/internal/engine"
	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/internal/policy"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML configuration file")
		logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format override (json, console)")
		httpAddr    = flag.String("http-addr", "", "HTTP listen address override")
		policyDir   = flag.String("policy-dir", "", "Policy directory override")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("policyd %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := loadServerConfig(*configPath, flagOverrides{
		logLevel:  *logLevel,
		logFormat: *logFormat,
		httpAddr:  *httpAddr,
		policyDir: *policyDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting policy daemon",
		zap.String("version", Version),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store.Type),
	)

	prom := metrics.NewPrometheusMetrics("policy_core")
	ctx := context.Background()

	// Database connection, shared by the postgres policy store and the
	// postgres audit trail.
	var conn *sql.DB
	if cfg.Store.Type == "postgres" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err = db.Open(openCtx, db.Config{
			DSN:          cfg.Store.DSN,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
		})
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}

		if cfg.Store.Migrate {
			runner, err := db.NewMigrationRunner(conn, logger)
			if err != nil {
				logger.Fatal("failed to create migration runner", zap.Error(err))
			}
			if err := runner.Up(); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
			runner.Close()
		}
	}

	var store policy.Store
	if conn != nil {
		store = policy.NewPostgresStore(conn, policy.PostgresStoreConfig{
			Logger:  logger,
			Metrics: prom,
		})
	} else {
		store = policy.NewMemoryStore(policy.MemoryStoreConfig{
			Logger:  logger,
			Metrics: prom,
		})
	}

	auditLogger, err := newAuditLogger(cfg, conn, logger)
	if err != nil {
		logger.Fatal("failed to create audit logger", zap.Error(err))
	}

	engineCfg := engine.Config{Logger: logger, Metrics: prom}

	// current holds the serving snapshot, rebuilt after every reload
	var current atomic.Pointer[engine.Engine]
	rebuild := func() {
		eng, err := engine.NewFromSource(ctx, store, engineCfg)
		if err != nil {
			logger.Error("failed to rebuild policy snapshot", zap.Error(err))
			return
		}
		current.Store(eng)
		logger.Info("policy snapshot rebuilt", zap.Int("policies", eng.Size()))
	}
	snapshotSize := func() int {
		if eng := current.Load(); eng != nil {
			return eng.Size()
		}
		return -1
	}

	// Initial load. A broken policy directory is fatal here; once the
	// daemon is up, the watcher keeps the last good set instead.
	var source *policy.FileSource
	if cfg.Policies.Dir != "" {
		source = policy.NewFileSource(cfg.Policies.Dir, policy.FileSourceConfig{Logger: logger})

		policies, err := source.All(ctx)
		if err != nil {
			logger.Fatal("failed to load policies", zap.Error(err))
		}
		if err := store.Replace(ctx, policies); err != nil {
			logger.Fatal("failed to store policies", zap.Error(err))
		}

		names := make([]string, 0, len(policies))
		for i := range policies {
			names = append(names, policies[i].Name)
		}
		auditLogger.Log(audit.NewChangeEvent(audit.ActionImportPolicies, names...))
		logger.Info("policies loaded",
			zap.String("dir", cfg.Policies.Dir),
			zap.Int("count", len(policies)))
	}
	rebuild()

	var watcher *policy.Watcher
	if cfg.Policies.Watch {
		watcher, err = policy.NewWatcher(cfg.Policies.Dir, store, source, policy.WatcherConfig{
			Debounce: cfg.Policies.debounce,
			Logger:   logger,
			Metrics:  prom,
		})
		if err != nil {
			logger.Fatal("failed to create policy watcher", zap.Error(err))
		}
		go consumeReloads(watcher.EventChan(), auditLogger, rebuild)
		if err := watcher.Watch(ctx); err != nil {
			logger.Fatal("failed to start policy watcher", zap.Error(err))
		}
	}

	var watching func() bool
	if watcher != nil {
		watching = watcher.IsWatching
	}
	health := newHealthHandler(logger, conn, snapshotSize, watching)

	httpMux := http.NewServeMux()
	health.register(httpMux)
	httpMux.Handle("/metrics", prom.HTTPHandler())

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.shutdownTimeout)
	defer cancel()

	health.SetReady(false)
	if watcher != nil {
		watcher.Stop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := auditLogger.Close(); err != nil {
		logger.Error("audit trail close failed", zap.Error(err))
	}
	if conn != nil {
		conn.Close()
	}

	logger.Info("policy daemon stopped")
}

// consumeReloads turns watcher reload outcomes into audit change events
// and rebuilds the serving snapshot after each successful reload.
func consumeReloads(events <-chan policy.ReloadedEvent, auditLogger audit.Logger, rebuild func()) {
	for ev := range events {
		change := audit.NewChangeEvent(audit.ActionImportPolicies, ev.Names...)
		if ev.Error != nil {
			change.WithError(ev.Error)
			auditLogger.Log(change)
			continue
		}
		auditLogger.Log(change)
		rebuild()
	}
}

// newAuditLogger builds the audit trail for the configured backend
func newAuditLogger(cfg *serverConfig, conn *sql.DB, logger *zap.Logger) (audit.Logger, error) {
	auditCfg := audit.Config{
		Enabled:        cfg.Audit.Enabled,
		Type:           cfg.Audit.Output,
		FilePath:       cfg.Audit.File,
		FileMaxSize:    cfg.Audit.FileMaxSizeMB,
		FileMaxAge:     cfg.Audit.FileMaxAgeDays,
		FileMaxBackups: cfg.Audit.FileMaxBackups,
		SyslogAddr:     cfg.Audit.SyslogAddr,
		SyslogProtocol: cfg.Audit.SyslogProtocol,
		BufferSize:     cfg.Audit.BufferSize,
		FlushInterval:  cfg.Audit.flushInterval,
		Logger:         logger,
	}
	if cfg.Audit.Output == "postgres" {
		auditCfg.Type = ""
		auditCfg.DB = conn
	}
	return audit.NewLogger(&auditCfg)
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
