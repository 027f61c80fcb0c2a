package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/threatstream/internal/config"
	"github.com/rickgao/threatstream/internal/connection"
	"github.com/rickgao/threatstream/internal/database"
	"github.com/rickgao/threatstream/internal/failure"
	"github.com/rickgao/threatstream/internal/metrics"
	"github.com/rickgao/threatstream/internal/retry"
	"github.com/rickgao/threatstream/internal/version"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to YAML config file",
		EnvVars: []string{"STREAMWATCH_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "url",
		Usage:   "override stream.url",
		EnvVars: []string{"STREAMWATCH_URL"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "log at debug level",
	},
}

// loadConfig reads the config file named by --config, or starts from the
// defaults when none is given, then applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if u := c.String("url"); u != "" {
		cfg.Stream.URL = u
	}
	if c.Bool("verbose") {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func retryConfig(cfg config.RetryConfig, logger *slog.Logger) retry.Config {
	return retry.Config{
		Retries:     cfg.Retries,
		Delay:       cfg.Delay,
		MaxDelay:    cfg.MaxDelay,
		ShouldRetry: retry.Recoverable,
		Logger:      logger,
	}
}

func failureConfig(cfg *config.Config, logger *slog.Logger) failure.Config {
	return failure.Config{
		Endpoint:        cfg.Reporting.Endpoint,
		AppURL:          cfg.Reporting.AppURL,
		UserAgent:       version.UserAgent(),
		Timeout:         cfg.Reporting.Timeout,
		BufferCapacity:  cfg.Reporting.BufferCapacity,
		HistorySize:     cfg.Reporting.HistorySize,
		BreakerFailures: cfg.Reporting.BreakerFailures,
		BreakerTimeout:  cfg.Reporting.BreakerTimeout,
		Retry:           retryConfig(cfg.Retry, logger),
	}
}

func clientConfig(cfg config.StreamConfig) connection.ClientConfig {
	return connection.ClientConfig{
		URL:              cfg.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		PingTimeout:      cfg.PingTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.BufferSize,
	}
}

func managerConfig(cfg config.StreamConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectInterval: cfg.ReconnectInterval,
		ConnectTimeout:    cfg.HandshakeTimeout,
	}
}

// buildSink combines the HTTP endpoint and the database report store. It
// returns a nil sink when neither is configured, which keeps reports local.
// The returned pool is nil when no database is configured.
func buildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (failure.Sink, *pgxpool.Pool, error) {
	var sinks failure.MultiSink

	if cfg.Reporting.Endpoint != "" {
		sinks = append(sinks, failure.NewHTTPSink(cfg.Reporting.Endpoint, &http.Client{Timeout: cfg.Reporting.Timeout}))
	}

	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		p, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := database.NewReportStore(p)
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, nil, err
		}
		logger.Info("report store ready", "host", cfg.Database.Host, "database", cfg.Database.Name)
		sinks = append(sinks, store)
		pool = p
	}

	switch len(sinks) {
	case 0:
		return nil, pool, nil
	case 1:
		return sinks[0], pool, nil
	default:
		return sinks, pool, nil
	}
}

func installFailureHandle(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*failure.Handle, *pgxpool.Pool, error) {
	sink, pool, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []failure.Option{
		failure.WithLogger(logger),
		failure.WithMetrics(m),
	}
	if sink != nil {
		opts = append(opts, failure.WithSink(sink))
	}

	handle, err := failure.Install(failureConfig(cfg, logger), opts...)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}
	return handle, pool, nil
}
