// Package config loads the streamwatch YAML configuration.
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Retry     RetryConfig     `yaml:"retry"`
	Reporting ReportingConfig `yaml:"reporting"`
	Database  DBConfig        `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StreamConfig configures the event stream connection.
type StreamConfig struct {
	URL               string        `yaml:"url"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// RetryConfig is the retry policy for discrete request/response operations.
type RetryConfig struct {
	Retries  int           `yaml:"retries"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// ReportingConfig configures failure reporting.
type ReportingConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AppURL          string        `yaml:"app_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BufferCapacity  int           `yaml:"buffer_capacity"`
	HistorySize     int           `yaml:"history_size"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// DBConfig holds PostgreSQL connection settings. The database is optional;
// an empty host disables the report store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
