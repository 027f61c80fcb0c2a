package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectAttempts = 10
	DefaultReconnectInterval = 2 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultStreamBufferSize  = 1024
	DefaultRetries           = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultReportTimeout     = 5 * time.Second
	DefaultBufferCapacity    = 50
	DefaultHistorySize       = 50
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultFlushInterval     = 1 * time.Minute
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	// Stream defaults
	if c.Stream.ReconnectAttempts == 0 {
		c.Stream.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Stream.ReconnectInterval == 0 {
		c.Stream.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Retry defaults
	if c.Retry.Retries == 0 {
		c.Retry.Retries = DefaultRetries
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = DefaultRetryDelay
	}

	// Reporting defaults
	if c.Reporting.Timeout == 0 {
		c.Reporting.Timeout = DefaultReportTimeout
	}
	if c.Reporting.BufferCapacity == 0 {
		c.Reporting.BufferCapacity = DefaultBufferCapacity
	}
	if c.Reporting.HistorySize == 0 {
		c.Reporting.HistorySize = DefaultHistorySize
	}
	if c.Reporting.BreakerFailures == 0 {
		c.Reporting.BreakerFailures = DefaultBreakerFailures
	}
	if c.Reporting.BreakerTimeout == 0 {
		c.Reporting.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.Reporting.FlushInterval == 0 {
		c.Reporting.FlushInterval = DefaultFlushInterval
	}

	// Database defaults, only when a database is configured
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
