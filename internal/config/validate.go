package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.New("stream.url is required")
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil {
		return fmt.Errorf("stream.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Stream.ReconnectAttempts < 0 {
		return errors.New("stream.reconnect_attempts must be >= 0")
	}
	if c.Stream.ReconnectInterval < 0 {
		return errors.New("stream.reconnect_interval must be >= 0")
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if c.Stream.PingTimeout < c.Stream.PingInterval {
		return fmt.Errorf("stream.ping_timeout (%s) must be >= stream.ping_interval (%s)", c.Stream.PingTimeout, c.Stream.PingInterval)
	}

	if c.Retry.Retries < 0 {
		return errors.New("retry.retries must be >= 0")
	}
	if c.Retry.Delay < 0 {
		return errors.New("retry.delay must be >= 0")
	}
	if c.Retry.MaxDelay < 0 {
		return errors.New("retry.max_delay must be >= 0")
	}

	if c.Reporting.Endpoint != "" {
		u, err := url.Parse(c.Reporting.Endpoint)
		if err != nil {
			return fmt.Errorf("reporting.endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("reporting.endpoint must use http or https, got %q", u.Scheme)
		}
	}
	if c.Reporting.BufferCapacity < 1 {
		return errors.New("reporting.buffer_capacity must be >= 1")
	}
	if c.Reporting.HistorySize < 1 {
		return errors.New("reporting.history_size must be >= 1")
	}
	if c.Reporting.Timeout <= 0 {
		return errors.New("reporting.timeout must be > 0")
	}
	if c.Reporting.BreakerTimeout <= 0 {
		return errors.New("reporting.breaker_timeout must be > 0")
	}
	if c.Reporting.FlushInterval <= 0 {
		return errors.New("reporting.flush_interval must be > 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
