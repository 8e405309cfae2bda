package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel           = "info"
	DefaultStreamPath         = "/stream/v1"
	DefaultPingInterval       = 30 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxReconnects      = 10
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 1000
	DefaultHistoryTimeout     = 15 * time.Second
	DefaultHistoryMaxRetries  = 3
	DefaultHistoryBackoff     = time.Second
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	// Stream defaults
	if c.Stream.Path == "" {
		c.Stream.Path = DefaultStreamPath
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.MaxReconnects == 0 {
		c.Stream.MaxReconnects = DefaultMaxReconnects
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}

	// History defaults
	if c.History.Timeout == 0 {
		c.History.Timeout = DefaultHistoryTimeout
	}
	if c.History.MaxRetries == 0 {
		c.History.MaxRetries = DefaultHistoryMaxRetries
	}
	if c.History.RetryBackoff == 0 {
		c.History.RetryBackoff = DefaultHistoryBackoff
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
