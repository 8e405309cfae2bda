package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for the market-data pipeline. The backend
// base URL is read once at process start; the streaming URL is derived from
// it, never configured separately.
type Config struct {
	// BaseURL is the backend HTTP base URL (e.g., "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	LogLevel string `yaml:"log_level"`

	Stream  StreamConfig  `yaml:"stream"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StreamConfig holds streaming-session settings.
type StreamConfig struct {
	// Path is appended to the derived websocket URL.
	Path string `yaml:"path"`

	PingInterval       time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects      int           `yaml:"max_reconnects"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// HistoryConfig holds candle-history client settings.
type HistoryConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// StreamURL derives the websocket URL from the HTTP base URL by substituting
// the scheme (http→ws, https→wss) and appending the stream path.
func (c *Config) StreamURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("base url scheme %q: want http or https", u.Scheme)
	}

	return u.JoinPath(c.Stream.Path).String(), nil
}
