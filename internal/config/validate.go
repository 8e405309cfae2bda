package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url %q: must start with http:// or https://", c.BaseURL)
	}

	if !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("stream.path %q: must start with /", c.Stream.Path)
	}
	if c.Stream.PingInterval <= 0 {
		return errors.New("stream.ping_interval must be positive")
	}
	if c.Stream.ReconnectBaseDelay <= 0 {
		return errors.New("stream.reconnect_base_delay must be positive")
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return errors.New("stream.reconnect_max_delay must be >= reconnect_base_delay")
	}
	if c.Stream.MaxReconnects < 0 {
		return errors.New("stream.max_reconnects must not be negative")
	}

	if c.History.Timeout <= 0 {
		return errors.New("history.timeout must be positive")
	}
	if c.History.MaxRetries < 0 {
		return errors.New("history.max_retries must not be negative")
	}

	return nil
}
