package stream

import (
	"errors"
	"time"
)

// ErrNotConnected is returned by Send when the connection has closed.
var ErrNotConnected = errors.New("not connected")

// State is the lifecycle state of the streaming session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Server→client message types.
const (
	msgSnapshot = "snapshot"
	msgDelta    = "delta"
	msgPong     = "pong"
)

// Client→server message types.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdPing        = "ping"
)

// command is a client→server message.
type command struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// envelope is used for fast message-type extraction.
type envelope struct {
	Type string `json:"type"`
}

// Config configures the stream client.
type Config struct {
	URL                string        // Websocket URL derived from the backend base URL
	PingInterval       time.Duration // Heartbeat interval while open
	ReconnectBaseDelay time.Duration // First reconnect wait
	ReconnectMaxDelay  time.Duration // Backoff cap
	MaxReconnects      int           // Consecutive failed reconnects before giving up
	WriteTimeout       time.Duration // Write deadline for sends
	BufferSize         int           // Inbound message channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:       30 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		MaxReconnects:      10,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1000,
	}
}
