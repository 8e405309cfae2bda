package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one physical streaming connection. The production transport
// is a websocket; tests substitute a fake.
type Transport interface {
	// Send writes raw bytes to the connection. Returns ErrNotConnected if
	// the connection has closed since the caller last looked.
	Send(data []byte) error

	// Messages returns a channel of raw inbound messages. Closed when the
	// connection dies.
	Messages() <-chan []byte

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// DialFunc opens a Transport.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// WebSocketDialer returns a DialFunc backed by gorilla/websocket.
func WebSocketDialer(writeTimeout time.Duration, bufferSize int, logger *slog.Logger) DialFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, url string) (Transport, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		t := &wsTransport{
			conn:         conn,
			logger:       logger,
			writeTimeout: writeTimeout,
			messages:     make(chan []byte, bufferSize),
			errors:       make(chan error, 1),
			done:         make(chan struct{}),
		}
		go t.readLoop()

		logger.Debug("websocket connected", "url", url)
		return t, nil
	}
}

// wsTransport implements Transport over a gorilla websocket connection.
type wsTransport struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	messages chan []byte
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Messages() <-chan []byte {
	return t.messages
}

func (t *wsTransport) Errors() <-chan error {
	return t.errors
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// readLoop reads frames from the websocket into the messages channel.
func (t *wsTransport) readLoop() {
	defer close(t.messages)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-t.done:
			default:
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}

		select {
		case t.messages <- data:
		case <-t.done:
			return
		default:
			t.logger.Warn("message buffer full, dropping message")
		}
	}
}
