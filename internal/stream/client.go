package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anvilabs/marketpipe/internal/metrics"
	"github.com/anvilabs/marketpipe/internal/pricestore"
)

// Client maintains one logical streaming session per process. It hides
// reconnection from consumers and multiplexes symbol subscriptions from many
// simultaneous consumers onto one physical connection.
//
// Lifecycle: Idle → Connecting → Open → Closed → Connecting (after backoff).
// Terminal only on Stop.
type Client struct {
	cfg     Config
	store   *pricestore.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	dial    DialFunc

	mu         sync.Mutex
	state      State
	transport  Transport
	refs       map[string]int // symbol → consumer refcount
	lastPongAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the transport dialer. Tests use this to substitute a
// fake transport.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a stream client writing into store.
func NewClient(cfg Config, store *pricestore.Store, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", uuid.NewString()[:8])

	c := &Client{
		cfg:    cfg,
		store:  store,
		logger: logger,
		refs:   make(map[string]int),
		state:  StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.dial == nil {
		c.dial = WebSocketDialer(cfg.WriteTimeout, cfg.BufferSize, logger)
	}

	return c
}

// Start begins the connect/reconnect loop in the background.
func (c *Client) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
}

// Stop tears the session down: cancels any pending reconnect wait, stops the
// heartbeat, closes the connection, and waits for the run loop to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.Close()
	}

	c.wg.Wait()
	c.setState(StateClosed)
	c.store.SetConnected(false)
	c.logger.Info("stream client stopped")
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers consumer interest in symbols. A symbol is announced to
// the server only when its first consumer arrives; further consumers share
// the existing subscription.
func (c *Client) Subscribe(symbols ...string) {
	c.mu.Lock()
	var added []string
	for _, s := range symbols {
		c.refs[s]++
		if c.refs[s] == 1 {
			added = append(added, s)
		}
	}
	t, open := c.transport, c.state == StateOpen
	count := len(c.refs)
	c.mu.Unlock()

	c.metrics.SymbolsTracked.Set(float64(count))
	if open && len(added) > 0 {
		c.send(t, command{Type: cmdSubscribe, Symbols: added})
	}
}

// Unsubscribe drops consumer interest in symbols. A symbol leaves the wire
// subscription only when its last consumer goes away.
func (c *Client) Unsubscribe(symbols ...string) {
	c.mu.Lock()
	var removed []string
	for _, s := range symbols {
		if c.refs[s] == 0 {
			continue
		}
		c.refs[s]--
		if c.refs[s] == 0 {
			delete(c.refs, s)
			removed = append(removed, s)
		}
	}
	t, open := c.transport, c.state == StateOpen
	count := len(c.refs)
	c.mu.Unlock()

	c.metrics.SymbolsTracked.Set(float64(count))
	if open && len(removed) > 0 {
		c.send(t, command{Type: cmdUnsubscribe, Symbols: removed})
	}
}

// run is the connect/reconnect loop. The attempt counter resets to zero on
// every successful open; the server has no memory of a dropped connection,
// so each open resends the full desired symbol set.
func (c *Client) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		c.setState(StateConnecting)

		t, err := c.dial(c.ctx, c.cfg.URL)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream connect failed", "attempt", attempt+1, "error", err)
			if !c.waitBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.transport = t
		c.mu.Unlock()
		c.setState(StateOpen)
		c.store.SetConnected(true)
		c.subscribeAll(t)

		c.session(t)

		t.Close()
		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()
		c.setState(StateClosed)

		if c.ctx.Err() != nil {
			return
		}

		c.metrics.Reconnects.Inc()
		if !c.waitBackoff(attempt) {
			return
		}
		attempt++
	}
}

// waitBackoff sleeps before reconnect attempt n. Returns false when the
// retry budget is exhausted or the client is shutting down. On exhaustion
// the store is flipped to disconnected but keeps its last known prices.
func (c *Client) waitBackoff(attempt int) bool {
	if attempt >= c.cfg.MaxReconnects {
		c.logger.Error("stream retries exhausted, giving up", "attempts", attempt)
		c.store.SetConnected(false)
		return false
	}

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
	c.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// backoffDelay returns the wait before reconnect attempt n (0-based): base
// doubled per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// session services one open connection: heartbeat out, messages in. Returns
// when the transport fails or the client shuts down.
func (c *Client) session(t Transport) {
	heartbeat := time.NewTicker(c.cfg.PingInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-heartbeat.C:
			c.send(t, command{Type: cmdPing})
			c.metrics.HeartbeatsSent.Inc()

		case err := <-t.Errors():
			c.logger.Warn("stream connection error", "error", err)
			return

		case data, ok := <-t.Messages():
			if !ok {
				return
			}
			c.handleMessage(data)
		}
	}
}

// subscribeAll announces the full desired symbol set on a fresh connection.
func (c *Client) subscribeAll(t Transport) {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.refs))
	for s := range c.refs {
		symbols = append(symbols, s)
	}
	c.mu.Unlock()

	if len(symbols) > 0 {
		c.send(t, command{Type: cmdSubscribe, Symbols: symbols})
	}
}

// handleMessage dispatches one inbound message by type. Malformed and
// unknown messages are logged and dropped; they must never take the
// connection down with them.
func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.metrics.ParseErrors.Inc()
		c.logger.Warn("malformed stream message", "error", err)
		return
	}

	switch env.Type {
	case msgSnapshot:
		c.metrics.MessagesTotal.WithLabelValues(msgSnapshot).Inc()
		ticks, err := parseSnapshot(data)
		if err != nil {
			c.metrics.ParseErrors.Inc()
			c.logger.Warn("bad snapshot message", "error", err)
			return
		}
		c.store.UpdatePrices(ticks)
		c.metrics.TicksStored.Add(float64(len(ticks)))

	case msgDelta:
		c.metrics.MessagesTotal.WithLabelValues(msgDelta).Inc()
		ticks, err := parseDelta(data, func(symbol string) (float64, bool) {
			tick, ok := c.store.GetPrice(symbol)
			return tick.LTP, ok
		})
		if err != nil {
			c.metrics.ParseErrors.Inc()
			c.logger.Warn("bad delta message", "error", err)
			return
		}
		c.store.UpdatePrices(ticks)
		c.metrics.TicksStored.Add(float64(len(ticks)))

	case msgPong:
		c.metrics.MessagesTotal.WithLabelValues(msgPong).Inc()
		c.mu.Lock()
		c.lastPongAt = time.Now()
		c.mu.Unlock()

	default:
		c.metrics.MessagesTotal.WithLabelValues("unknown").Inc()
		c.logger.Warn("unknown stream message type", "type", env.Type)
	}
}

// send marshals and writes a command. The transport may have closed since
// the caller checked; that is logged, not fatal, because the reconnect loop
// resends the full set on the next open.
func (c *Client) send(t Transport, cmd command) {
	if t == nil {
		return
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		c.logger.Error("marshal command", "type", cmd.Type, "error", err)
		return
	}

	if err := t.Send(data); err != nil {
		c.logger.Warn("send failed", "type", cmd.Type, "error", err)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.ConnectionState.Set(float64(s))
}
