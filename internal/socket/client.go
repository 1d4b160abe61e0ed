// Package socket is a WebSocket client that survives its connection: it
// reconnects with a bounded number of attempts, keeps a heartbeat with
// latency tracking, records received messages and fans lifecycle events out
// to ordered listeners.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/util"
)

// Client owns one logical connection to url. It is safe for concurrent use.
type Client struct {
	url    string
	opts   Options
	log    util.Scope
	dialer *websocket.Dialer
	events dispatcher

	// ctx lives until Close.
	ctx    context.Context
	cancel context.CancelFunc

	connectMu sync.Mutex // serializes Connect
	writeMu   sync.Mutex // gorilla allows one concurrent writer

	mu         sync.Mutex // guards everything below
	conn       *websocket.Conn
	gen        uint64 // bumped whenever conn is installed or torn down
	attempts   int
	retry      *time.Timer
	retrySeq   uint64
	heartbeat  context.CancelFunc
	lastBeat   time.Time
	lastAck    time.Time
	dropCause  error
	latency    time.Duration
	hasLatency bool
	message    any
	history    []any
}

// New creates a disconnected Client. Call Connect to dial.
func New(url string, opts Options) *Client {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:  url,
		opts: opts,
		log:  util.NewScope("socket", "", opts.Debug),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Subprotocols:     opts.Protocols,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect tears down any existing connection and dials url. A failed dial
// is reported to "error" listeners as a *TransportError, schedules a
// reconnect when enabled and is returned.
func (c *Client) Connect() error {
	events, conn, gen, err := c.connect()
	for _, ev := range events {
		c.events.emit(ev)
	}
	if conn != nil {
		go c.readLoop(conn, gen)
	}
	if _, ok := err.(*TransportError); ok && c.opts.Reconnect {
		c.scheduleReconnect()
	}
	return err
}

// connect does the work of Connect. Events are delivered and the read loop
// started once connectMu is released, so listeners may call Connect again
// and never see a message before "open".
func (c *Client) connect() ([]Event, *websocket.Conn, uint64, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.ctx.Err() != nil {
		return nil, nil, 0, ErrClosed
	}

	var events []Event
	if ev := c.teardown(websocket.CloseNormalClosure, "Normal closure"); ev != nil {
		events = append(events, *ev)
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	c.log.Tracef("connecting to %s", c.url)
	conn, _, err := c.dialer.DialContext(c.ctx, c.url, c.opts.Header)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.ctx.Err() != nil:
		err = ErrClosed
	case c.gen != gen:
		err = ErrAborted
	case err != nil:
		c.log.Tracef("connection failed: %v", err)
		terr := &TransportError{Op: "dial", URL: c.url, Err: err}
		return append(events, Event{Kind: EventError, Err: terr}), nil, 0, terr
	}
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return events, nil, 0, err
	}

	c.conn = conn
	c.gen++
	c.attempts = 0
	c.cancelReconnectLocked()
	if c.opts.Heartbeat {
		c.startHeartbeatLocked(c.gen)
	}

	c.log.Tracef("connection opened")
	return append(events, Event{Kind: EventOpen}), conn, c.gen, nil
}

// Disconnect closes the connection with code and reason and cancels any
// pending reconnect. It never triggers a reconnect itself and is a no-op
// when already disconnected.
func (c *Client) Disconnect(code int, reason string) {
	if ev := c.teardown(code, reason); ev != nil {
		c.events.emit(*ev)
	}
}

// DisconnectNormal is Disconnect(1000, "Normal closure").
func (c *Client) DisconnectNormal() {
	c.Disconnect(websocket.CloseNormalClosure, "Normal closure")
}

// Close disconnects and stops every timer for good. Connect fails with
// ErrClosed afterwards.
func (c *Client) Close() {
	c.cancel()
	c.DisconnectNormal()
}

// teardown closes the current connection, if any, and returns the close
// event to deliver.
func (c *Client) teardown(code int, reason string) *Event {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.stopHeartbeatLocked()
	c.cancelReconnectLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.log.Tracef("disconnecting (%d %s)", code, reason)
	if err := c.closeConn(conn, code, reason); err != nil {
		c.opts.OnNonFatal(&CloseError{Code: code, Err: err})
	}
	return &Event{Kind: EventClose, Close: CloseEvent{Code: code, Reason: reason}}
}

// closeConn sends a close frame, then closes the socket.
func (c *Client) closeConn(conn *websocket.Conn, code int, reason string) error {
	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return errors.Join(err, conn.Close())
}

// ---------------------------------------------------------------------------
// Reconnect
// ---------------------------------------------------------------------------

// scheduleReconnect arms a single reconnect timer unless one is pending or
// the attempt budget is spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil || c.retry != nil || c.attempts >= c.opts.MaxReconnectAttempts {
		return
	}

	c.attempts++
	c.retrySeq++
	attempt, seq := c.attempts, c.retrySeq
	c.log.Tracef("reconnecting in %s (attempt %d/%d)",
		c.opts.ReconnectInterval, attempt, c.opts.MaxReconnectAttempts)

	c.retry = time.AfterFunc(c.opts.ReconnectInterval, func() {
		c.fireReconnect(seq, attempt)
	})
}

func (c *Client) fireReconnect(seq uint64, attempt int) {
	c.mu.Lock()
	if c.retry == nil || c.retrySeq != seq {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	c.log.Tracef("attempting reconnect")
	util.Stats.AddReconnect()
	c.events.emit(Event{Kind: EventReconnect, Attempt: attempt})

	// Failures were already reported and may have armed the next attempt.
	_ = c.Connect()
}

func (c *Client) cancelReconnectLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, gen, err)
			return
		}
		c.handleMessage(gen, data)
	}
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	util.Stats.AddRecv(len(data))

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		value = string(data)
	}

	if c.isHeartbeatAck(value) {
		c.ackHeartbeat(gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.message = value
	c.history = append(c.history, value)
	if limit := c.opts.HistoryLimit; limit > 0 && len(c.history) > limit {
		c.history = append([]any(nil), c.history[len(c.history)-limit:]...)
	}
	c.mu.Unlock()

	c.events.emit(Event{Kind: EventMessage, Data: value, Raw: data})
}

// handleDrop runs when the read loop of the current connection fails. A
// deliberate Disconnect has already bumped gen, so it is skipped here.
func (c *Client) handleDrop(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.gen++
	c.stopHeartbeatLocked()
	cause := c.dropCause
	c.dropCause = nil
	c.mu.Unlock()

	_ = conn.Close()

	ev := CloseEvent{Code: websocket.CloseAbnormalClosure}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		ev = CloseEvent{Code: ce.Code, Reason: ce.Text}
	} else {
		if cause != nil {
			err = cause
		}
		op := "read"
		if errors.Is(err, ErrHeartbeatTimeout) {
			op = "heartbeat"
		}
		c.events.emit(Event{Kind: EventError, Err: &TransportError{Op: op, URL: c.url, Err: err}})
	}

	c.log.Tracef("connection closed: %d %s", ev.Code, ev.Reason)
	c.events.emit(Event{Kind: EventClose, Close: ev})

	if c.opts.Reconnect && ev.Code != websocket.CloseNormalClosure {
		c.scheduleReconnect()
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send writes v as a text frame. Strings and byte slices go out as is;
// anything else is JSON-encoded. It returns false when disconnected or when
// the write fails.
func (c *Client) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Tracef("cannot send, connection not established")
		return false
	}

	var payload []byte
	switch x := v.(type) {
	case string:
		payload = []byte(x)
	case []byte:
		payload = x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			c.log.Warnf("cannot encode message: %v", err)
			return false
		}
		payload = b
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		c.log.Warnf("send failed: %v", err)
		return false
	}
	util.Stats.AddSent(len(payload))
	return true
}

// ---------------------------------------------------------------------------
// Listeners
// ---------------------------------------------------------------------------

// On registers fn for kind. Listeners run in registration order.
func (c *Client) On(kind EventKind, fn Handler) ListenerID {
	return c.events.add(kind, fn)
}

// Off removes a listener. An event already being delivered still reaches
// every listener that was registered when delivery began.
func (c *Client) Off(kind EventKind, id ListenerID) {
	c.events.remove(kind, id)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ReconnectAttempts is the number of attempts since the last successful open.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Latency is the round trip of the last acknowledged heartbeat. ok is false
// until the first ack.
func (c *Client) Latency() (d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency, c.hasLatency
}

// Message returns the most recently received message, or nil.
func (c *Client) Message() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// History returns a copy of the received messages, oldest first.
func (c *Client) History() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.history...)
}
