package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/ws"
)

const (
	dialTimeout  = 10 * time.Second
	emitDeadline = 10 * time.Second

	// Reconnect backoff is bounded: capped interval, capped attempts.
	// After maxReconnectTries the connection stays down until the next
	// explicit Connect.
	reconnectInitialInterval = time.Second
	reconnectMaxInterval     = 30 * time.Second
	maxReconnectTries        = 8
)

// Handler receives the raw payload of one live event.
type Handler func(payload json.RawMessage)

// Conn owns the single live event-stream connection of a session. The
// credential is attached at handshake time; transport drops trigger
// automatic redials with exponential backoff. Conn knows nothing about
// open threads: room re-joining after a reconnect is the Message Store's
// job, via OnReconnect.
type Conn struct {
	wsURL  string
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	token     string
	connected bool
	closed    bool

	nextSubID     int
	handlers      map[ws.EventType]map[int]Handler
	reconnectSubs map[int]func()
	stateSubs     map[int]func(connected bool)

	writeMu sync.Mutex
}

// NewConn builds a connection manager for a ws:// or wss:// endpoint.
func NewConn(wsURL string) *Conn {
	return &Conn{
		wsURL:         wsURL,
		dialer:        &websocket.Dialer{HandshakeTimeout: dialTimeout},
		handlers:      make(map[ws.EventType]map[int]Handler),
		reconnectSubs: make(map[int]func()),
		stateSubs:     make(map[int]func(bool)),
	}
}

// Connect establishes the connection. A no-op when already connected.
// The bearer credential travels in the handshake, never per-message.
func (c *Conn) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.token = token
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Conn) dial(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if c.connected {
		// A concurrent dial already won (explicit Connect racing a
		// background redial). There is exactly one live connection per
		// Conn; drop the extra one.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	stateSubs := snapshotFuncs1(c.stateSubs)
	c.mu.Unlock()

	for _, f := range stateSubs {
		f(true)
	}
	go c.readLoop(conn)
	return nil
}

// IsConnected reports whether the live connection is up.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect tears the connection down permanently and releases all
// subscriptions. Conn cannot be reused afterwards.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.handlers = make(map[ws.EventType]map[int]Handler)
	c.reconnectSubs = make(map[int]func())
	stateSubs := snapshotFuncs1(c.stateSubs)
	c.stateSubs = make(map[int]func(bool))
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, f := range stateSubs {
		f(false)
	}
}

// Emit sends one event frame. Fails loudly with ErrNotConnected when the
// connection is down; the caller owns the REST fallback.
func (c *Conn) Emit(event ws.EventType, frame ws.IncomingMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	frame.Type = event

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(emitDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// On registers a handler for one event type and returns its
// unsubscribe func.
func (c *Conn) On(event ws.EventType, h Handler) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	id := c.nextSubID
	c.nextSubID++
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnReconnect registers a hook invoked after every successful automatic
// redial, before any events flow. The Message Store uses it to re-join
// its thread room.
func (c *Conn) OnReconnect(f func()) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.reconnectSubs[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.reconnectSubs, id)
	}
}

// OnStateChange registers a hook for up/down transitions, for the passive
// "reconnecting" indicator.
func (c *Conn) OnStateChange(f func(connected bool)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

type serverFrame struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Conn) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame serverFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Errorf("chatclient: bad frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}

	c.mu.Lock()
	// A stale loop from a previous connection must not flap state.
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	closed := c.closed
	stateSubs := snapshotFuncs1(c.stateSubs)
	c.mu.Unlock()

	for _, f := range stateSubs {
		f(false)
	}
	if !closed {
		go c.reconnect()
	}
}

func (c *Conn) dispatch(frame serverFrame) {
	c.mu.Lock()
	targets := make([]Handler, 0, len(c.handlers[frame.Type]))
	for _, h := range c.handlers[frame.Type] {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(frame.Payload)
	}
}

func (c *Conn) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitialInterval
	b.MaxInterval = reconnectMaxInterval

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		return c.dial(ctx)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, maxReconnectTries)); err != nil {
		logger.Errorf("chatclient: reconnect gave up: %v", err)
		return
	}

	c.mu.Lock()
	subs := snapshotFuncs0(c.reconnectSubs)
	c.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

func snapshotFuncs0(m map[int]func()) []func() {
	out := make([]func(), 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	return out
}

func snapshotFuncs1(m map[int]func(bool)) []func(bool) {
	out := make([]func(bool), 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	return out
}
