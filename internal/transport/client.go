package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a single WebSocket connection to the target server.
type Client interface {
	// Connect dials the server and waits for the welcome frame carrying the
	// server-assigned connection ID.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. The disconnect callback does
	// not fire for a local close.
	Close() error

	// ForceDisconnect drops the underlying socket without the closing
	// handshake, so the drop is observed as a spontaneous disconnection.
	ForceDisconnect() error

	// Emit sends an event frame and waits for the matching ack.
	Emit(ctx context.Context, event string, payload any) (json.RawMessage, error)

	// Ping measures a single application-level round trip.
	Ping(ctx context.Context) (time.Duration, error)

	// OnDisconnect registers the disconnect callback. Must be called before
	// Connect.
	OnDisconnect(fn DisconnectFunc)

	// ID returns the server-assigned connection ID, empty before Connect.
	ID() string

	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    Config
	logger *zap.Logger

	conn *websocket.Conn

	onDisconnect DisconnectFunc

	// Write serialization
	writeMu sync.Mutex

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[int64]chan Frame
	frameID   int64 // atomic counter

	done chan struct{}

	mu          sync.RWMutex
	sid         string
	connected   bool
	closed      bool
	connectedAt time.Time
}

// NewClient creates a new WebSocket client.
func NewClient(cfg Config, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 90 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}

	return &client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[int64]chan Frame),
		done:    make(chan struct{}),
	}
}

func (c *client) OnDisconnect(fn DisconnectFunc) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Connect dials and completes the application handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	for k, v := range c.cfg.Headers {
		header.Set(k, v)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(dialCtx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	// The server confirms the connection with a welcome frame. Until that
	// arrives the handshake is not complete.
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	var welcome Frame
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrNoWelcome, err)
	}
	if welcome.Type != FrameWelcome || welcome.SID == "" {
		conn.Close()
		return fmt.Errorf("%w: unexpected frame %q", ErrNoWelcome, welcome.Type)
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.sid = welcome.SID
	c.connected = true
	c.connectedAt = time.Now()
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("connected", zap.String("sid", welcome.SID))
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

// ForceDisconnect tears the socket down without the closing handshake. The
// read loop observes the failure and runs the normal disconnect path, the
// same as a genuine network drop.
func (c *client) ForceDisconnect() error {
	c.mu.RLock()
	conn := c.conn
	closed := c.closed
	c.mu.RUnlock()

	if closed || conn == nil {
		return ErrNotConnected
	}
	return conn.UnderlyingConn().Close()
}

// Emit sends an event frame and waits for the server's ack.
func (c *client) Emit(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	resp, err := c.roundTrip(ctx, Frame{Type: FrameEmit, Event: event, Payload: raw})
	if err != nil {
		return nil, err
	}
	if resp.Type == FrameError {
		return nil, fmt.Errorf("transport: server error: %s", resp.Reason)
	}
	return resp.Payload, nil
}

// Ping measures a single ping/pong round trip.
func (c *client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.roundTrip(ctx, Frame{Type: FramePing}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *client) roundTrip(ctx context.Context, f Frame) (Frame, error) {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return Frame{}, ErrNotConnected
	}
	c.mu.RUnlock()

	f.ID = atomic.AddInt64(&c.frameID, 1)
	respCh := make(chan Frame, 1)

	c.pendingMu.Lock()
	c.pending[f.ID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(f); err != nil {
		return Frame{}, err
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, ErrNotConnected
	case resp := <-respCh:
		return resp, nil
	}
}

func (c *client) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames until the connection dies, routing acks to waiting
// callers. On failure it classifies the drop and fires the disconnect
// callback unless Close was called locally.
func (c *client) readLoop() {
	for {
		var f Frame
		err := c.conn.ReadJSON(&f)
		if err != nil {
			c.handleReadError(err)
			return
		}

		switch f.Type {
		case FrameAck, FramePong, FrameError:
			c.routeResponse(f)
		default:
			// Unsolicited server frames are not part of the measurement.
			c.logger.Debug("ignoring frame", zap.String("type", f.Type))
		}
	}
}

func (c *client) routeResponse(f Frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}

func (c *client) handleReadError(err error) {
	c.mu.Lock()
	if c.closed {
		// Local close, nothing to report.
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	alive := time.Since(c.connectedAt)
	sid := c.sid
	fn := c.onDisconnect
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()

	reason := closeReason(err)
	c.logger.Debug("connection dropped",
		zap.String("sid", sid),
		zap.String("reason", reason),
		zap.Duration("alive", alive),
	)

	if fn != nil {
		fn(sid, reason, alive)
	}
}

// closeReason maps a read error to a stable reason string.
func closeReason(err error) string {
	if ce, ok := err.(*websocket.CloseError); ok {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("close %d", ce.Code)
	}
	return err.Error()
}
