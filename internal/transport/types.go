package transport

import (
	"encoding/json"
	"errors"
	"time"
)

// Frame is the wire format exchanged with the target server. Every message
// is a single JSON text frame.
type Frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	SID     string          `json:"sid,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types.
const (
	FrameWelcome = "welcome"
	FrameEmit    = "emit"
	FrameAck     = "ack"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameError   = "error"
)

// Config holds the per-connection transport settings.
type Config struct {
	URL string

	// Headers are sent with the HTTP upgrade request (auth tokens etc).
	Headers map[string]string

	// HandshakeTimeout bounds the dial plus the wait for the welcome frame.
	HandshakeTimeout time.Duration

	WriteTimeout time.Duration
	BufferSize   int
}

// DisconnectFunc is invoked at most once when an established connection
// drops for any reason other than a local Close call. alive is the time
// between the completed handshake and the drop.
type DisconnectFunc func(id, reason string, alive time.Duration)

var (
	ErrNotConnected  = errors.New("transport: not connected")
	ErrAlreadyClosed = errors.New("transport: already closed")
	ErrNoWelcome     = errors.New("transport: no welcome frame before deadline")
)
