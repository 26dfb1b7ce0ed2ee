// Package dummy is a built-in target server for local testing. It speaks
// the same frame protocol the transport expects and can misbehave on
// demand: reject handshakes, drop established connections at random.
package dummy

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"connswarm/internal/transport"
)

type ServerConfig struct {
	Port int

	// RejectRate is the probability [0,1] that a handshake is refused
	// before the welcome frame, exercising the retry path.
	RejectRate float64

	// DropRate is the probability [0,1] that an established connection is
	// dropped spontaneously after a short random delay.
	DropRate float64

	// AuthToken, when set, requires an Authorization header with that value.
	AuthToken string

	// PongDelay adds artificial latency to ping responses.
	PongDelay time.Duration
}

type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns int
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the websocket endpoint, separate from Start so tests can
// mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && r.Header.Get("Authorization") != s.cfg.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.RejectRate > 0 && rand.Float64() < s.cfg.RejectRate {
		http.Error(w, "try again", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.serveConn(conn)
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	sid := uuid.New().String()
	if err := conn.WriteJSON(transport.Frame{Type: transport.FrameWelcome, SID: sid}); err != nil {
		return
	}

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conns--
		s.mu.Unlock()
	}()

	// Random spontaneous drop, the failure mode the swarm exists to count.
	if s.cfg.DropRate > 0 && rand.Float64() < s.cfg.DropRate {
		delay := time.Duration(rand.Intn(3000)+500) * time.Millisecond
		timer := time.AfterFunc(delay, func() {
			conn.Close()
		})
		defer timer.Stop()
	}

	var writeMu sync.Mutex
	reply := func(f transport.Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteJSON(f)
	}

	for {
		var f transport.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case transport.FramePing:
			if s.cfg.PongDelay > 0 {
				time.Sleep(s.cfg.PongDelay)
			}
			reply(transport.Frame{Type: transport.FramePong, ID: f.ID})
		case transport.FrameEmit:
			reply(transport.Frame{
				Type:    transport.FrameAck,
				ID:      f.ID,
				Event:   f.Event,
				Payload: f.Payload,
			})
		default:
			reply(transport.Frame{Type: transport.FrameError, ID: f.ID, Reason: "unknown frame"})
		}
	}
}

// Connections returns the number of currently established connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Start runs the server in the background.
func Start(cfg ServerConfig) *Server {
	s := NewServer(cfg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	fmt.Printf("Dummy server listening on ws://localhost%s/ws\n", addr)
	if cfg.RejectRate > 0 || cfg.DropRate > 0 {
		fmt.Printf("   reject-rate=%.2f drop-rate=%.2f\n", cfg.RejectRate, cfg.DropRate)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server failed: %v\n", err)
		}
	}()
	return s
}
