package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"connswarm/internal/transport"
)

// fakeClient implements transport.Client without a network.
type fakeClient struct {
	id string

	// failConnect makes Connect fail until the counter reaches zero.
	failConnect int

	mu        sync.Mutex
	connected bool
	closed    bool
	onDisc    transport.DisconnectFunc

	pingRTT time.Duration
	pingErr error
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnect > 0 {
		f.failConnect--
		return errors.New("connection refused")
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeClient) ForceDisconnect() error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	f.connected = false
	fn := f.onDisc
	id := f.id
	f.mu.Unlock()

	if fn != nil {
		fn(id, "connection reset by peer", 50*time.Millisecond)
	}
	return nil
}

func (f *fakeClient) Emit(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) Ping(ctx context.Context) (time.Duration, error) {
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	if f.pingRTT > 0 {
		return f.pingRTT, nil
	}
	return time.Millisecond, nil
}

func (f *fakeClient) OnDisconnect(fn transport.DisconnectFunc) {
	f.mu.Lock()
	f.onDisc = fn
	f.mu.Unlock()
}

func (f *fakeClient) ID() string {
	return f.id
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// fakeDialer scripts transport behavior per dial.
type fakeDialer struct {
	mu sync.Mutex

	// failFirst makes the first N dialed clients fail their connect.
	failFirst int

	// failAll makes every connect fail.
	failAll bool

	seq     int
	created []*fakeClient
}

func (d *fakeDialer) dial(cfg transport.Config, _ *zap.Logger) transport.Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	c := &fakeClient{id: fmt.Sprintf("conn-%d", d.seq)}
	if d.failAll {
		c.failConnect = 1 << 20
	} else if d.failFirst > 0 {
		d.failFirst--
		c.failConnect = 1
	}
	d.created = append(d.created, c)
	return c
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// newTestOrchestrator wires a fake dialer and a no-op sleep so runs finish
// instantly.
func newTestOrchestrator(cfg Config, dialer *fakeDialer, logger *zap.Logger) *Orchestrator {
	o := NewOrchestrator(cfg, nil, logger)
	o.dial = dialer.dial
	o.sleep = func(context.Context, time.Duration) {}
	return o
}
