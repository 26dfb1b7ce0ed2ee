package swarm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// rampUp resolves n slots synchronously, as Run would.
func rampUp(o *Orchestrator, n int) {
	for slot := 0; slot < n; slot++ {
		out, _ := o.attemptConnect(context.Background(), slot)
		o.append(out)
	}
}

func TestRunPartitionsEverySlot(t *testing.T) {
	d := &fakeDialer{failFirst: 30}
	cfg := Config{
		ServerURL:         "ws://test.invalid/ws",
		TargetConnections: 100,
		ConnectionRate:    25,
		MaxRetries:        0,
	}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	outcomes := o.Run(context.Background())

	s := Aggregate(outcomes)
	assert.Equal(t, 100, s.Total)
	assert.Equal(t, 100, s.Successful+s.Failed)
	assert.Equal(t, 70, s.Successful)
	assert.Equal(t, 30, s.Failed)
	assert.Equal(t, 0, s.Active, "shutdown leaves nothing active")
	assert.Equal(t, 0, o.Active())
}

func TestRunChunkedRampUp(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{
		ServerURL:         "ws://test.invalid/ws",
		TargetConnections: 250,
		ConnectionRate:    100,
	}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	type chunkObs struct {
		chunk    int
		size     int
		resolved int
	}
	var observed []chunkObs
	o.chunkHook = func(chunk, size int) {
		o.mu.Lock()
		resolved := len(o.outcomes)
		o.mu.Unlock()
		observed = append(observed, chunkObs{chunk, size, resolved})
	}

	outcomes := o.Run(context.Background())

	require.Len(t, outcomes, 250)
	require.Len(t, observed, 3)

	// Chunk sizes 100, 100, 50; every earlier chunk fully resolved before
	// the next one launches.
	assert.Equal(t, chunkObs{0, 100, 0}, observed[0])
	assert.Equal(t, chunkObs{1, 100, 100}, observed[1])
	assert.Equal(t, chunkObs{2, 50, 200}, observed[2])
}

func TestShutdownIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 5, ConnectionRate: 5}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 5)
	require.Equal(t, 5, o.Active())

	o.Shutdown()
	o.Shutdown()

	assert.Equal(t, 0, o.Active())
	s := Aggregate(o.Outcomes())
	assert.Equal(t, 0, s.Active)
	assert.Equal(t, 5, s.Disconnected)
	assert.Equal(t, 0, s.SpontaneousDisconnections, "manual shutdown is not spontaneous")

	for _, out := range o.Outcomes() {
		assert.False(t, out.IsActive)
		assert.Equal(t, ManualDisconnectReason, out.DisconnectionReason)
		assert.False(t, out.SpontaneousDisconnect)
		assert.False(t, out.DisconnectedAt.IsZero())
	}

	// Every transport closed exactly once.
	for _, c := range d.created {
		assert.True(t, c.closed)
	}
}

func TestSimulateDisconnections(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 100, ConnectionRate: 100}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 100)
	require.Equal(t, 100, o.Active())

	n := o.SimulateDisconnections(40)
	assert.Equal(t, 40, n)

	s := Aggregate(o.Outcomes())
	assert.Equal(t, 100, s.Successful)
	assert.Equal(t, 40, s.SpontaneousDisconnections)
	assert.Equal(t, 60, s.Active)
	assert.InDelta(t, 0.6, s.RetentionRate, 0.001)
	assert.InDelta(t, 0.6, s.StabilityRate, 0.001)
}

func TestSpontaneousDisconnectionCallback(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 1, ConnectionRate: 1}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 1)
	require.Equal(t, 1, o.Active())

	o.onDisconnection("conn-1", "websocket: close 1006 (abnormal closure)", 3*time.Second)

	assert.Equal(t, 0, o.Active())
	out := o.Outcomes()[0]
	assert.False(t, out.IsActive)
	assert.True(t, out.SpontaneousDisconnect)
	assert.Equal(t, "websocket: close 1006 (abnormal closure)", out.DisconnectionReason)
	assert.Equal(t, 3*time.Second, out.ConnectionDuration)

	// A second callback for the same identity must be a no-op.
	o.onDisconnection("conn-1", "late duplicate", time.Second)
	out = o.Outcomes()[0]
	assert.Equal(t, "websocket: close 1006 (abnormal closure)", out.DisconnectionReason)
	assert.Equal(t, 0, o.Active(), "active counter never goes negative")
}

func TestUnknownIdentityIsIgnored(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 1, ConnectionRate: 1}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 1)
	o.onDisconnection("no-such-conn", "reset", time.Second)

	assert.Equal(t, 1, o.Active())
	assert.True(t, o.Outcomes()[0].IsActive)
}

func TestManualAndSpontaneousRace(t *testing.T) {
	// A transport drop racing the shutdown path must yield exactly one
	// terminal classification, whichever wins.
	for i := 0; i < 50; i++ {
		d := &fakeDialer{}
		cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 1, ConnectionRate: 1}
		o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

		rampUp(o, 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			o.Shutdown()
		}()
		go func() {
			defer wg.Done()
			o.onDisconnection("conn-1", "connection reset by peer", 10*time.Millisecond)
		}()
		wg.Wait()

		out := o.Outcomes()[0]
		assert.False(t, out.IsActive)
		assert.Equal(t, 0, o.Active())

		manual := out.DisconnectionReason == ManualDisconnectReason && !out.SpontaneousDisconnect
		spontaneous := out.DisconnectionReason == "connection reset by peer" && out.SpontaneousDisconnect
		assert.True(t, manual != spontaneous,
			"exactly one classification must win, got reason=%q spontaneous=%v",
			out.DisconnectionReason, out.SpontaneousDisconnect)
	}
}

func TestProberRecordsRoundTrips(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{
		ServerURL:         "ws://test.invalid/ws",
		TargetConnections: 3,
		ConnectionRate:    3,
		ProbeInterval:     5 * time.Millisecond,
		ProbeSampleSize:   2,
	}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 3)
	for _, c := range d.created {
		c.pingRTT = 2 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	o.runProber(ctx)

	assert.Greater(t, o.ProbeRTT().TotalCount(), int64(0))
	assert.Equal(t, uint64(0), o.ProbeFailures())
}

func TestProbeFailuresDoNotFlipActive(t *testing.T) {
	d := &fakeDialer{}
	cfg := Config{
		ServerURL:         "ws://test.invalid/ws",
		TargetConnections: 2,
		ConnectionRate:    2,
		ProbeInterval:     5 * time.Millisecond,
		ProbeSampleSize:   2,
	}
	o := newTestOrchestrator(cfg, d, zaptest.NewLogger(t))

	rampUp(o, 2)
	for _, c := range d.created {
		c.pingErr = context.DeadlineExceeded
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	o.runProber(ctx)

	assert.Greater(t, o.ProbeFailures(), uint64(0))
	assert.Equal(t, 2, o.Active(), "probe failures are a signal, not a disconnect")
}

func TestSnapshotUpdates(t *testing.T) {
	d := &fakeDialer{failFirst: 1}
	updates := make(SnapshotChan, 1)
	cfg := Config{ServerURL: "ws://test.invalid/ws", TargetConnections: 3, ConnectionRate: 3, MaxRetries: 0}

	o := NewOrchestrator(cfg, updates, zaptest.NewLogger(t))
	o.dial = d.dial
	o.sleep = func(context.Context, time.Duration) {}

	rampUp(o, 3)
	o.sendUpdate()

	snap := <-updates
	assert.Equal(t, 3, snap.Target)
	assert.Equal(t, 3, snap.Resolved)
	assert.Equal(t, 2, snap.Successful)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 2, snap.Active)
}
