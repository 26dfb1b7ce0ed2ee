package swarm

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"connswarm/internal/stats"
	"connswarm/internal/transport"
)

// Orchestrator owns the outcome list, the identity map and the live client
// set. All mutation of shared state happens either on its own control flow
// or inside the disconnect callback, both serialized by mu.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
	dial   DialFunc

	mu       sync.Mutex
	outcomes []*ConnectionOutcome
	byID     map[string]*ConnectionOutcome
	clients  map[string]transport.Client
	active   int
	shutdown bool
	phase    string

	probeRTT   *stats.SafeHistogram
	probeFails atomic.Uint64

	updates SnapshotChan

	// sleep is context-aware and injectable so tests can run with a fake
	// clock.
	sleep func(ctx context.Context, d time.Duration)

	// chunkHook fires before each chunk launches. Test instrumentation only.
	chunkHook func(chunk, size int)
}

// NewOrchestrator creates an orchestrator for one run.
func NewOrchestrator(cfg Config, updates SnapshotChan, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if updates == nil {
		updates = make(SnapshotChan, 10)
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		dial:     func(tc transport.Config, l *zap.Logger) transport.Client { return transport.NewClient(tc, l) },
		byID:     make(map[string]*ConnectionOutcome),
		clients:  make(map[string]transport.Client),
		phase:    "idle",
		probeRTT: stats.NewSafeHistogram(),
		updates:  updates,
		sleep:    ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run executes the full lifecycle: chunked ramp-up, hold phase with optional
// liveness probing, then shutdown. Per-slot failures are data, never errors;
// Run always returns one outcome per requested slot (short of cancellation).
func (o *Orchestrator) Run(ctx context.Context) []ConnectionOutcome {
	o.setPhase("ramp-up")
	o.logger.Info("starting run",
		zap.Int("target", o.cfg.TargetConnections),
		zap.Int("rate", o.cfg.ConnectionRate),
		zap.Duration("hold", o.cfg.HoldDuration),
	)

	total := o.cfg.TargetConnections
	rate := o.cfg.ConnectionRate
	chunk := 0

	for startSlot := 0; startSlot < total; startSlot += rate {
		if ctx.Err() != nil {
			break
		}
		endSlot := startSlot + rate
		if endSlot > total {
			endSlot = total
		}

		if o.chunkHook != nil {
			o.chunkHook(chunk, endSlot-startSlot)
		}

		// All units of a chunk run concurrently; the next chunk never
		// starts before every unit here has resolved.
		g, gctx := errgroup.WithContext(ctx)
		for slot := startSlot; slot < endSlot; slot++ {
			g.Go(func() error {
				out, _ := o.attemptConnect(gctx, slot)
				o.append(out)
				return nil
			})
		}
		g.Wait()

		o.logger.Debug("chunk resolved",
			zap.Int("chunk", chunk),
			zap.Int("resolved", endSlot),
			zap.Int("active", o.Active()),
		)

		chunk++
		if endSlot < total {
			o.sleep(ctx, o.cfg.ChunkPause)
		}
	}

	o.holdPhase(ctx)
	o.Shutdown()

	o.setPhase("done")
	return o.Outcomes()
}

// holdPhase keeps connections open for HoldDuration, probing a sample of
// them if configured. The prober and the hold timer share one context, so
// both stop together.
func (o *Orchestrator) holdPhase(ctx context.Context) {
	if o.cfg.HoldDuration <= 0 {
		return
	}
	o.setPhase("hold")
	o.logger.Info("holding connections",
		zap.Duration("duration", o.cfg.HoldDuration),
		zap.Int("active", o.Active()),
	)

	holdCtx, cancel := context.WithTimeout(ctx, o.cfg.HoldDuration)
	defer cancel()

	if o.cfg.ProbeInterval > 0 {
		o.runProber(holdCtx)
		return
	}
	<-holdCtx.Done()
}

// Shutdown disconnects every still-active slot. Each record is classified
// manual_disconnect under the mutex BEFORE its transport is closed, so the
// disconnect callback cannot double-count the transition. Idempotent.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	o.shutdown = true
	o.phase = "shutdown"

	now := time.Now()
	var toClose []transport.Client
	for _, out := range o.outcomes {
		if !out.Success || out.state != lifeLive {
			continue
		}
		out.state = lifeDisconnected
		out.IsActive = false
		out.DisconnectedAt = now
		out.DisconnectionReason = ManualDisconnectReason
		out.SpontaneousDisconnect = false
		out.ConnectionDuration = now.Sub(out.connectedAt)
		if o.active > 0 {
			o.active--
		}
		if c, ok := o.clients[out.ConnectionID]; ok {
			toClose = append(toClose, c)
			delete(o.clients, out.ConnectionID)
		}
	}
	o.mu.Unlock()

	o.logger.Info("shutting down connections", zap.Int("count", len(toClose)))

	// Staggered closes avoid a thundering herd of close frames.
	for _, c := range toClose {
		c.Close()
		o.sleep(context.Background(), o.cfg.DisconnectStagger)
	}
}

// onDisconnection is the transport callback for drops that happened after a
// successful handshake. It fires from the transport's read goroutine, so it
// is a concurrent write and takes the mutex. Records already classified by
// Shutdown are left alone.
func (o *Orchestrator) onDisconnection(id, reason string, alive time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out, ok := o.byID[id]
	if !ok {
		return
	}
	if !out.Success || out.state != lifeLive {
		return
	}

	out.state = lifeDisconnected
	out.IsActive = false
	out.DisconnectedAt = time.Now()
	out.DisconnectionReason = reason
	out.ConnectionDuration = alive
	out.SpontaneousDisconnect = true
	if o.active > 0 {
		o.active--
	}
	delete(o.clients, id)

	o.logger.Debug("spontaneous disconnection",
		zap.String("id", id),
		zap.String("reason", reason),
		zap.Duration("alive", alive),
	)
}

// register records a successfully connected slot in the identity map and the
// live client set. Called by the attempt unit the moment the handshake
// completes.
func (o *Orchestrator) register(out *ConnectionOutcome, client transport.Client) {
	o.mu.Lock()
	o.byID[out.ConnectionID] = out
	o.clients[out.ConnectionID] = client
	o.active++
	o.mu.Unlock()
}

// append adds a resolved outcome to the canonical list.
func (o *Orchestrator) append(out *ConnectionOutcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
}

// SimulateDisconnections force-drops the given percentage of currently
// active connections through the regular disconnect path. Debug operation
// for exercising spontaneous-disconnect handling against a live run.
func (o *Orchestrator) SimulateDisconnections(percent float64) int {
	if percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}

	o.mu.Lock()
	live := make([]transport.Client, 0, len(o.clients))
	for id, c := range o.clients {
		if out := o.byID[id]; out != nil && out.state == lifeLive {
			live = append(live, c)
		}
	}
	o.mu.Unlock()

	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	n := int(math.Round(float64(len(live)) * percent / 100))

	o.logger.Info("simulating disconnections",
		zap.Float64("percent", percent),
		zap.Int("count", n),
	)

	for i := 0; i < n; i++ {
		live[i].ForceDisconnect()
		o.sleep(context.Background(), o.cfg.DisconnectStagger)
	}
	return n
}

// Outcomes returns a copy of the outcome list.
func (o *Orchestrator) Outcomes() []ConnectionOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := make([]ConnectionOutcome, len(o.outcomes))
	for i, out := range o.outcomes {
		res[i] = *out
	}
	return res
}

// Active returns the number of connections currently believed live.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// ProbeRTT exposes the probe latency histogram for reporting.
func (o *Orchestrator) ProbeRTT() *stats.SafeHistogram {
	return o.probeRTT
}

// ProbeFailures returns the probe failure count so far.
func (o *Orchestrator) ProbeFailures() uint64 {
	return o.probeFails.Load()
}

func (o *Orchestrator) setPhase(p string) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// StartTickLoop pushes snapshots to the updates channel until ctx ends.
func (o *Orchestrator) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sendUpdate()
			}
		}
	}()
}

func (o *Orchestrator) sendUpdate() {
	o.mu.Lock()
	s := Snapshot{
		Target: o.cfg.TargetConnections,
		Active: o.active,
		Phase:  o.phase,
	}
	for _, out := range o.outcomes {
		s.Resolved++
		if out.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		if out.SpontaneousDisconnect {
			s.Spontaneous++
		}
	}
	o.mu.Unlock()

	s.P50ProbeMs = float64(o.probeRTT.ValueAtQuantile(50)) / 1000.0
	s.P90ProbeMs = float64(o.probeRTT.ValueAtQuantile(90)) / 1000.0
	s.P99ProbeMs = float64(o.probeRTT.ValueAtQuantile(99)) / 1000.0
	s.ProbeFailures = o.probeFails.Load()

	// Non-blocking send; the UI acts as backpressure.
	select {
	case o.updates <- s:
	default:
	}
}
