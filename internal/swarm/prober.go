package swarm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"connswarm/internal/transport"
)

const (
	probeTimeout = 5 * time.Second

	// probeFailStreakLimit is the losing streak past which probe failures
	// get escalated to a warning. A streak is a signal, not a disconnect:
	// only a transport-level drop flips a slot inactive.
	probeFailStreakLimit = 3
)

// runProber exercises a random sample of live connections every tick,
// recording round-trip latency. It blocks until ctx ends, which happens
// together with the hold timer.
func (o *Orchestrator) runProber(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ProbeInterval)
	defer ticker.Stop()

	streak := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, c := range o.sampleActive(o.cfg.ProbeSampleSize) {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			rtt, err := c.Ping(pctx)
			cancel()

			if err != nil {
				o.probeFails.Add(1)
				streak++
				if streak >= probeFailStreakLimit {
					o.logger.Warn("probe losing streak",
						zap.Int("streak", streak),
						zap.Error(err),
					)
				}
				continue
			}

			streak = 0
			o.probeRTT.RecordValue(rtt.Microseconds())
		}
	}
}

// sampleActive returns up to n random live clients.
func (o *Orchestrator) sampleActive(n int) []transport.Client {
	o.mu.Lock()
	live := make([]transport.Client, 0, len(o.clients))
	for id, c := range o.clients {
		if out := o.byID[id]; out != nil && out.state == lifeLive {
			live = append(live, c)
		}
	}
	o.mu.Unlock()

	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	if len(live) > n {
		live = live[:n]
	}
	return live
}
