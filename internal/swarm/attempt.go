package swarm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"connswarm/internal/transport"
)

// DialFunc builds the transport for one connection attempt. Tests swap in a
// fake; production uses transport.NewClient.
type DialFunc func(cfg transport.Config, logger *zap.Logger) transport.Client

// attemptConnect runs one attempt unit: up to MaxRetries+1 attempts with
// exponential backoff between them. It returns the terminal outcome and, on
// success, the live client. A successful connection is registered with the
// orchestrator's identity map before this returns, so a disconnect callback
// can never observe an unknown identity.
func (o *Orchestrator) attemptConnect(ctx context.Context, slot int) (*ConnectionOutcome, transport.Client) {
	start := time.Now()
	out := &ConnectionOutcome{Slot: slot, state: lifeDisconnected}

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			o.sleep(ctx, backoffDelay(o.cfg.RetryBaseDelay, attempt, o.cfg.RetryMaxDelay))
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		attempts++
		client := o.dial(transport.Config{
			URL:              o.cfg.ServerURL,
			Headers:          o.cfg.AuthHeaders,
			HandshakeTimeout: o.cfg.HandshakeTimeout,
		}, o.logger)

		// Registered before Connect so the transport reports drops from the
		// very first moment the connection exists.
		client.OnDisconnect(o.onDisconnection)

		if err := client.Connect(ctx); err != nil {
			lastErr = err
			// Release everything before the next attempt.
			client.Close()
			o.logger.Debug("attempt failed",
				zap.Int("slot", slot),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		out.Success = true
		out.ConnectionTime = time.Since(start)
		out.ConnectionID = client.ID()
		out.RetryCount = attempt
		out.FinalAttempt = attempt == o.cfg.MaxRetries
		out.IsActive = true
		out.state = lifeLive
		out.connectedAt = time.Now()

		o.register(out, client)
		return out, client
	}

	out.ConnectionTime = time.Since(start)
	if attempts > 0 {
		out.RetryCount = attempts - 1
	}
	out.FinalAttempt = true
	if lastErr != nil {
		out.ErrorMessage = lastErr.Error()
	}
	return out, nil
}
