package registry

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/voxgate/voxgate/telemetry"
)

// HeartbeatSender sends a single heartbeat for agentID to the registry's
// backing transport (typically an HTTP POST from the agent process to the
// gateway's registration endpoint). Generated or hand-written registry
// clients implement this.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, agentID string) error
}

// RunHeartbeatLoop sends periodic heartbeats for agentID until ctx is
// canceled, then returns. It mirrors the teacher's
// RegistrationManager.heartbeatLoop shape (cancelable ticker loop) but uses
// a rate.Limiter as the ticking source so the same cadence primitive also
// backs the gateway's circuit breaker window (see gateway/breaker.go).
//
// Errors from a single heartbeat attempt are non-fatal: the loop keeps
// running so a transient network blip does not permanently mark the agent
// unhealthy once connectivity resumes; sustained silence is instead caught
// by the registry's own HEARTBEAT_WINDOW policy on the receiving side.
func RunHeartbeatLoop(ctx context.Context, sender HeartbeatSender, agentID string, period time.Duration) {
	if period <= 0 {
		period = 15 * time.Second
	}
	lim := rate.NewLimiter(rate.Every(period), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return // ctx canceled
		}
		if err := sender.Heartbeat(ctx, agentID); err != nil {
			telemetry.Logf(ctx, "heartbeat failed for agent %s: %v", agentID, err)
		}
	}
}
