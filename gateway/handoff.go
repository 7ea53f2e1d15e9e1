package gateway

import (
	"context"
	"time"

	"dario.cat/mergo"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/registry"
)

// handoffOutcome is what executeHandoff reports back to the owning
// session goroutine. executeHandoff itself never touches sessionState —
// only the owning goroutine applies the outcome — so no session field is
// ever written from two goroutines (spec §5's single-coordinator rule).
type handoffOutcome struct {
	newUpstream    Conn
	targetAgentID  string
	err            *Error
	// rollback is true when the old upstream is still open and the prior
	// buffer should be drained back to it (cancellation or a failed target
	// resolve, before H3->H4); false means the failure is fatal: either the
	// old upstream is already gone, or the H1->H2 memory update failed.
	rollback bool
}

// executeHandoff runs H1->H5 of the handoff state machine (spec §4.7).
// H0->H1 and H5->H7 are applied by the caller against sessionState because
// they touch fields (buffering, upstreamConn, currentAgentID) that must
// stay single-writer.
func (g *Gateway) executeHandoff(ctx context.Context, sessionID string, currentAgentID string, oldUpstream Conn, req protocol.HandoffRequest) handoffOutcome {
	// H1 -> H2: apply memory updates atomically via the store.
	fromRoutingAgent := g.isRoutingAgent(currentAgentID)
	update := memory.Update{CallerIsRoutingAgent: fromRoutingAgent}
	if req.IsReturn {
		update.IsReturn = true
		update.TaskCompleted = req.TaskCompleted
	} else if fromRoutingAgent && req.Reason != "" {
		reason := req.Reason
		update.SetUserIntent = &reason
	}
	if _, err := g.store.Update(sessionID, update); err != nil {
		return handoffOutcome{err: newError(ErrKindFatalInternal, sessionID, "applying handoff memory update", false, err)}
	}
	if err := g.mergeInheritedVerifiedUser(sessionID, req.InheritedMemory); err != nil {
		return handoffOutcome{err: newError(ErrKindFatalInternal, sessionID, "merging inherited verified user", false, err)}
	}

	if err := ctx.Err(); err != nil {
		return handoffOutcome{err: newError(ErrKindHandoffFailed, sessionID, "handoff aborted", false, err), rollback: true}
	}

	// H2 -> H3: resolve target. Unlike the routing-agent capability check,
	// this resolve does NOT pass IncludeUnhealthy: spec §4.7 explicitly
	// requires aborting on an unhealthy target, not falling through.
	target, err := g.registry.Resolve(req.TargetAgentID, time.Now())
	if err != nil {
		kind := ErrKindUnknownAgent
		if err == registry.ErrUnhealthy {
			kind = ErrKindUnhealthyAgent
		}
		return handoffOutcome{err: newError(kind, sessionID, "resolving handoff target", false, err), rollback: true}
	}

	// H3 -> H4: end the old agent's session and close its upstream. Once
	// this happens there is no rollback path left: a later failure cannot
	// restore the old agent.
	endFrame, ferr := jsonFrame(protocol.SessionEnd{Type: protocol.TypeSessionEnd, SessionID: sessionID})
	if ferr == nil {
		oldUpstream.WriteFrame(ctx, endFrame)
	}
	oldUpstream.Close()

	// H4 -> H5: dial the new agent, send session_init, await session_ack.
	newUpstream, err := g.dial(ctx, target.Endpoint)
	if err != nil {
		return handoffOutcome{err: newError(ErrKindNetwork, sessionID, "dialing handoff target", true, err)}
	}
	snap, _ := g.store.Snapshot(sessionID)
	initFrame, ferr := jsonFrame(protocol.SessionInit{
		Type:            protocol.TypeSessionInit,
		SessionID:       sessionID,
		InheritedMemory: snapshotToWire(snap),
	})
	if ferr != nil {
		newUpstream.Close()
		return handoffOutcome{err: newError(ErrKindFatalInternal, sessionID, "encoding session_init", true, ferr)}
	}
	if err := newUpstream.WriteFrame(ctx, initFrame); err != nil {
		newUpstream.Close()
		return handoffOutcome{err: newError(ErrKindNetwork, sessionID, "sending session_init to handoff target", true, err)}
	}
	if err := g.awaitSessionAck(ctx, newUpstream, sessionID); err != nil {
		newUpstream.Close()
		return handoffOutcome{err: newError(ErrKindTimeout, sessionID, "awaiting session_ack from handoff target", true, err)}
	}

	return handoffOutcome{newUpstream: newUpstream, targetAgentID: target.ID}
}

// awaitSessionAck blocks until upstream sends session_ack, times out, or
// returns a protocol violation.
func (g *Gateway) awaitSessionAck(ctx context.Context, upstream Conn, sessionID string) error {
	ackCtx, cancel := context.WithTimeout(ctx, g.cfg.SessionAckTimeout)
	defer cancel()

	for {
		frame, err := upstream.ReadFrame(ackCtx)
		if err != nil {
			return err
		}
		if frame.Binary {
			continue
		}
		t, err := protocol.DecodeEnvelope(frame.Data)
		if err != nil {
			continue
		}
		if t == protocol.TypeSessionAck {
			return nil
		}
	}
}

// mergeInheritedVerifiedUser implements the H1->H2 "never downgrade" rule:
// fields already set on the current SessionMemory's verifiedUser are kept;
// only fields absent from the current record are filled in from the
// incoming snapshot. mergo.Merge's default behavior (fill zero-value
// destination fields from source, never overwrite non-zero ones) is
// exactly this rule.
func (g *Gateway) mergeInheritedVerifiedUser(sessionID string, wire protocol.MemorySnapshot) error {
	if wire.VerifiedUser == nil {
		return nil
	}
	cur, err := g.store.Get(sessionID)
	if err != nil {
		return err
	}
	incoming := memory.VerifiedUser{
		CustomerName: wire.VerifiedUser.CustomerName,
		AccountID:    wire.VerifiedUser.AccountID,
		SortCode:     wire.VerifiedUser.SortCode,
	}
	if t, err := time.Parse(time.RFC3339, wire.VerifiedUser.VerifiedAt); err == nil {
		incoming.VerifiedAt = t
	}

	merged := incoming
	if cur.VerifiedUser != nil {
		merged = *cur.VerifiedUser
		if err := mergo.Merge(&merged, incoming); err != nil {
			return err
		}
	}
	_, err = g.store.Update(sessionID, memory.Update{SetVerifiedUser: &merged})
	return err
}

// isRoutingAgent reports whether agentID is the registered routing agent,
// tolerating a transient heartbeat gap (IncludeUnhealthy): a routing agent
// that briefly misses a heartbeat should not lose its capability to name a
// new userIntent mid-handoff (spec §4.2's jitter-tolerance rationale for
// IncludeUnhealthy, applied to the capability check rather than target
// resolution).
func (g *Gateway) isRoutingAgent(agentID string) bool {
	a, err := g.registry.Resolve(agentID, time.Now(), registry.IncludeUnhealthy())
	if err != nil {
		return false
	}
	return a.Capabilities.Routing
}
