package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
)

// directedFrame tags a Frame read off either side of the proxy with its
// origin, so the single owning goroutine can apply direction-specific
// intercepts (spec §4.7 steps 5-6).
type directedFrame struct {
	fromUpstream bool
	// conn identifies which connection produced this frame. A handoff
	// retires the old upstream's pump goroutine without necessarily
	// draining its final (error) frame before returning; comparing conn
	// against the session's current upstream lets both loops recognize
	// and discard that stale frame instead of misreading it as the new
	// upstream failing.
	conn  Conn
	frame Frame
	err   error
}

func pumpFrames(ctx context.Context, conn Conn, out chan<- directedFrame, fromUpstream bool) {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			select {
			case out <- directedFrame{fromUpstream: fromUpstream, conn: conn, err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- directedFrame{fromUpstream: fromUpstream, conn: conn, frame: frame}:
		case <-ctx.Done():
			return
		}
	}
}

// proxy implements the Proxy step (spec §4.7 step 4): route frames
// bidirectionally, applying the upward and downward intercepts, until the
// client or upstream connection ends.
func (g *Gateway) proxy(ctx context.Context, sess *sessionState) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan directedFrame)
	go pumpFrames(ctx, sess.clientConn, frames, false)
	go pumpFrames(ctx, sess.upstreamConn, frames, true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case df := <-frames:
			if df.err != nil {
				if df.fromUpstream {
					if df.conn != sess.upstreamConn {
						continue // stale pump from a connection the session already moved past
					}
					return newError(ErrKindNetwork, sess.id, "upstream connection lost", true, df.err)
				}
				return nil // ordinary client disconnect
			}
			gwErr := g.handleFrame(ctx, sess, frames, df)
			if gwErr == nil {
				continue
			}
			if gwErr.Fatal {
				g.sendFatal(ctx, sess.clientConn, gwErr)
				return gwErr
			}
			if sess.breaker.RecordError() {
				tripped := newError(ErrKindCircuitBreakerTripped, sess.id, "too many session errors", true, gwErr)
				g.sendFatal(ctx, sess.clientConn, tripped)
				return tripped
			}
			g.sendNonFatal(ctx, sess.clientConn, gwErr.Message)
		}
	}
}

// handleFrame applies the direction-specific intercepts of spec §4.7 steps
// 5-6 to one frame, forwarding everything else transparently.
func (g *Gateway) handleFrame(ctx context.Context, sess *sessionState, frames chan directedFrame, df directedFrame) *Error {
	if df.frame.Binary {
		if !df.fromUpstream {
			df.frame.Data = protocol.PadPCM(df.frame.Data)
		}
		return g.forward(ctx, sess, df)
	}

	t, err := protocol.DecodeEnvelope(df.frame.Data)
	if err != nil {
		return newError(ErrKindProtocolViolation, sess.id, "malformed frame", true, err)
	}

	if df.fromUpstream {
		switch t {
		case protocol.TypeHandoffReq:
			var req protocol.HandoffRequest
			if err := json.Unmarshal(df.frame.Data, &req); err != nil {
				return newError(ErrKindProtocolViolation, sess.id, "malformed handoff_request", true, err)
			}
			return g.handleHandoffRequest(ctx, sess, frames, req)
		case protocol.TypeUpdateMemory:
			var patch protocol.UpdateMemory
			if err := json.Unmarshal(df.frame.Data, &patch); err != nil {
				return newError(ErrKindProtocolViolation, sess.id, "malformed update_memory", true, err)
			}
			g.applyMemoryPatch(sess.id, sess.currentAgentID, patch)
			return nil
		default:
			return g.forward(ctx, sess, df)
		}
	}

	// Client-origin.
	if t == protocol.TypeSelectWorkflow {
		// "select_workflow in the middle of a session is ignored" (spec
		// §4.7 step 6).
		return nil
	}
	return g.forward(ctx, sess, df)
}

// forward writes df to the opposite side of the proxy, or buffers it if a
// handoff is in progress and the frame is client-origin.
func (g *Gateway) forward(ctx context.Context, sess *sessionState, df directedFrame) *Error {
	if sess.buffering && !df.fromUpstream {
		if !sess.tryBuffer(df.frame, g.cfg) {
			return newError(ErrKindHandoffFailed, sess.id, "handoff buffer overflow", false, nil)
		}
		return nil
	}
	dst := sess.upstreamConn
	if df.fromUpstream {
		dst = sess.clientConn
	}
	if err := dst.WriteFrame(ctx, df.frame); err != nil {
		return newError(ErrKindNetwork, sess.id, "forwarding frame", true, err)
	}
	return nil
}

func (g *Gateway) applyMemoryPatch(sessionID, currentAgentID string, patch protocol.UpdateMemory) {
	update := memory.Update{}
	if patch.UserIntent != nil {
		update.SetUserIntent = patch.UserIntent
		update.CallerIsRoutingAgent = g.isRoutingAgent(currentAgentID)
	}
	if patch.TaskSummary != nil {
		update.SetTaskSummary = patch.TaskSummary
	}
	g.store.Update(sessionID, update)
	if patch.VerifiedUser != nil {
		vu := memory.VerifiedUser{
			CustomerName: patch.VerifiedUser.CustomerName,
			AccountID:    patch.VerifiedUser.AccountID,
			SortCode:     patch.VerifiedUser.SortCode,
		}
		if t, err := time.Parse(time.RFC3339, patch.VerifiedUser.VerifiedAt); err == nil {
			vu.VerifiedAt = t
		}
		g.store.Update(sessionID, memory.Update{SetVerifiedUser: &vu})
	}
}

// handleHandoffRequest runs H0->H7: it marks buffering (H0->H1), runs the
// blocking middle steps (H1->H5) in a goroutine via executeHandoff while
// this goroutine keeps draining frames (buffering client-origin ones,
// discarding stale upstream-origin ones from the outgoing agent), then
// applies the outcome (H5->H7) back on the single owning goroutine.
func (g *Gateway) handleHandoffRequest(ctx context.Context, sess *sessionState, frames chan directedFrame, req protocol.HandoffRequest) *Error {
	handoffCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess.buffering = true
	sess.resetBuffer()
	g.store.SetHandoffInFlight(sess.id, true)
	start := time.Now()

	oldUpstream := sess.upstreamConn
	oldAgentID := sess.currentAgentID

	outcomeCh := make(chan handoffOutcome, 1)
	go func() {
		outcomeCh <- g.executeHandoff(handoffCtx, sess.id, oldAgentID, oldUpstream, req)
	}()

	var outcome handoffOutcome
drain:
	for {
		select {
		case outcome = <-outcomeCh:
			break drain
		case df := <-frames:
			if df.err != nil {
				if df.fromUpstream {
					// Expected once executeHandoff closes the old upstream.
					continue
				}
				cancel()
				outcome = <-outcomeCh
				sess.buffering = false
				g.store.SetHandoffInFlight(sess.id, false)
				return newError(ErrKindNetwork, sess.id, "client disconnected during handoff", true, errors.New("client closed"))
			}
			if df.fromUpstream {
				continue // stale frame from the outgoing agent; discard.
			}
			if df.frame.Binary {
				df.frame.Data = protocol.PadPCM(df.frame.Data)
			}
			if !sess.tryBuffer(df.frame, g.cfg) {
				cancel()
				outcome = <-outcomeCh
				outcome.err = newError(ErrKindHandoffFailed, sess.id, "handoff buffer overflow", false, nil)
				outcome.rollback = true
				break drain
			}
		}
	}

	sess.buffering = false
	g.store.SetHandoffInFlight(sess.id, false)
	if g.metrics != nil {
		g.metrics.HandoffLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if outcome.err != nil {
		if outcome.rollback && oldUpstream != nil {
			for _, f := range sess.buffer {
				oldUpstream.WriteFrame(ctx, f)
			}
			sess.resetBuffer()
			outcome.err.Fatal = false
			return outcome.err
		}
		sess.resetBuffer()
		outcome.err.Fatal = true
		return outcome.err
	}

	for _, f := range sess.buffer {
		if err := outcome.newUpstream.WriteFrame(ctx, f); err != nil {
			sess.resetBuffer()
			return newError(ErrKindNetwork, sess.id, "flushing buffered frames to handoff target", true, err)
		}
	}
	sess.resetBuffer()

	sess.upstreamConn = outcome.newUpstream
	sess.currentAgentID = outcome.targetAgentID
	g.store.Update(sess.id, memory.Update{SetCurrentAgentID: outcome.targetAgentID})
	go pumpFrames(ctx, sess.upstreamConn, frames, true)

	notifyFrame, err := jsonFrame(protocol.Handoff{
		Type:        protocol.TypeHandoff,
		FromAgentID: oldAgentID,
		ToAgentID:   outcome.targetAgentID,
		Reason:      req.Reason,
		IsReturn:    req.IsReturn,
	})
	if err == nil {
		sess.clientConn.WriteFrame(ctx, notifyFrame)
	}
	return nil
}
