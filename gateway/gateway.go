package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/registry"
	"github.com/voxgate/voxgate/telemetry"
)

// Gateway implements the Session Gateway (C7): terminate the client
// WebSocket, select and proxy to an agent, and apply memory updates and
// handoffs intercepted from the proxied stream (spec §4.7).
type Gateway struct {
	registry *registry.Registry
	store    *memory.Store
	dial     Dialer
	cfg      Config
	metrics  *telemetry.Metrics
}

// New builds a Gateway. dial opens an upstream connection to an agent's
// registered endpoint; cmd/gateway supplies one backed by
// gorilla/websocket.
func New(reg *registry.Registry, store *memory.Store, dial Dialer, cfg Config, metrics *telemetry.Metrics) *Gateway {
	return &Gateway{registry: reg, store: store, dial: dial, cfg: cfg.withDefaults(), metrics: metrics}
}

func jsonFrame(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data}, nil
}

// Serve runs the full Accept -> Select -> Dial -> Proxy -> Close lifecycle
// for one client connection. It blocks until the session ends, either by
// client disconnect or by a fatal error. The returned error is nil for an
// ordinary client-initiated close.
func (g *Gateway) Serve(ctx context.Context, client Conn) error {
	sessionID := uuid.NewString()
	g.store.Create(sessionID)
	telemetry.Logf(ctx, "gateway: session %s accepted", sessionID)

	connected, err := jsonFrame(protocol.Connected{Type: protocol.TypeConnected, SessionID: sessionID})
	if err != nil {
		return err
	}
	if err := client.WriteFrame(ctx, connected); err != nil {
		g.closeSession(ctx, sessionID, client, nil)
		return newError(ErrKindNetwork, sessionID, "writing connected frame", false, err)
	}
	if g.metrics != nil {
		g.metrics.Sessions.Add(ctx, 1)
	}
	defer func() {
		if g.metrics != nil {
			g.metrics.Sessions.Add(ctx, -1)
		}
	}()

	agent, err := g.selectAgent(ctx, client)
	if err != nil {
		gwErr := newError(ErrKindUnknownAgent, sessionID, "no agent available to route session", true, err)
		g.sendFatal(ctx, client, gwErr)
		g.closeSession(ctx, sessionID, client, nil)
		return gwErr
	}

	sess := newSessionState(sessionID, client, g.cfg)
	sess.currentAgentID = agent.ID
	g.store.Update(sessionID, memory.Update{SetCurrentAgentID: agent.ID})

	upstream, err := g.dialAgent(ctx, sessionID, agent)
	if err != nil {
		gwErr := newError(ErrKindNetwork, sessionID, "dialing initial agent", true, err)
		g.sendFatal(ctx, client, gwErr)
		g.closeSession(ctx, sessionID, client, nil)
		return gwErr
	}
	sess.upstreamConn = upstream

	err = g.proxy(ctx, sess)
	g.closeSession(ctx, sessionID, client, sess.upstreamConn)
	return err
}

// selectAgent implements the Select step: wait (bounded) for select_workflow,
// otherwise fall back to the routing agent (spec §4.7 step 2).
func (g *Gateway) selectAgent(ctx context.Context, client Conn) (registry.Agent, error) {
	selectCtx, cancel := context.WithTimeout(ctx, g.cfg.SelectWorkflowTimeout)
	defer cancel()

	for {
		frame, err := client.ReadFrame(selectCtx)
		if err != nil {
			break
		}
		if frame.Binary {
			continue
		}
		t, err := protocol.DecodeEnvelope(frame.Data)
		if err != nil || t != protocol.TypeSelectWorkflow {
			continue
		}
		var sel protocol.SelectWorkflow
		if err := json.Unmarshal(frame.Data, &sel); err != nil {
			continue
		}
		agent, err := g.registry.Resolve(sel.WorkflowID, time.Now())
		if err == nil {
			return agent, nil
		}
		// A named-but-unresolvable workflow id falls through to the
		// routing agent rather than failing the whole session.
		break
	}
	return g.registry.Routing()
}

// dialAgent implements the Dial step: open the upstream connection and
// forward session_init with the current SessionMemory snapshot (empty on
// first contact), per spec §4.7 step 3.
func (g *Gateway) dialAgent(ctx context.Context, sessionID string, agent registry.Agent) (Conn, error) {
	conn, err := g.dial(ctx, agent.Endpoint)
	if err != nil {
		return nil, err
	}
	snap, _ := g.store.Snapshot(sessionID)
	init := protocol.SessionInit{
		Type:            protocol.TypeSessionInit,
		SessionID:       sessionID,
		InheritedMemory: snapshotToWire(snap),
	}
	frame, err := jsonFrame(init)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// closeSession implements the Close step: close the upstream connection (if
// any) and schedule SessionMemory deletion after the grace period (spec
// §4.7 step 7).
func (g *Gateway) closeSession(ctx context.Context, sessionID string, client Conn, upstream Conn) {
	client.Close()
	if upstream != nil {
		upstream.Close()
	}
	grace := g.cfg.MemoryGracePeriod
	go func() {
		time.Sleep(grace)
		g.store.Delete(sessionID)
	}()
}

func (g *Gateway) sendFatal(ctx context.Context, client Conn, err *Error) {
	frame, marshalErr := jsonFrame(protocol.Error{Type: protocol.TypeError, Message: err.Message, Fatal: true})
	if marshalErr != nil {
		return
	}
	client.WriteFrame(ctx, frame)
}

func (g *Gateway) sendNonFatal(ctx context.Context, client Conn, message string) {
	frame, err := jsonFrame(protocol.Error{Type: protocol.TypeError, Message: message, Fatal: false})
	if err != nil {
		return
	}
	client.WriteFrame(ctx, frame)
}

func snapshotToWire(s memory.Session) protocol.MemorySnapshot {
	snap := protocol.MemorySnapshot{
		Verified:        s.Verified,
		UserIntent:      s.UserIntent,
		CurrentAgentID:  s.CurrentAgentID,
		TaskSummary:     s.TaskSummary,
		HandoffInFlight: s.HandoffInFlight,
	}
	if s.VerifiedUser != nil {
		snap.VerifiedUser = &protocol.VerifiedUser{
			CustomerName: s.VerifiedUser.CustomerName,
			AccountID:    s.VerifiedUser.AccountID,
			SortCode:     s.VerifiedUser.SortCode,
			VerifiedAt:   s.VerifiedUser.VerifiedAt.Format(time.RFC3339),
		}
	}
	return snap
}
