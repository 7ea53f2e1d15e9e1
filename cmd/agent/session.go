package main

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/clue/log"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/ioadapter"
	"github.com/voxgate/voxgate/protocol"
)

// frameAdapter is the shape common to ioadapter.VoiceAdapter and
// ioadapter.TextAdapter that handleAgentConn drives; both also satisfy
// agentcore.Outbound via their embedded frame writer, which is why they can
// be registered directly into the process-wide fanoutOutbound.
type frameAdapter interface {
	HandleSessionInit(ctx context.Context, sessionID string, frame protocol.SessionInit) error
	HandleFrame(ctx context.Context, sessionID string, raw []byte) error
	Close(sessionID string) error
}

// audioCapable is implemented only by VoiceAdapter; a TextAdapter session
// never receives binary frames.
type audioCapable interface {
	HandleAudioFrame(ctx context.Context, sessionID string, frame []byte) error
}

// handleAgentConn owns one gateway<->agent WebSocket connection end to end:
// it expects session_init first, acks it, then pumps frames to the adapter
// until session_end or disconnect (spec §4.6, §6).
func handleAgentConn(ctx context.Context, cfg config, core *agentcore.Core, outbound *fanoutOutbound, guard *ioadapter.ActiveGuard, conn *agentWireConn) {
	defer conn.Close()

	binary, raw, err := conn.readRaw()
	if err != nil {
		log.Printf(ctx, "agent: connection closed before session_init: %v", err)
		return
	}
	if binary {
		log.Printf(ctx, "agent: expected session_init, got a binary frame")
		return
	}

	t, err := protocol.DecodeEnvelope(raw)
	if err != nil || t != protocol.TypeSessionInit {
		log.Printf(ctx, "agent: expected session_init, got %q (err=%v)", t, err)
		return
	}
	var init protocol.SessionInit
	if err := json.Unmarshal(raw, &init); err != nil {
		log.Printf(ctx, "agent: malformed session_init: %v", err)
		return
	}
	sessionID := init.SessionID

	adapter, err := newAdapter(conn, core, guard, cfg.Mode)
	if err != nil {
		log.Printf(ctx, "agent: %v", err)
		_ = conn.WriteJSON(protocol.Error{Type: protocol.TypeError, Message: err.Error(), Fatal: true})
		return
	}

	outbound.register(sessionID, adapter.(agentcore.Outbound))
	defer outbound.unregister(sessionID)

	if err := adapter.HandleSessionInit(ctx, sessionID, init); err != nil {
		log.Printf(ctx, "agent: session_init failed for session %s: %v", sessionID, err)
		_ = conn.WriteJSON(protocol.Error{Type: protocol.TypeError, Message: err.Error(), Fatal: true})
		_ = adapter.Close(sessionID) // release the guard slot HandleSessionInit may have acquired
		return
	}
	if err := conn.WriteJSON(protocol.SessionAck{Type: protocol.TypeSessionAck, SessionID: sessionID, AgentID: cfg.AgentID}); err != nil {
		log.Printf(ctx, "agent: writing session_ack for session %s: %v", sessionID, err)
		return
	}

	defer func() {
		_ = core.EndSession(context.Background(), sessionID)
		_ = adapter.Close(sessionID)
	}()

	for {
		binary, raw, err := conn.readRaw()
		if err != nil {
			log.Printf(ctx, "agent: session %s disconnected: %v", sessionID, err)
			return
		}

		if binary {
			ac, ok := adapter.(audioCapable)
			if !ok {
				log.Printf(ctx, "agent: session %s received audio frame in a non-audio mode", sessionID)
				continue
			}
			if err := ac.HandleAudioFrame(ctx, sessionID, raw); err != nil {
				log.Printf(ctx, "agent: session %s audio frame: %v", sessionID, err)
			}
			continue
		}

		ft, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			log.Printf(ctx, "agent: session %s malformed frame: %v", sessionID, err)
			continue
		}
		if ft == protocol.TypeSessionEnd {
			log.Printf(ctx, "agent: session %s ended by gateway", sessionID)
			return
		}
		if err := adapter.HandleFrame(ctx, sessionID, raw); err != nil {
			log.Printf(ctx, "agent: session %s frame %q: %v", sessionID, ft, err)
		}
	}
}

func newAdapter(conn ioadapter.WireConn, core *agentcore.Core, guard *ioadapter.ActiveGuard, mode ioadapter.Mode) (frameAdapter, error) {
	switch mode {
	case ioadapter.ModeVoice, ioadapter.ModeHybrid:
		return ioadapter.NewVoiceAdapter(conn, core, guard, mode)
	case ioadapter.ModeText:
		return ioadapter.NewTextAdapter(conn, core, guard), nil
	default:
		return nil, fmt.Errorf("agent: unsupported mode %q", mode)
	}
}
