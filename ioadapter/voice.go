package ioadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/protocol"
)

// VoiceAdapter translates the voice and hybrid adapter obligations of spec
// §4.6. In hybrid mode it is the only adapter started for a session: it
// accepts both audio frames and text-input frames, so a separate
// TextAdapter is never needed alongside it.
type VoiceAdapter struct {
	frameWriter
	core  *agentcore.Core
	guard *ActiveGuard
	mode  Mode
}

// NewVoiceAdapter builds a VoiceAdapter in ModeVoice or ModeHybrid.
func NewVoiceAdapter(conn WireConn, core *agentcore.Core, guard *ActiveGuard, mode Mode) (*VoiceAdapter, error) {
	if mode != ModeVoice && mode != ModeHybrid {
		return nil, fmt.Errorf("ioadapter: VoiceAdapter requires ModeVoice or ModeHybrid, got %q", mode)
	}
	return &VoiceAdapter{frameWriter: frameWriter{conn: conn}, core: core, guard: guard, mode: mode}, nil
}

// HandleSessionInit implements the session_init obligation: acquire the
// single-active-adapter slot, then delegate to AgentCore.InitSession.
func (a *VoiceAdapter) HandleSessionInit(ctx context.Context, sessionID string, frame protocol.SessionInit) error {
	if err := a.guard.Acquire(sessionID, a.mode); err != nil {
		return err
	}
	_, err := a.core.InitSession(ctx, sessionID, toSession(frame.InheritedMemory))
	return err
}

// HandleAudioFrame implements the inbound binary-audio obligation: forward
// straight to the S2S session.
func (a *VoiceAdapter) HandleAudioFrame(ctx context.Context, sessionID string, frame []byte) error {
	return a.core.HandleUserAudio(ctx, sessionID, frame)
}

// HandleTextFrame implements the hybrid text-injection obligation: in
// ModeHybrid a text-input frame is routed the same as any text adapter's
// user_input frame. In pure ModeVoice this is rejected — voice-only
// sessions are not supposed to receive text-input frames from the client.
func (a *VoiceAdapter) HandleTextFrame(ctx context.Context, sessionID string, input protocol.UserInput) error {
	if a.mode != ModeHybrid {
		return fmt.Errorf("ioadapter: text input frame is not valid in mode %q", a.mode)
	}
	return a.core.HandleUserInput(ctx, sessionID, input.Text)
}

// Close releases the adapter's session slot and underlying connection.
func (a *VoiceAdapter) Close(sessionID string) error {
	a.guard.Release(sessionID)
	return a.conn.Close()
}

// HandleFrame decodes one inbound JSON text frame and dispatches it to the
// matching obligation. Binary frames are handled separately via
// HandleAudioFrame since they carry no envelope.
func (a *VoiceAdapter) HandleFrame(ctx context.Context, sessionID string, raw []byte) error {
	t, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	switch t {
	case protocol.TypeSessionInit:
		var f protocol.SessionInit
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		return a.HandleSessionInit(ctx, sessionID, f)
	case protocol.TypeUserInput:
		var f protocol.UserInput
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		return a.HandleTextFrame(ctx, sessionID, f)
	default:
		return fmt.Errorf("ioadapter: voice adapter received unexpected frame type %q", t)
	}
}
