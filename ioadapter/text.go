package ioadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/protocol"
)

// TextAdapter translates the pure-text adapter obligations of spec §4.6:
// session_init and user_input frames only. It never receives binary audio
// frames — a client connected in text mode does not send them.
type TextAdapter struct {
	frameWriter
	core  *agentcore.Core
	guard *ActiveGuard
}

// NewTextAdapter builds a TextAdapter bound to ModeText.
func NewTextAdapter(conn WireConn, core *agentcore.Core, guard *ActiveGuard) *TextAdapter {
	return &TextAdapter{frameWriter: frameWriter{conn: conn}, core: core, guard: guard}
}

// HandleSessionInit acquires the single-active-adapter slot and starts the
// agent-side session.
func (a *TextAdapter) HandleSessionInit(ctx context.Context, sessionID string, frame protocol.SessionInit) error {
	if err := a.guard.Acquire(sessionID, ModeText); err != nil {
		return err
	}
	_, err := a.core.InitSession(ctx, sessionID, toSession(frame.InheritedMemory))
	return err
}

// HandleTextFrame forwards a user_input frame to AgentCore.
func (a *TextAdapter) HandleTextFrame(ctx context.Context, sessionID string, input protocol.UserInput) error {
	return a.core.HandleUserInput(ctx, sessionID, input.Text)
}

// Close releases the adapter's session slot and underlying connection.
func (a *TextAdapter) Close(sessionID string) error {
	a.guard.Release(sessionID)
	return a.conn.Close()
}

// HandleFrame decodes one inbound JSON text frame and dispatches it.
func (a *TextAdapter) HandleFrame(ctx context.Context, sessionID string, raw []byte) error {
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
		return fmt.Errorf("ioadapter: text adapter received unexpected frame type %q", t)
	}
}
