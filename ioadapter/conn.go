// Package ioadapter implements the I/O Adapter (C6): the thin,
// business-logic-free translation layer between the gateway<->agent wire
// protocol (protocol package) and Agent Core operations. It owns framing,
// nothing else (spec §4.6): every adapter obligation here is a direct
// one-line forward to agentcore.Core or a direct one-line frame write.
package ioadapter

// WireConn is the minimal transport seam an adapter writes frames through.
// A gorilla/websocket-backed implementation lives in cmd/agent; tests
// substitute a recording fake.
type WireConn interface {
	WriteJSON(v any) error
	WriteBinary(data []byte) error
	Close() error
}

// Mode selects which adapter is active for a session (spec §4.6).
type Mode string

const (
	ModeVoice  Mode = "voice"
	ModeText   Mode = "text"
	ModeHybrid Mode = "hybrid"
)
