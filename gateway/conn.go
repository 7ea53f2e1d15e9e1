// Package gateway implements the Session Gateway (C7) and Handoff
// Coordinator (C8): it terminates the client WebSocket, selects and
// proxies to an agent, performs handoffs, and is the sole authority over
// SessionMemory (spec §4.7). Like ioadapter, it is framing-neutral — the
// real gorilla/websocket wiring lives in cmd/gateway; this package only
// needs a Conn to read and write Frames.
package gateway

import "context"

// Frame is one unit exchanged over a Conn: either a JSON text payload or a
// binary PCM payload, mirroring the two frame kinds of spec §6.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is the minimal bidirectional transport seam both the client-facing
// and the upstream-agent-facing side of the proxy read and write through.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Conn to an agent's registered endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)
