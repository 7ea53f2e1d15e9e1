package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxgate/voxgate/gateway"
)

const wsWriteTimeout = 10 * time.Second

// wsConn adapts a gorilla/websocket connection to gateway.Conn. gorilla's
// blocking ReadMessage/WriteMessage take no context, so ctx cancellation is
// honored the way the teacher's signaling client honors read/write
// deadlines (other_examples heartbeat-websocket.go): a watcher goroutine
// forces the deadline to now() when ctx is done, unblocking whichever call
// is in flight.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn { return &wsConn{conn: c} }

func (w *wsConn) ReadFrame(ctx context.Context) (gateway.Frame, error) {
	stop := w.armDeadlineWatcher(ctx, w.conn.SetReadDeadline)
	defer stop()

	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		return gateway.Frame{}, err
	}
	return gateway.Frame{Binary: msgType == websocket.BinaryMessage, Data: data}, nil
}

func (w *wsConn) WriteFrame(ctx context.Context, f gateway.Frame) error {
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if f.Binary {
		msgType = websocket.BinaryMessage
	}
	return w.conn.WriteMessage(msgType, f.Data)
}

func (w *wsConn) Close() error { return w.conn.Close() }

// armDeadlineWatcher spawns a goroutine that calls setDeadline(now) if ctx
// is canceled before stop is invoked, unblocking an in-flight read.
func (w *wsConn) armDeadlineWatcher(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			setDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

var upgrader = websocket.Upgrader{}

func upgradeClientConn(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(c), nil
}

// dialAgent opens an upstream WebSocket to an agent's registered endpoint;
// satisfies gateway.Dialer.
func dialAgent(ctx context.Context, endpoint string) (gateway.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	c, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return newWSConn(c), nil
}
