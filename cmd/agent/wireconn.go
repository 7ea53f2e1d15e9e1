package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// agentWireConn adapts a gorilla/websocket connection to ioadapter.WireConn
// for the agent side of the gateway<->agent socket. Writes are guarded by a
// mutex because VoiceAdapter/TextAdapter may call SendX methods from the
// Agent Core's onEvent callback concurrently with the read loop's own error
// path closing the connection.
type agentWireConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newAgentWireConn(c *websocket.Conn) *agentWireConn { return &agentWireConn{conn: c} }

func (c *agentWireConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *agentWireConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *agentWireConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// readRaw blocks for the next frame from the gateway, reporting whether it
// was a binary (audio) frame.
func (c *agentWireConn) readRaw() (binary bool, data []byte, err error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return false, nil, err
	}
	return msgType == websocket.BinaryMessage, data, nil
}

func upgradeAgentConn(w http.ResponseWriter, r *http.Request) (*agentWireConn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newAgentWireConn(c), nil
}
