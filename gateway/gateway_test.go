package gateway

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/registry"
)

// fakeConn is an in-memory Conn: inbound frames are fed through a channel,
// outbound frames are recorded for assertions.
type fakeConn struct {
	mu     sync.Mutex
	inbox  chan Frame
	sent   []Frame
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan Frame, 64)}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.inbox:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.inbox)
	return nil
}

func (c *fakeConn) push(f Frame) { c.inbox <- f }

func (c *fakeConn) sentOfType(t protocol.FrameType) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.sent {
		if f.Binary {
			continue
		}
		typ, err := protocol.DecodeEnvelope(f.Data)
		if err == nil && typ == t {
			out = append(out, f)
		}
	}
	return out
}

func jsonInbound(t *testing.T, v any) Frame {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return Frame{Data: data}
}

func newTestGateway(t *testing.T, dial Dialer) (*Gateway, *registry.Registry, *memory.Store) {
	t.Helper()
	reg := registry.New(time.Minute)
	store := memory.New()
	cfg := DefaultConfig()
	cfg.SelectWorkflowTimeout = 200 * time.Millisecond
	cfg.SessionAckTimeout = 200 * time.Millisecond
	cfg.MemoryGracePeriod = 10 * time.Millisecond
	gw := New(reg, store, dial, cfg, nil)
	return gw, reg, store
}

func registerAgent(t *testing.T, reg *registry.Registry, id, endpoint string, routing bool) {
	t.Helper()
	require.NoError(t, reg.Register(registry.Agent{
		ID:            id,
		Endpoint:      endpoint,
		Capabilities:  registry.Capabilities{Routing: routing, ToolScopes: []string{"x"}},
		WorkflowID:    id,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}))
}

func TestServeAcceptsAndSelectsNamedWorkflow(t *testing.T) {
	var dialed string
	gw, reg, _ := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		dialed = endpoint
		return newFakeConn(), nil
	})
	registerAgent(t, reg, "banking", "banking:1", false)
	registerAgent(t, reg, "routing", "routing:1", true)

	client := newFakeConn()
	client.push(jsonInbound(t, protocol.SelectWorkflow{Type: protocol.TypeSelectWorkflow, WorkflowID: "banking"}))

	done := make(chan error, 1)
	go func() { done <- gw.Serve(context.Background(), client) }()

	time.Sleep(50 * time.Millisecond)
	client.Close()
	<-done

	connected := client.sentOfType(protocol.TypeConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, "banking:1", dialed)
}

func TestServeFallsBackToRoutingAgentWhenNoSelectWorkflow(t *testing.T) {
	var dialed string
	gw, reg, _ := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		dialed = endpoint
		return newFakeConn(), nil
	})
	registerAgent(t, reg, "routing", "routing:1", true)

	client := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- gw.Serve(context.Background(), client) }()

	time.Sleep(300 * time.Millisecond)
	client.Close()
	<-done

	assert.Equal(t, "routing:1", dialed)
}

func TestServeSendsFatalErrorWhenNoRoutingAgentRegistered(t *testing.T) {
	gw, _, _ := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		return newFakeConn(), nil
	})

	client := newFakeConn()
	err := gw.Serve(context.Background(), client)
	require.Error(t, err)

	errs := client.sentOfType(protocol.TypeError)
	require.Len(t, errs, 1)
	var ef protocol.Error
	require.NoError(t, json.Unmarshal(errs[0].Data, &ef))
	assert.True(t, ef.Fatal)
}

func TestSelectWorkflowMidSessionIsIgnored(t *testing.T) {
	upstream := newFakeConn()
	gw, reg, _ := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		return upstream, nil
	})
	registerAgent(t, reg, "banking", "banking:1", false)

	client := newFakeConn()
	client.push(jsonInbound(t, protocol.SelectWorkflow{Type: protocol.TypeSelectWorkflow, WorkflowID: "banking"}))

	done := make(chan error, 1)
	go func() { done <- gw.Serve(context.Background(), client) }()
	time.Sleep(50 * time.Millisecond)

	client.push(jsonInbound(t, protocol.SelectWorkflow{Type: protocol.TypeSelectWorkflow, WorkflowID: "other"}))
	time.Sleep(50 * time.Millisecond)

	client.Close()
	<-done

	// The mid-session select_workflow must not have been forwarded upstream.
	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	for _, f := range upstream.sent {
		typ, err := protocol.DecodeEnvelope(f.Data)
		if err == nil {
			assert.NotEqual(t, protocol.TypeSelectWorkflow, typ)
		}
	}
}

func TestUpdateMemoryFrameAppliesToSessionMemory(t *testing.T) {
	upstream := newFakeConn()
	gw, reg, store := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		return upstream, nil
	})
	registerAgent(t, reg, "banking", "banking:1", true)

	client := newFakeConn()
	client.push(jsonInbound(t, protocol.SelectWorkflow{Type: protocol.TypeSelectWorkflow, WorkflowID: "banking"}))

	done := make(chan error, 1)
	var sessionID string
	go func() { done <- gw.Serve(context.Background(), client) }()
	time.Sleep(50 * time.Millisecond)

	connectedFrames := client.sentOfType(protocol.TypeConnected)
	require.Len(t, connectedFrames, 1)
	var c protocol.Connected
	require.NoError(t, json.Unmarshal(connectedFrames[0].Data, &c))
	sessionID = c.SessionID

	intent := "check balance"
	upstream.push(jsonInbound(t, protocol.UpdateMemory{Type: protocol.TypeUpdateMemory, UserIntent: &intent}))
	time.Sleep(50 * time.Millisecond)

	got, err := store.Get(sessionID)
	require.NoError(t, err)
	assert.Equal(t, "check balance", got.UserIntent)

	client.Close()
	<-done
}

func TestBinaryFrameFromClientIsPaddedAndForwarded(t *testing.T) {
	upstream := newFakeConn()
	gw, reg, _ := newTestGateway(t, func(ctx context.Context, endpoint string) (Conn, error) {
		return upstream, nil
	})
	registerAgent(t, reg, "banking", "banking:1", false)

	client := newFakeConn()
	client.push(jsonInbound(t, protocol.SelectWorkflow{Type: protocol.TypeSelectWorkflow, WorkflowID: "banking"}))

	done := make(chan error, 1)
	go func() { done <- gw.Serve(context.Background(), client) }()
	time.Sleep(50 * time.Millisecond)

	client.push(Frame{Binary: true, Data: []byte{0x01, 0x02, 0x03}})
	time.Sleep(50 * time.Millisecond)

	client.Close()
	<-done

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	var found bool
	for _, f := range upstream.sent {
		if f.Binary {
			found = true
			assert.Len(t, f.Data, 4)
		}
	}
	assert.True(t, found)
}
