package ioadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

// fakeConn records every frame written through it instead of touching a
// real socket.
type fakeConn struct {
	jsonFrames   []any
	binaryFrames [][]byte
	closed       bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.jsonFrames = append(f.jsonFrames, v)
	return nil
}
func (f *fakeConn) WriteBinary(data []byte) error {
	f.binaryFrames = append(f.binaryFrames, data)
	return nil
}
func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type noopS2SClient struct {
	onEvent s2s.EventHandler
}

func (c *noopS2SClient) Open(_ context.Context, _ string, _ []s2s.ToolSpec, _ string, onEvent s2s.EventHandler) error {
	c.onEvent = onEvent
	return nil
}
func (c *noopS2SClient) SendUserText(context.Context, string) error     { return nil }
func (c *noopS2SClient) SendUserAudio(context.Context, []byte) error    { return nil }
func (c *noopS2SClient) SendToolResult(context.Context, string, bool, json.RawMessage, string) error {
	return nil
}
func (c *noopS2SClient) Close(context.Context) error { return nil }

type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, call tools.Call) (tools.Result, error) {
	return tools.Result{Success: true, CallID: call.CallID, Payload: json.RawMessage(`{}`)}, nil
}

func newTestCoreForAdapter(t *testing.T, outbound agentcore.Outbound) *agentcore.Core {
	t.Helper()
	g, err := workflow.NewGraph("greeter", []workflow.Node{
		{ID: "start", Type: workflow.NodeStart},
		{ID: "chat", Type: workflow.NodeEnd},
	}, []workflow.Edge{
		{From: "start", To: "chat"},
	})
	require.NoError(t, err)
	engine := workflow.NewEngine(g)
	classifier := tools.NewClassifier("routing", nil)
	dispatcher := tools.NewDispatcher(classifier, noopExecutor{}, noopExecutor{}, nil)
	cfg := agentcore.AgentConfig{AgentID: "greeter", Persona: "Hello.", WorkflowID: "greeter"}
	return agentcore.New(cfg, engine, dispatcher, nil, func() s2s.Client { return &noopS2SClient{} }, outbound, nil)
}

func sessionInitFrame(sessionID string) []byte {
	raw, _ := json.Marshal(protocol.SessionInit{Type: protocol.TypeSessionInit, SessionID: sessionID})
	return raw
}

func userInputFrame(text string) []byte {
	raw, _ := json.Marshal(protocol.UserInput{Type: protocol.TypeUserInput, Text: text})
	return raw
}

func TestVoiceAdapterHandlesSessionInitAudioAndText(t *testing.T) {
	conn := &fakeConn{}
	core := newTestCoreForAdapter(t, frameWriter{conn: conn})
	guard := NewActiveGuard()
	adapter, err := NewVoiceAdapter(conn, core, guard, ModeHybrid)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, adapter.HandleFrame(ctx, "s1", sessionInitFrame("s1")))
	mode, ok := guard.Active("s1")
	assert.True(t, ok)
	assert.Equal(t, ModeHybrid, mode)

	require.NoError(t, adapter.HandleAudioFrame(ctx, "s1", []byte{0x01, 0x02}))
	require.NoError(t, adapter.HandleFrame(ctx, "s1", userInputFrame("hello there")))

	require.NoError(t, adapter.Close("s1"))
	assert.True(t, conn.closed)
	_, ok = guard.Active("s1")
	assert.False(t, ok)
}

func TestVoiceAdapterRejectsTextFrameInPureVoiceMode(t *testing.T) {
	conn := &fakeConn{}
	core := newTestCoreForAdapter(t, frameWriter{conn: conn})
	guard := NewActiveGuard()
	adapter, err := NewVoiceAdapter(conn, core, guard, ModeVoice)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, adapter.HandleSessionInit(ctx, "s1", protocol.SessionInit{SessionID: "s1"}))
	err = adapter.HandleTextFrame(ctx, "s1", protocol.UserInput{Text: "hi"})
	assert.Error(t, err)
}

func TestTextAdapterHandlesSessionInitAndText(t *testing.T) {
	conn := &fakeConn{}
	core := newTestCoreForAdapter(t, frameWriter{conn: conn})
	guard := NewActiveGuard()
	adapter := NewTextAdapter(conn, core, guard)
	ctx := context.Background()

	require.NoError(t, adapter.HandleFrame(ctx, "s1", sessionInitFrame("s1")))
	require.NoError(t, adapter.HandleFrame(ctx, "s1", userInputFrame("hi")))
}

func TestActiveGuardRejectsSecondAdapterForSameSession(t *testing.T) {
	guard := NewActiveGuard()
	require.NoError(t, guard.Acquire("s1", ModeVoice))
	err := guard.Acquire("s1", ModeText)
	assert.ErrorIs(t, err, ErrAdapterAlreadyActive)

	guard.Release("s1")
	assert.NoError(t, guard.Acquire("s1", ModeText))
}

func TestVoiceAdapterSessionInitFailsWhenSlotAlreadyActive(t *testing.T) {
	conn := &fakeConn{}
	core := newTestCoreForAdapter(t, frameWriter{conn: conn})
	guard := NewActiveGuard()
	require.NoError(t, guard.Acquire("s1", ModeVoice))

	adapter, err := NewVoiceAdapter(conn, core, guard, ModeVoice)
	require.NoError(t, err)
	err = adapter.HandleSessionInit(context.Background(), "s1", protocol.SessionInit{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrAdapterAlreadyActive)
}

func TestFrameWriterSendAudioPadsOddLength(t *testing.T) {
	conn := &fakeConn{}
	w := frameWriter{conn: conn}
	require.NoError(t, w.SendAudio("s1", []byte{0x01, 0x02, 0x03}))
	require.Len(t, conn.binaryFrames, 1)
	assert.Len(t, conn.binaryFrames[0], 4)
}

func TestFrameWriterSendTranscriptSetsType(t *testing.T) {
	conn := &fakeConn{}
	w := frameWriter{conn: conn}
	require.NoError(t, w.SendTranscript("s1", "assistant", "hi", true))
	require.Len(t, conn.jsonFrames, 1)
	tr, ok := conn.jsonFrames[0].(protocol.Transcript)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeTranscript, tr.Type)
	assert.Equal(t, "hi", tr.Text)
}

func TestFrameWriterSendHandoffRequestSetsType(t *testing.T) {
	conn := &fakeConn{}
	w := frameWriter{conn: conn}
	require.NoError(t, w.SendHandoffRequest("s1", protocol.HandoffRequest{TargetAgentID: "loans"}))
	require.Len(t, conn.jsonFrames, 1)
	req, ok := conn.jsonFrames[0].(protocol.HandoffRequest)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeHandoffReq, req.Type)
	assert.Equal(t, "loans", req.TargetAgentID)
}
