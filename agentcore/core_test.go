package agentcore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

// stubS2SClient is a minimal in-process s2s.Client for driving Core without
// a real model.
type stubS2SClient struct {
	opened      bool
	closed      bool
	onEvent     s2s.EventHandler
	sentTexts   []string
	toolResults []string
}

func (s *stubS2SClient) Open(_ context.Context, _ string, _ []s2s.ToolSpec, _ string, onEvent s2s.EventHandler) error {
	s.opened = true
	s.onEvent = onEvent
	return nil
}
func (s *stubS2SClient) SendUserText(_ context.Context, text string) error {
	s.sentTexts = append(s.sentTexts, text)
	return nil
}
func (s *stubS2SClient) SendUserAudio(context.Context, []byte) error { return nil }
func (s *stubS2SClient) SendToolResult(_ context.Context, _ string, success bool, _ json.RawMessage, _ string) error {
	outcome := "fail"
	if success {
		outcome = "ok"
	}
	s.toolResults = append(s.toolResults, outcome)
	return nil
}
func (s *stubS2SClient) Close(context.Context) error {
	s.closed = true
	return nil
}

// stubOutbound records every frame Core sends upward.
type stubOutbound struct {
	transcripts     []string
	toolUses        []tools.Call
	workflowUpdates []string
	decisionsMade   []protocol.DecisionMade
	handoffRequests []protocol.HandoffRequest
	memoryUpdates   []protocol.UpdateMemory
	errors          []string
}

func (o *stubOutbound) SendTranscript(_, _, text string, _ bool) error {
	o.transcripts = append(o.transcripts, text)
	return nil
}
func (o *stubOutbound) SendAudio(string, []byte) error { return nil }
func (o *stubOutbound) SendToolUse(_ string, call tools.Call) error {
	o.toolUses = append(o.toolUses, call)
	return nil
}
func (o *stubOutbound) SendWorkflowUpdate(_ string, nodeID string, _ workflow.NodeType, _ []string, _ bool) error {
	o.workflowUpdates = append(o.workflowUpdates, nodeID)
	return nil
}
func (o *stubOutbound) SendDecisionMade(_ string, nodeID string, chosenEdge string, reasoning string) error {
	o.decisionsMade = append(o.decisionsMade, protocol.DecisionMade{NodeID: nodeID, ChosenEdge: chosenEdge, Reasoning: reasoning})
	return nil
}
func (o *stubOutbound) SendHandoffRequest(_ string, req protocol.HandoffRequest) error {
	o.handoffRequests = append(o.handoffRequests, req)
	return nil
}
func (o *stubOutbound) SendUpdateMemory(_ string, patch protocol.UpdateMemory) error {
	o.memoryUpdates = append(o.memoryUpdates, patch)
	return nil
}
func (o *stubOutbound) SendUsage(string, int, int, int) error { return nil }
func (o *stubOutbound) SendError(_ string, message string, _ bool) error {
	o.errors = append(o.errors, message)
	return nil
}

func idvWorkflow(t *testing.T) *workflow.Engine {
	t.Helper()
	g, err := workflow.NewGraph("idv", []workflow.Node{
		{ID: "start", Type: workflow.NodeStart},
		{ID: "verify", Type: workflow.NodeToolCall},
		{ID: "approved", Type: workflow.NodeEnd},
		{ID: "denied", Type: workflow.NodeEnd},
	}, []workflow.Edge{
		{From: "start", To: "verify"},
		{From: "verify", To: "approved", Guard: `toolResult.auth_status == "VERIFIED"`},
		{From: "verify", To: "denied", Guard: `toolResult.auth_status == "PENDING"`},
	})
	require.NoError(t, err)
	return workflow.NewEngine(g)
}

func newTestCore(t *testing.T, engine *workflow.Engine, client *stubS2SClient, outbound *stubOutbound) *Core {
	t.Helper()
	classifier := tools.NewClassifier("routing", []string{"perform_idv_check"})
	data := &stubExecutor{result: tools.Result{Success: true, Payload: json.RawMessage(
		`{"auth_status":"VERIFIED","customer_name":"Sarah","account":"12345678","sortCode":"112233"}`)}}
	dispatcher := tools.NewDispatcher(classifier, data, data, []tools.Spec{{Name: "perform_idv_check"}})

	cfg := AgentConfig{AgentID: "banking", Persona: "You are the banking specialist.", WorkflowID: "idv", ToolScopes: []string{"perform_idv_check"}}
	return New(cfg, engine, dispatcher, map[string]s2s.ToolSpec{
		"perform_idv_check": {Name: "perform_idv_check", Description: "Verify the customer"},
	}, func() s2s.Client { return client }, outbound, nil)
}

type stubExecutor struct {
	result tools.Result
}

func (s *stubExecutor) Execute(_ context.Context, call tools.Call) (tools.Result, error) {
	r := s.result
	r.CallID = call.CallID
	return r, nil
}

func TestInitSessionOpensClientAndTransitionsToS1(t *testing.T) {
	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	core := newTestCore(t, idvWorkflow(t), client, outbound)

	sc, err := core.InitSession(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.True(t, client.opened)
	assert.Equal(t, StateInitialized, sc.State)
}

func TestInitSessionRejectsDuplicateSessionID(t *testing.T) {
	client := &stubS2SClient{}
	core := newTestCore(t, idvWorkflow(t), client, &stubOutbound{})

	_, err := core.InitSession(context.Background(), "s1", nil)
	require.NoError(t, err)
	_, err = core.InitSession(context.Background(), "s1", nil)
	assert.Error(t, err)
}

func TestHandleUserInputForwardsToClientAndActivates(t *testing.T) {
	client := &stubS2SClient{}
	core := newTestCore(t, idvWorkflow(t), client, &stubOutbound{})
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)
	require.NoError(t, core.HandleUserInput(ctx, "s1", "hello"))

	assert.Equal(t, []string{"hello"}, client.sentTexts)
	entry, err := core.entry("s1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, entry.state)
}

func TestOnToolCallIDVSuccessUpdatesMemoryAndAdvancesToolCallNode(t *testing.T) {
	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	core := newTestCore(t, idvWorkflow(t), client, outbound)
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)

	err = core.OnToolCall(ctx, "s1", tools.Call{ToolName: "perform_idv_check", Arguments: json.RawMessage(`{}`), CallID: "c1"})
	require.NoError(t, err)

	require.Len(t, outbound.memoryUpdates, 1)
	assert.Equal(t, "Sarah", outbound.memoryUpdates[0].VerifiedUser.CustomerName)
	require.Len(t, outbound.toolUses, 1)
	require.Len(t, outbound.workflowUpdates, 1)
	assert.Equal(t, "approved", outbound.workflowUpdates[0])
	assert.Empty(t, outbound.decisionsMade)
	assert.Equal(t, []string{"ok"}, client.toolResults)

	entry, err := core.entry("s1")
	require.NoError(t, err)
	assert.Equal(t, "approved", entry.workflow.CurrentNodeID)
}

func TestOnToolCallHandoffDoesNotExecuteAndBubblesUp(t *testing.T) {
	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	core := newTestCore(t, idvWorkflow(t), client, outbound)
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)

	err = core.OnToolCall(ctx, "s1", tools.Call{
		ToolName: "transfer_to_loans", CallID: "c1", Arguments: json.RawMessage(`{"reason":"apply for a loan"}`),
	})
	require.NoError(t, err)

	require.Len(t, outbound.handoffRequests, 1)
	assert.Equal(t, "loans", outbound.handoffRequests[0].TargetAgentID)
	assert.Equal(t, "apply for a loan", outbound.handoffRequests[0].Reason)
	assert.Empty(t, outbound.handoffRequests[0].TaskCompleted)
	assert.Empty(t, outbound.toolUses)
	assert.Empty(t, client.toolResults)
}

func TestOnAssistantEventForwardsTranscript(t *testing.T) {
	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	core := newTestCore(t, idvWorkflow(t), client, outbound)
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)

	err = core.OnAssistantEvent(ctx, "s1", s2s.Event{Kind: s2s.EventAssistantText, Text: "hi there", Final: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi there"}, outbound.transcripts)
}

func TestOnAssistantEventAdvancesDecisionNode(t *testing.T) {
	g, err := workflow.NewGraph("routing-flow", []workflow.Node{
		{ID: "start", Type: workflow.NodeStart},
		{ID: "decide", Type: workflow.NodeDecision},
		{ID: "balance_path", Type: workflow.NodeEnd},
		{ID: "fallback_path", Type: workflow.NodeEnd},
	}, []workflow.Edge{
		{From: "start", To: "decide"},
		{From: "decide", To: "balance_path", Guard: `userIntent contains "balance"`},
		{From: "decide", To: "fallback_path"},
	})
	require.NoError(t, err)
	engine := workflow.NewEngine(g)

	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	classifier := tools.NewClassifier("routing", nil)
	dispatcher := tools.NewDispatcher(classifier, &stubExecutor{}, &stubExecutor{}, nil)
	cfg := AgentConfig{AgentID: "routing", WorkflowID: "routing-flow", IsRoutingAgent: true}
	core := New(cfg, engine, dispatcher, nil, func() s2s.Client { return client }, outbound, nil)

	ctx := context.Background()
	inherited := &memory.Session{UserIntent: "check my balance"}
	_, err = core.InitSession(ctx, "s1", inherited)
	require.NoError(t, err)

	entry, err := core.entry("s1")
	require.NoError(t, err)
	entry.mu.Lock()
	entry.workflow.CurrentNodeID = "decide"
	entry.mu.Unlock()

	require.NoError(t, core.OnAssistantEvent(ctx, "s1", s2s.Event{Kind: s2s.EventAssistantText, Text: "sure", Final: true}))

	entry, err = core.entry("s1")
	require.NoError(t, err)
	assert.Equal(t, "balance_path", entry.workflow.CurrentNodeID)
	require.Len(t, outbound.workflowUpdates, 1)
	assert.Equal(t, "balance_path", outbound.workflowUpdates[0])

	require.Len(t, outbound.decisionsMade, 1)
	assert.Equal(t, "decide", outbound.decisionsMade[0].NodeID)
	assert.Equal(t, "balance_path", outbound.decisionsMade[0].ChosenEdge)
	assert.Equal(t, `userIntent contains "balance"`, outbound.decisionsMade[0].Reasoning)
}

func TestEndSessionClosesClientAndClearsDispatcherCache(t *testing.T) {
	client := &stubS2SClient{}
	core := newTestCore(t, idvWorkflow(t), client, &stubOutbound{})
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)
	require.NoError(t, core.EndSession(ctx, "s1"))

	assert.True(t, client.closed)
	_, err = core.entry("s1")
	assert.Error(t, err)
}

func TestInitSessionAutoTriggersFromInheritedIntent(t *testing.T) {
	client := &stubS2SClient{}
	classifier := tools.NewClassifier("routing", nil)
	dispatcher := tools.NewDispatcher(classifier, nil, nil, nil)
	cfg := AgentConfig{AgentID: "banking", WorkflowID: "idv", AutoTriggerEnabled: true}
	core := New(cfg, idvWorkflow(t), dispatcher, nil, func() s2s.Client { return client }, &stubOutbound{}, nil)

	_, err := core.InitSession(context.Background(), "s1", &memory.Session{UserIntent: "balance inquiry"})
	require.NoError(t, err)

	assert.Equal(t, []string{"balance inquiry"}, client.sentTexts)
}

func TestInitSessionAutoTriggerSkipsWithoutInheritedIntent(t *testing.T) {
	client := &stubS2SClient{}
	classifier := tools.NewClassifier("routing", nil)
	dispatcher := tools.NewDispatcher(classifier, nil, nil, nil)
	cfg := AgentConfig{AgentID: "banking", WorkflowID: "idv", AutoTriggerEnabled: true}
	core := New(cfg, idvWorkflow(t), dispatcher, nil, func() s2s.Client { return client }, &stubOutbound{}, nil)

	_, err := core.InitSession(context.Background(), "s1", nil)
	require.NoError(t, err)

	assert.Empty(t, client.sentTexts)
}

func TestOnAssistantEventFatalErrorClosesSessionState(t *testing.T) {
	client := &stubS2SClient{}
	outbound := &stubOutbound{}
	core := newTestCore(t, idvWorkflow(t), client, outbound)
	ctx := context.Background()

	_, err := core.InitSession(ctx, "s1", nil)
	require.NoError(t, err)

	err = core.OnAssistantEvent(ctx, "s1", s2s.Event{Kind: s2s.EventError, Err: assert.AnError, Fatal: true})
	require.NoError(t, err)

	entry, err := core.entry("s1")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, entry.state)
	assert.Equal(t, []string{assert.AnError.Error()}, outbound.errors)
}
