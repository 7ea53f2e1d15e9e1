// Package agentcore implements the Agent Core (C5): the voice-agnostic
// brain of one agent process. It drives an S2SClient from user input,
// dispatches the model's tool calls through the Tool Dispatcher, advances
// the agent's workflow state, and forwards outbound events to whatever
// process hosts it (normally cmd/agent's Gateway-facing connection).
package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/protocol"
	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/telemetry"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

// Outbound is everything Core needs to push to the agent's Gateway-facing
// connection. It is the seam between Agent Core and the transport that
// carries frames back upstream; cmd/agent wires a concrete implementation
// over the gateway<->agent WebSocket.
type Outbound interface {
	SendTranscript(sessionID, role, text string, final bool) error
	SendAudio(sessionID string, frame []byte) error
	SendToolUse(sessionID string, call tools.Call) error
	SendWorkflowUpdate(sessionID string, nodeID string, nodeType workflow.NodeType, nextNodes []string, validTransition bool) error
	SendDecisionMade(sessionID string, nodeID string, chosenEdge string, reasoning string) error
	SendHandoffRequest(sessionID string, req protocol.HandoffRequest) error
	SendUpdateMemory(sessionID string, patch protocol.UpdateMemory) error
	SendUsage(sessionID string, inputTokens, outputTokens, audioMs int) error
	SendError(sessionID string, message string, fatal bool) error
}

// ClientFactory builds a fresh s2s.Client for one session. Each session
// gets its own model session (spec §4.5: "one Client instance corresponds
// to one live model session").
type ClientFactory func() s2s.Client

// Core implements C5 for one agent process.
type Core struct {
	cfg         AgentConfig
	engine      *workflow.Engine
	dispatcher  *tools.Dispatcher
	toolCatalog map[string]s2s.ToolSpec
	newClient   ClientFactory
	outbound    Outbound
	metrics     *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New builds a Core for one agent process. toolCatalog is the full set of
// data/IDV tools known to this deployment, keyed by name; InitSession
// filters it down to cfg.ToolScopes plus handoff tools per session.
func New(cfg AgentConfig, engine *workflow.Engine, dispatcher *tools.Dispatcher, toolCatalog map[string]s2s.ToolSpec, newClient ClientFactory, outbound Outbound, metrics *telemetry.Metrics) *Core {
	return &Core{
		cfg:         cfg,
		engine:      engine,
		dispatcher:  dispatcher,
		toolCatalog: toolCatalog,
		newClient:   newClient,
		outbound:    outbound,
		metrics:     metrics,
		sessions:    make(map[string]*sessionEntry),
	}
}

// InitSession implements spec §4.5's InitSession: builds the load-bearing
// system prompt, opens the S2SClient, and transitions S0 -> S1. A second
// InitSession for an already-known session id is rejected.
func (c *Core) InitSession(ctx context.Context, sessionID string, inherited *memory.Session) (SessionContext, error) {
	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return SessionContext{}, fmt.Errorf("agentcore: session %q already initialized", sessionID)
	}
	c.mu.Unlock()

	entry := &sessionEntry{agentID: c.cfg.AgentID, state: StateUninitialized}
	if inherited != nil {
		entry.verified = inherited.Verified
		entry.userIntent = inherited.UserIntent
	}

	var workflowRendering string
	if c.cfg.WorkflowID != "" {
		st, err := c.engine.Init(c.cfg.WorkflowID)
		if err != nil {
			return SessionContext{}, fmt.Errorf("agentcore: init workflow: %w", err)
		}
		g, _ := c.engine.Graph(c.cfg.WorkflowID)
		guardCtx := workflow.Context{Verified: entry.verified, UserIntent: entry.userIntent}
		st = c.autoAdvance(g, st, guardCtx)

		entry.hasWorkflow = true
		entry.workflow = st
		workflowRendering = renderWorkflow(g, st)
	}

	systemPrompt := buildSystemPrompt(inherited, c.cfg.Persona, renderHandoffTools(c.cfg), workflowRendering)
	catalog := toolCatalog(c.cfg, c.toolCatalog)

	client := c.newClient()
	onEvent := func(ctx context.Context, evt s2s.Event) {
		if evt.Kind == s2s.EventToolCall {
			if err := c.OnToolCall(ctx, sessionID, tools.Call{ToolName: evt.ToolName, Arguments: evt.Arguments, CallID: evt.ToolCallID}); err != nil {
				telemetry.Errorf(ctx, err, "agentcore: tool call handling failed for session %s", sessionID)
			}
			return
		}
		if err := c.OnAssistantEvent(ctx, sessionID, evt); err != nil {
			telemetry.Errorf(ctx, err, "agentcore: assistant event handling failed for session %s", sessionID)
		}
	}

	if err := client.Open(ctx, systemPrompt, catalog, c.cfg.VoicePreset, onEvent); err != nil {
		entry.state = StateClosed
		return SessionContext{SessionID: sessionID, AgentID: c.cfg.AgentID, State: StateClosed},
			fmt.Errorf("agentcore: open S2S session: %w", err)
	}
	entry.client = client
	entry.state = StateInitialized

	c.mu.Lock()
	c.sessions[sessionID] = entry
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Sessions.Add(ctx, 1)
	}

	c.maybeAutoTrigger(ctx, sessionID, entry)

	return SessionContext{SessionID: sessionID, AgentID: c.cfg.AgentID, State: StateInitialized}, nil
}

// maybeAutoTrigger sends a synthetic first user utterance reconstructed
// from inherited.userIntent when this agent is configured for it (spec §9
// "Auto-trigger on inherited memory"). entry.autoTriggered makes this a
// one-shot action per session entry.
func (c *Core) maybeAutoTrigger(ctx context.Context, sessionID string, entry *sessionEntry) {
	if !c.cfg.AutoTriggerEnabled {
		return
	}

	entry.mu.Lock()
	intent := entry.userIntent
	already := entry.autoTriggered
	if !already && intent != "" {
		entry.autoTriggered = true
		entry.state = StateActive
	}
	client := entry.client
	entry.mu.Unlock()

	if already || intent == "" || client == nil {
		return
	}

	if err := client.SendUserText(ctx, intent); err != nil {
		telemetry.Errorf(ctx, err, "agentcore: auto-trigger failed for session %s", sessionID)
	}
}

// HandleUserInput implements spec §4.5: forwards text to the S2S session,
// transitioning S1 -> S2 on the first user or assistant event.
func (c *Core) HandleUserInput(ctx context.Context, sessionID string, text string) error {
	entry, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	client := entry.client
	if entry.state == StateInitialized {
		entry.state = StateActive
	}
	entry.mu.Unlock()

	if client == nil {
		return fmt.Errorf("agentcore: session %q has no open S2S client", sessionID)
	}
	return client.SendUserText(ctx, text)
}

// HandleUserAudio forwards a PCM audio frame straight to the S2S session,
// bypassing text routing (spec §4.6: voice/hybrid adapters call this
// directly from an inbound binary frame, not through HandleUserInput).
func (c *Core) HandleUserAudio(ctx context.Context, sessionID string, frame []byte) error {
	entry, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	client := entry.client
	if entry.state == StateInitialized {
		entry.state = StateActive
	}
	entry.mu.Unlock()

	if client == nil {
		return fmt.Errorf("agentcore: session %q has no open S2S client", sessionID)
	}
	return client.SendUserAudio(ctx, frame)
}

// OnToolCall implements spec §4.5: delegates call to the Tool Dispatcher.
// A handoff-classified call bubbles a HandoffRequest upward instead of
// being executed; a completed data/IDV call is reported to the client,
// fed back to the model, and may advance a toolcall-node workflow edge.
func (c *Core) OnToolCall(ctx context.Context, sessionID string, call tools.Call) error {
	entry, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.ToolCalls.Add(ctx, 1)
	}

	result, handoffEvt, memEvt, err := c.dispatcher.Dispatch(ctx, sessionID, call)
	if err != nil {
		return c.outbound.SendError(sessionID, err.Error(), false)
	}

	if handoffEvt != nil {
		entry.mu.Lock()
		verified, userIntent := entry.verified, entry.userIntent
		entry.mu.Unlock()

		req := protocol.HandoffRequest{
			Type:          protocol.TypeHandoffReq,
			TargetAgentID: handoffEvt.TargetAgentID,
			IsReturn:      handoffEvt.IsReturn,
			InheritedMemory: protocol.MemorySnapshot{
				Verified:   verified,
				UserIntent: userIntent,
			},
		}
		if handoffEvt.IsReturn {
			req.TaskCompleted = handoffEvt.TaskCompleted
		} else {
			req.Reason = handoffEvt.Reason
		}
		return c.outbound.SendHandoffRequest(sessionID, req)
	}

	if err := c.outbound.SendToolUse(sessionID, call); err != nil {
		return err
	}

	if memEvt != nil {
		entry.mu.Lock()
		entry.verified = true
		entry.mu.Unlock()

		patch := protocol.UpdateMemory{
			Type: protocol.TypeUpdateMemory,
			VerifiedUser: &protocol.VerifiedUser{
				CustomerName: memEvt.VerifiedUser.CustomerName,
				AccountID:    memEvt.VerifiedUser.AccountID,
				SortCode:     memEvt.VerifiedUser.SortCode,
			},
		}
		if err := c.outbound.SendUpdateMemory(sessionID, patch); err != nil {
			return err
		}
	}

	entry.mu.Lock()
	entry.lastToolResult = flattenResult(result.Payload)
	entry.mu.Unlock()

	c.maybeAdvanceToolCallNode(ctx, sessionID, entry)

	errMsg := result.ErrorMessage
	return entry.client.SendToolResult(ctx, call.CallID, result.Success, result.Payload, errMsg)
}

// OnAssistantEvent implements spec §4.5: forwards non-tool-call events to
// the adapter and advances workflow state on decision nodes.
func (c *Core) OnAssistantEvent(ctx context.Context, sessionID string, evt s2s.Event) error {
	entry, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if entry.state == StateInitialized {
		entry.state = StateActive
	}
	entry.mu.Unlock()

	switch evt.Kind {
	case s2s.EventAssistantText:
		if err := c.outbound.SendTranscript(sessionID, "assistant", evt.Text, evt.Final); err != nil {
			return err
		}
	case s2s.EventAssistantAudio:
		if err := c.outbound.SendAudio(sessionID, evt.Audio); err != nil {
			return err
		}
	case s2s.EventUsageReport:
		if err := c.outbound.SendUsage(sessionID, evt.InputTokens, evt.OutputTokens, evt.AudioMs); err != nil {
			return err
		}
	case s2s.EventInterruption:
		telemetry.Debugf(ctx, "agentcore: interruption on session %s", sessionID)
	case s2s.EventError:
		if c.metrics != nil {
			c.metrics.SessionErrors.Add(ctx, 1)
		}
		msg := ""
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		if err := c.outbound.SendError(sessionID, msg, evt.Fatal); err != nil {
			return err
		}
		if evt.Fatal {
			entry.mu.Lock()
			entry.state = StateClosed
			entry.mu.Unlock()
		}
	case s2s.EventToolCall:
		// Tool calls are routed to OnToolCall by the onEvent closure built
		// in InitSession; arriving here indicates a misconfigured client.
		return fmt.Errorf("agentcore: ToolCall event reached OnAssistantEvent for session %s", sessionID)
	}

	c.maybeAdvanceDecisionNode(ctx, sessionID, entry)
	return nil
}

// EndSession implements spec §4.5: closes the S2S session and discards the
// per-session workflow and dispatcher cache state. SessionMemory is owned
// by the Gateway and is untouched here.
func (c *Core) EndSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	entry, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	entry.state = StateClosing
	client := entry.client
	entry.mu.Unlock()

	c.dispatcher.ClearSession(sessionID)

	if c.metrics != nil {
		c.metrics.Sessions.Add(ctx, -1)
	}

	var err error
	if client != nil {
		err = client.Close(ctx)
	}
	entry.mu.Lock()
	entry.state = StateClosed
	entry.mu.Unlock()
	return err
}

func (c *Core) entry(sessionID string) (*sessionEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("agentcore: unknown session %q", sessionID)
	}
	return e, nil
}

// maybeAdvanceToolCallNode advances entry's workflow state if its current
// node is a toolcall node and some outbound edge's guard is now satisfied
// (spec §4.5: "advances the workflow if the current node is a toolcall
// node and a matching edge guard fires").
func (c *Core) maybeAdvanceToolCallNode(ctx context.Context, sessionID string, entry *sessionEntry) {
	c.advanceIfNodeType(ctx, sessionID, entry, workflow.NodeToolCall)
}

// maybeAdvanceDecisionNode advances entry's workflow state if its current
// node is a decision node (spec §4.5: "updates workflow state on decision
// nodes using the current SessionMemory as guard context").
func (c *Core) maybeAdvanceDecisionNode(ctx context.Context, sessionID string, entry *sessionEntry) {
	c.advanceIfNodeType(ctx, sessionID, entry, workflow.NodeDecision)
}

func (c *Core) advanceIfNodeType(ctx context.Context, sessionID string, entry *sessionEntry, nodeType workflow.NodeType) {
	entry.mu.Lock()
	hasWorkflow := entry.hasWorkflow
	state := entry.workflow
	guardCtx := workflow.Context{Verified: entry.verified, UserIntent: entry.userIntent, ToolResult: entry.lastToolResult}
	entry.mu.Unlock()
	if !hasWorkflow {
		return
	}

	g, ok := c.engine.Graph(state.GraphID)
	if !ok {
		return
	}
	node, ok := g.Node(state.CurrentNodeID)
	if !ok || node.Type != nodeType {
		return
	}

	next, edge, err := c.engine.AdvanceDecision(state, guardCtx)
	if err != nil {
		return
	}

	entry.mu.Lock()
	entry.workflow = next
	entry.mu.Unlock()

	nextNode, _ := g.Node(next.CurrentNodeID)
	var candidateIDs []string
	for _, cand := range g.EdgesFrom(state.CurrentNodeID) {
		candidateIDs = append(candidateIDs, cand.To)
	}
	_ = c.outbound.SendWorkflowUpdate(sessionID, next.CurrentNodeID, nextNode.Type, candidateIDs, true)
	if nodeType == workflow.NodeDecision {
		_ = c.outbound.SendDecisionMade(sessionID, state.CurrentNodeID, next.CurrentNodeID, edge.Guard)
	}
	telemetry.Debugf(ctx, "agentcore: session %s advanced %s -> %s via edge guard %q", sessionID, state.CurrentNodeID, next.CurrentNodeID, edge.Guard)
}

// autoAdvance follows a chain of unconditional single-edge transitions
// starting at state, stopping at the first decision node, the first node
// with zero or multiple outbound edges, or a node with a guarded edge. It
// exists because a graph's start node (and any plain action node) has
// nothing for Core to wait on: there is only one way forward, so the
// tracker follows it immediately rather than stalling on a node no
// OnToolCall/OnAssistantEvent guard will ever fire for.
func (c *Core) autoAdvance(g *workflow.Graph, state workflow.State, guardCtx workflow.Context) workflow.State {
	for {
		node, ok := g.Node(state.CurrentNodeID)
		if !ok || node.Type == workflow.NodeDecision {
			return state
		}
		edges := g.EdgesFrom(state.CurrentNodeID)
		if len(edges) != 1 || edges[0].Guard != "" {
			return state
		}
		next, err := c.engine.Advance(state, edges[0].To, guardCtx)
		if err != nil {
			return state
		}
		state = next
	}
}

// flattenResult converts a tool result's JSON payload into the flat
// string-keyed map guard evaluation reads as toolResult.<field> (spec
// §4.3). Nested values are skipped; guards only ever address top-level
// fields in the examples spec.md gives.
func flattenResult(payload json.RawMessage) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out
}
