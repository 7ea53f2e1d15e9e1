package agentcore

import (
	"sync"

	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/workflow"
)

// SessionState is the agent-side state machine of spec §4.5: S0
// Uninitialized -> S1 Initialized -> S2 Active -> S3 Closing -> S4 Closed.
type SessionState string

const (
	StateUninitialized SessionState = "S0"
	StateInitialized   SessionState = "S1"
	StateActive        SessionState = "S2"
	StateClosing       SessionState = "S3"
	StateClosed        SessionState = "S4"
)

// sessionEntry is the per-session bookkeeping Core keeps alongside the
// S2SClient session it drives.
type sessionEntry struct {
	mu sync.Mutex

	agentID string
	state   SessionState
	client  s2s.Client

	verified   bool
	userIntent string

	hasWorkflow bool
	workflow    workflow.State

	// lastToolResult feeds guard evaluation on the next decision/toolcall
	// transition (spec §4.3 Context.ToolResult).
	lastToolResult map[string]string

	// autoTriggered guards the one-shot synthetic first utterance (spec §9
	// "the core must never double-trigger on reconnect").
	autoTriggered bool
}

// SessionContext is the result of InitSession: the minimal view the
// adapter/Gateway need without reaching into Core internals.
type SessionContext struct {
	SessionID string
	AgentID   string
	State     SessionState
}

// AgentConfig is the static, per-agent-process configuration Core needs to
// build prompts and tool catalogs (spec §3 Agent record, declared once at
// agent startup, not mutated per session).
type AgentConfig struct {
	AgentID        string
	Persona        string
	WorkflowID     string
	ToolScopes     []string
	HandoffTargets []string
	IsRoutingAgent bool
	RoutingAgentID string
	VoicePreset    string

	// AutoTriggerEnabled, when true, makes InitSession synthesize a first
	// user utterance from inherited.UserIntent instead of waiting for the
	// client to speak first (spec §9 "Auto-trigger on inherited memory").
	AutoTriggerEnabled bool
}
