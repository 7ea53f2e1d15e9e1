// Package protocol defines the wire frames exchanged on the two WebSocket
// boundaries of the system: client<->gateway and gateway<->agent. Both
// boundaries share the same two frame kinds — JSON text frames carrying a
// "type" discriminator, and binary frames carrying little-endian 16-bit PCM
// audio — so both sides of every proxy hop can be handled with one decoder.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates a JSON frame's payload shape.
type FrameType string

// Client -> Gateway frame types.
const (
	TypeSelectWorkflow FrameType = "select_workflow"
	TypeUserInput      FrameType = "user_input"
	TypeEndAudio       FrameType = "end_audio"
	TypePing           FrameType = "ping"
)

// Gateway -> Client frame types.
const (
	TypeConnected     FrameType = "connected"
	TypeTranscript    FrameType = "transcript"
	TypeWorkflowUpdate FrameType = "workflow_update"
	TypeToolUse       FrameType = "tool_use"
	TypeDecisionMade  FrameType = "decision_made"
	TypeHandoff       FrameType = "handoff"
	TypeError         FrameType = "error"
	TypeUsage         FrameType = "usage"
)

// Gateway <-> Agent frame types.
const (
	TypeSessionInit   FrameType = "session_init"
	TypeSessionAck    FrameType = "session_ack"
	TypeSessionEnd    FrameType = "session_end"
	TypeHandoffReq    FrameType = "handoff_request"
	TypeUpdateMemory  FrameType = "update_memory"
)

// Envelope is the common shape every JSON frame is decoded into first; Type
// selects which concrete payload to unmarshal into next.
type Envelope struct {
	Type FrameType `json:"type"`
}

// SelectWorkflow is sent client -> gateway, pre-session-init only.
type SelectWorkflow struct {
	Type       FrameType `json:"type"`
	WorkflowID string    `json:"workflowId"`
}

// UserInput is sent client -> gateway (and forwarded gateway -> agent).
type UserInput struct {
	Type FrameType `json:"type"`
	Text string    `json:"text"`
}

// EndAudio marks the end of a client audio utterance.
type EndAudio struct {
	Type FrameType `json:"type"`
}

// Ping is a client keepalive.
type Ping struct {
	Type FrameType `json:"type"`
	TS   int64     `json:"ts"`
}

// Connected is sent gateway -> client once a session is accepted.
type Connected struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// Transcript is a rolling transcript frame gateway -> client.
type Transcript struct {
	Type  FrameType `json:"type"`
	Role  string    `json:"role"`
	Text  string    `json:"text"`
	Final bool      `json:"final"`
}

// WorkflowUpdate reports the current workflow node gateway -> client.
type WorkflowUpdate struct {
	Type            FrameType `json:"type"`
	CurrentNodeID   string    `json:"currentNodeId"`
	NodeType        string    `json:"nodeType"`
	NextNodes       []string  `json:"nextNodes"`
	ValidTransition bool      `json:"validTransition"`
}

// ToolUse reports an invoked tool call gateway -> client.
type ToolUse struct {
	Type       FrameType       `json:"type"`
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Arguments  json.RawMessage `json:"arguments"`
}

// DecisionMade reports a resolved decision node gateway -> client.
type DecisionMade struct {
	Type      FrameType `json:"type"`
	NodeID    string    `json:"nodeId"`
	ChosenEdge string   `json:"chosenEdge"`
	Reasoning string    `json:"reasoning"`
}

// Handoff reports a completed handoff gateway -> client.
type Handoff struct {
	Type         FrameType `json:"type"`
	FromAgentID  string    `json:"fromAgentId"`
	ToAgentID    string    `json:"toAgentId"`
	Reason       string    `json:"reason"`
	IsReturn     bool      `json:"isReturn"`
}

// Error surfaces a fatal or non-fatal error gateway -> client.
type Error struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
}

// Usage reports periodic token/audio usage gateway -> client.
type Usage struct {
	Type        FrameType `json:"type"`
	InputTokens int       `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
	AudioMs     int       `json:"audioMs"`
}

// MemorySnapshot is the wire shape of memory.Session carried in
// session_init and handoff_request frames. It is a plain data transfer
// shape; memory.Session is the authoritative in-process type.
type MemorySnapshot struct {
	Verified      bool            `json:"verified"`
	VerifiedUser  *VerifiedUser   `json:"verifiedUser,omitempty"`
	UserIntent    string          `json:"userIntent,omitempty"`
	CurrentAgentID string         `json:"currentAgentId,omitempty"`
	TaskSummary   string          `json:"taskSummary,omitempty"`
	HandoffInFlight bool          `json:"handoffInFlight"`
}

// VerifiedUser is the wire shape of a verified customer record.
type VerifiedUser struct {
	CustomerName string `json:"customerName"`
	AccountID    string `json:"accountId"`
	SortCode     string `json:"sortCode"`
	VerifiedAt   string `json:"verifiedAt"`
}

// SessionInit is sent gateway -> agent to start or resume an agent-side
// session for a client.
type SessionInit struct {
	Type           FrameType      `json:"type"`
	SessionID      string         `json:"sessionId"`
	InheritedMemory MemorySnapshot `json:"inheritedMemory"`
	TraceID        string         `json:"traceId"`
}

// SessionAck is sent agent -> gateway once the agent has opened its S2S
// session and is ready to receive client frames.
type SessionAck struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
}

// SessionEnd is sent gateway -> agent to tear down an agent-side session.
type SessionEnd struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// HandoffRequest is sent agent -> gateway to request a handoff.
type HandoffRequest struct {
	Type            FrameType      `json:"type"`
	TargetAgentID   string         `json:"targetAgentId"`
	Reason          string         `json:"reason,omitempty"`
	IsReturn        bool           `json:"isReturn"`
	TaskCompleted   string         `json:"taskCompleted,omitempty"`
	InheritedMemory MemorySnapshot `json:"inheritedMemory"`
}

// UpdateMemory is sent agent -> gateway as a partial SessionMemory patch.
type UpdateMemory struct {
	Type         FrameType     `json:"type"`
	VerifiedUser *VerifiedUser `json:"verifiedUser,omitempty"`
	UserIntent   *string       `json:"userIntent,omitempty"`
	TaskSummary  *string       `json:"taskSummary,omitempty"`
}

// DecodeEnvelope extracts just the Type discriminator from a raw JSON text
// frame so the caller can dispatch to the right concrete type.
func DecodeEnvelope(raw []byte) (FrameType, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("protocol: missing frame type")
	}
	return env.Type, nil
}

// PadPCM enforces the binary audio convention of §6: payload length must be
// a multiple of 2 bytes; an odd trailing byte is padded with one zero byte.
// The input is never mutated; PadPCM returns either the original slice (even
// length) or a new slice with one appended zero byte.
func PadPCM(frame []byte) []byte {
	if len(frame)%2 == 0 {
		return frame
	}
	padded := make([]byte, len(frame)+1)
	copy(padded, frame)
	return padded
}
