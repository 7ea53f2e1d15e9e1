// Package s2s defines the abstract speech-to-speech model capability
// (S2SClient, spec §4.5) that Agent Core drives. The generative model
// itself is out of scope (spec §1); this package only specifies the
// interface the core consumes. Concrete adapters live in subpackages
// (s2s/anthropic, s2s/openairealtime).
package s2s

import (
	"context"
	"encoding/json"
)

// ToolSpec describes one tool the model may call, filtered by the calling
// agent's declared tool scopes plus handoff tools (spec §4.5).
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// EventKind discriminates the events a Client delivers to its onEvent
// callback.
type EventKind string

const (
	EventAssistantText  EventKind = "AssistantText"
	EventAssistantAudio EventKind = "AssistantAudio"
	EventToolCall       EventKind = "ToolCall"
	EventUsageReport    EventKind = "UsageReport"
	EventInterruption   EventKind = "Interruption"
	EventError          EventKind = "Error"
)

// Event is the union of everything a Client may deliver to onEvent.
type Event struct {
	Kind EventKind

	// AssistantText / AssistantAudio
	Text  string
	Audio []byte
	Final bool

	// ToolCall
	ToolName   string
	ToolCallID string
	Arguments  json.RawMessage

	// UsageReport
	InputTokens  int
	OutputTokens int
	AudioMs      int

	// Error
	Err   error
	Fatal bool
}

// EventHandler receives events from an open Client session.
type EventHandler func(ctx context.Context, evt Event)

// Client is the abstract S2S session capability spec §4.5 requires. One
// Client instance corresponds to one live model session for one connected
// user.
type Client interface {
	// Open starts the model session with the given system prompt, tool
	// catalog, and voice preset, delivering subsequent events to onEvent.
	Open(ctx context.Context, systemPrompt string, tools []ToolSpec, voicePreset string, onEvent EventHandler) error

	// SendUserText forwards a text utterance to the model.
	SendUserText(ctx context.Context, text string) error

	// SendUserAudio forwards a PCM audio frame to the model.
	SendUserAudio(ctx context.Context, frame []byte) error

	// SendToolResult reports the outcome of a tool call the model issued.
	SendToolResult(ctx context.Context, callID string, success bool, payload json.RawMessage, errMsg string) error

	// Close ends the model session and releases its resources.
	Close(ctx context.Context) error
}
