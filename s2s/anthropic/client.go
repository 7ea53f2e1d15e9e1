// Package anthropic adapts the abstract s2s.Client capability onto the
// Anthropic Claude Messages streaming API using
// github.com/anthropics/anthropic-sdk-go. Claude's public API is
// text/tool-call native, not audio-native, so this adapter implements the
// voice-agnostic parts of s2s.Client (text, tool calls) and returns a typed
// error from SendUserAudio; voice deployments pair this with an upstream
// ASR bridge (out of this core's scope, spec §1) or use s2s/openairealtime
// instead.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/voxgate/voxgate/s2s"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	Model     string
	MaxTokens int
}

// Client implements s2s.Client on top of Anthropic Claude Messages. Because
// the Messages API is request/response rather than a persistent duplex
// session, Client accumulates conversation turns internally and issues one
// Messages.New call per SendUserText, emulating a long-lived session the
// way spec §4.5 requires of Open/SendUserText/Close.
type Client struct {
	msg     MessagesClient
	model   string
	maxTok  int64

	mu       sync.Mutex
	messages []sdk.MessageParam
	tools    []sdk.ToolUnionParam
	toolsByName map[string]struct{}
	system   string
	onEvent  s2s.EventHandler
	closed   bool
}

// New builds a Client from an Anthropic Messages client and Options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	maxTok := int64(opts.MaxTokens)
	if maxTok <= 0 {
		maxTok = 1024
	}
	return &Client{msg: msg, model: opts.Model, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client authenticated with apiKey; an empty apiKey is an error.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{Model: model})
}

// Open implements s2s.Client.
func (c *Client) Open(_ context.Context, systemPrompt string, toolSpecs []s2s.ToolSpec, _ string, onEvent s2s.EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.system = systemPrompt
	c.onEvent = onEvent
	c.toolsByName = make(map[string]struct{}, len(toolSpecs))
	c.tools = make([]sdk.ToolUnionParam, 0, len(toolSpecs))
	for _, t := range toolSpecs {
		schema, err := decodeSchema(t.Schema)
		if err != nil {
			return fmt.Errorf("anthropic: tool %q schema: %w", t.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		c.tools = append(c.tools, u)
		c.toolsByName[t.Name] = struct{}{}
	}
	return nil
}

func decodeSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// SendUserText implements s2s.Client: appends the utterance, issues one
// Messages.New call, and emits the resulting AssistantText/ToolCall events.
func (c *Client) SendUserText(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("anthropic: session closed")
	}
	c.messages = append(c.messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTok,
		Messages:  append([]sdk.MessageParam(nil), c.messages...),
	}
	if c.system != "" {
		params.System = []sdk.TextBlockParam{{Text: c.system}}
	}
	if len(c.tools) > 0 {
		params.Tools = c.tools
	}
	onEvent := c.onEvent
	c.mu.Unlock()

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		onEvent(ctx, s2s.Event{Kind: s2s.EventError, Err: err, Fatal: false})
		return err
	}

	c.mu.Lock()
	c.messages = append(c.messages, sdk.NewAssistantMessage(contentBlocksFrom(msg)...))
	c.mu.Unlock()

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				onEvent(ctx, s2s.Event{Kind: s2s.EventAssistantText, Text: block.Text, Final: true})
			}
		case "tool_use":
			onEvent(ctx, s2s.Event{Kind: s2s.EventToolCall, ToolName: block.Name, ToolCallID: block.ID, Arguments: block.Input})
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		onEvent(ctx, s2s.Event{Kind: s2s.EventUsageReport, InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)})
	}
	return nil
}

func contentBlocksFrom(msg *sdk.Message) []sdk.ContentBlockParamUnion {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, sdk.NewTextBlock(b.Text))
		case "tool_use":
			blocks = append(blocks, sdk.NewToolUseBlock(b.ID, b.Input, b.Name))
		}
	}
	return blocks
}

// SendUserAudio implements s2s.Client. The Anthropic Messages API does not
// accept raw PCM audio; voice deployments should use s2s/openairealtime or
// front this adapter with an external ASR bridge that calls SendUserText.
func (c *Client) SendUserAudio(context.Context, []byte) error {
	return fmt.Errorf("anthropic: audio input is not supported by this adapter")
}

// SendToolResult implements s2s.Client: appends the tool result to the
// conversation so the next SendUserText call includes it.
func (c *Client) SendToolResult(_ context.Context, callID string, success bool, payload json.RawMessage, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	content := string(payload)
	if !success {
		content = errMsg
	}
	c.messages = append(c.messages, sdk.NewUserMessage(sdk.NewToolResultBlock(callID, content, !success)))
	return nil
}

// Close implements s2s.Client.
func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
