// Package openairealtime adapts the abstract s2s.Client capability onto
// OpenAI's Realtime API: a persistent WebSocket session exchanging JSON
// events, with audio carried as base64-encoded PCM16. Unlike s2s/anthropic
// this adapter is audio-native, so it is the reference implementation for
// voice deployments (spec §4.5).
package openairealtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voxgate/voxgate/s2s"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Options configures the Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Voice   string
}

// Client implements s2s.Client over one OpenAI Realtime WebSocket
// connection.
type Client struct {
	opts Options
	dial func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

	mu      sync.Mutex
	conn    *websocket.Conn
	onEvent s2s.EventHandler
	closed  bool

	txMu   sync.Mutex
	txText string
}

// New builds a Client. A nil dial func uses websocket.DefaultDialer.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openairealtime: api key is required")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	return &Client{
		opts: opts,
		dial: func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			return conn, err
		},
	}, nil
}

// ── outgoing protocol messages ──────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string    `json:"voice,omitempty"`
	Instructions      string    `json:"instructions,omitempty"`
	Tools             []oaiTool `json:"tools,omitempty"`
	InputAudioFormat  string    `json:"input_audio_format"`
	OutputAudioFormat string    `json:"output_audio_format"`
}

type oaiTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── incoming protocol messages ──────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	Delta string `json:"delta,omitempty"`

	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Usage *serverUsage `json:"usage,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type serverErrorDetail struct {
	Message string `json:"message"`
}

// Open implements s2s.Client: dials the Realtime endpoint and sends the
// initial session.update configuring instructions, tools, and audio
// formats.
func (c *Client) Open(ctx context.Context, systemPrompt string, toolSpecs []s2s.ToolSpec, voicePreset string, onEvent s2s.EventHandler) error {
	url := fmt.Sprintf("%s?model=%s", c.opts.BaseURL, c.opts.Model)
	header := http.Header{
		"Authorization": []string{"Bearer " + c.opts.APIKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}
	conn, err := c.dial(ctx, url, header)
	if err != nil {
		return fmt.Errorf("openairealtime: dial: %w", err)
	}

	voice := voicePreset
	if voice == "" {
		voice = c.opts.Voice
	}
	params := sessionParams{
		Voice:             voice,
		Instructions:      systemPrompt,
		Tools:             toOAITools(toolSpecs),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}

	c.mu.Lock()
	c.conn = conn
	c.onEvent = onEvent
	c.closed = false
	c.mu.Unlock()

	if err := c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		conn.Close()
		return fmt.Errorf("openairealtime: session update: %w", err)
	}

	go c.receiveLoop(ctx)
	return nil
}

func toOAITools(specs []s2s.ToolSpec) []oaiTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]oaiTool, len(specs))
	for i, t := range specs {
		out[i] = oaiTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Schema}
	}
	return out
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("openairealtime: not open")
	}
	return conn.WriteJSON(v)
}

// receiveLoop reads server events until the connection closes or ctx is
// canceled, translating each into an s2s.Event delivered to onEvent.
func (c *Client) receiveLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var evt serverEvent
		if err := conn.ReadJSON(&evt); err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.mu.Unlock()
			if !alreadyClosed {
				c.emit(ctx, s2s.Event{Kind: s2s.EventError, Err: err, Fatal: true})
			}
			return
		}
		c.handleServerEvent(ctx, &evt)
	}
}

func (c *Client) emit(ctx context.Context, evt s2s.Event) {
	c.mu.Lock()
	handler := c.onEvent
	c.mu.Unlock()
	if handler != nil {
		handler(ctx, evt)
	}
}

func (c *Client) handleServerEvent(ctx context.Context, evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return
		}
		c.emit(ctx, s2s.Event{Kind: s2s.EventAssistantAudio, Audio: audio})

	case "response.audio_transcript.delta":
		c.txMu.Lock()
		c.txText += evt.Delta
		c.txMu.Unlock()

	case "response.audio_transcript.done":
		c.txMu.Lock()
		text := c.txText
		c.txText = ""
		c.txMu.Unlock()
		if text != "" {
			c.emit(ctx, s2s.Event{Kind: s2s.EventAssistantText, Text: text, Final: true})
		}

	case "response.function_call_arguments.done":
		c.emit(ctx, s2s.Event{
			Kind:       s2s.EventToolCall,
			ToolName:   evt.Name,
			ToolCallID: evt.CallID,
			Arguments:  json.RawMessage(evt.Arguments),
		})

	case "response.done":
		if evt.Usage != nil {
			c.emit(ctx, s2s.Event{Kind: s2s.EventUsageReport, InputTokens: evt.Usage.InputTokens, OutputTokens: evt.Usage.OutputTokens})
		}

	case "input_audio_buffer.speech_started":
		c.emit(ctx, s2s.Event{Kind: s2s.EventInterruption})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.emit(ctx, s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("openairealtime: %s", msg), Fatal: false})
	}
}

// SendUserText implements s2s.Client.
func (c *Client) SendUserText(_ context.Context, text string) error {
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "message", Output: text},
	})
}

// SendUserAudio implements s2s.Client: appends a PCM16 frame to the
// server-side input audio buffer.
func (c *Client) SendUserAudio(_ context.Context, frame []byte) error {
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// SendToolResult implements s2s.Client.
func (c *Client) SendToolResult(_ context.Context, callID string, success bool, payload json.RawMessage, errMsg string) error {
	output := string(payload)
	if !success {
		output = fmt.Sprintf(`{"error":%q}`, errMsg)
	}
	if err := c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: callID, Output: output},
	}); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// Close implements s2s.Client. Idempotent.
func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
