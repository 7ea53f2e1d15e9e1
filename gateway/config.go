package gateway

import "time"

// Config tunes the lifecycle timeouts and bounds spec §5 leaves as
// "recommended" values, each overridable from the environment variables of
// spec §6 (MODE is read by cmd/agent, not here; the rest are read by
// cmd/gateway and passed in via Config).
type Config struct {
	// SelectWorkflowTimeout bounds how long Accept waits for a
	// select_workflow frame before falling back to the routing agent.
	SelectWorkflowTimeout time.Duration

	// SessionAckTimeout bounds how long a dial waits for session_ack
	// before the dial is considered failed.
	SessionAckTimeout time.Duration

	// HandoffBufferMaxFrames bounds the client-frame buffer accumulated
	// during a handoff (HANDOFF_BUFFER_MAX_FRAMES); overflow aborts the
	// handoff (spec §5).
	HandoffBufferMaxFrames int

	// HandoffBufferMaxBytes bounds the same buffer by total audio bytes
	// (spec §5, recommended 2 MB).
	HandoffBufferMaxBytes int

	// MemoryGracePeriod is how long SessionMemory survives a client
	// disconnect before deletion, to tolerate reconnect (spec §4.7,
	// recommended 30s).
	MemoryGracePeriod time.Duration

	// MaxSessionErrors and ErrorWindow parameterize the per-session
	// circuit breaker (spec §5).
	MaxSessionErrors int
	ErrorWindow      time.Duration
}

// DefaultConfig returns the recommended values from spec §5/§6.
func DefaultConfig() Config {
	return Config{
		SelectWorkflowTimeout:  5 * time.Second,
		SessionAckTimeout:      5 * time.Second,
		HandoffBufferMaxFrames: 256,
		HandoffBufferMaxBytes:  2 * 1024 * 1024,
		MemoryGracePeriod:      30 * time.Second,
		MaxSessionErrors:       5,
		ErrorWindow:            10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SelectWorkflowTimeout <= 0 {
		c.SelectWorkflowTimeout = d.SelectWorkflowTimeout
	}
	if c.SessionAckTimeout <= 0 {
		c.SessionAckTimeout = d.SessionAckTimeout
	}
	if c.HandoffBufferMaxFrames <= 0 {
		c.HandoffBufferMaxFrames = d.HandoffBufferMaxFrames
	}
	if c.HandoffBufferMaxBytes <= 0 {
		c.HandoffBufferMaxBytes = d.HandoffBufferMaxBytes
	}
	if c.MemoryGracePeriod <= 0 {
		c.MemoryGracePeriod = d.MemoryGracePeriod
	}
	if c.MaxSessionErrors <= 0 {
		c.MaxSessionErrors = d.MaxSessionErrors
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = d.ErrorWindow
	}
	return c
}
